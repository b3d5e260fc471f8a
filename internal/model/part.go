package model

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ==================== Suppliers ====================

// Supplier identifies one of the two catalog namespaces a SKU belongs to.
type Supplier string

const (
	SupplierLCSC   Supplier = "LCSC"
	SupplierMouser Supplier = "Mouser"
)

// Suppliers lists the namespaces in priority order (primary first).
var Suppliers = []Supplier{SupplierLCSC, SupplierMouser}

// DefaultCurrency is assumed when a catalog does not report one.
const DefaultCurrency = "EUR"

// ==================== Catalog data ====================

// PartData is the normalised record a catalog fetcher returns for one SKU.
// It only lives for the duration of a run and drives creation of the backend part.
type PartData struct {
	MPN          string
	Manufacturer string
	Description  string
	ImageURL     string
	DatasheetURL string
	LCSCSKU      string
	MouserSKU    string

	// CategoryPath is the supplier's own suggestion, root first. May be empty.
	CategoryPath []string
	Parameters   map[string]string

	// PriceBreaks maps minimum order quantity to unit price.
	PriceBreaks map[int]decimal.Decimal
	Currency    string
	// PriceSource records which catalog the ladder came from.
	PriceSource Supplier

	Package string
}

// Valid reports whether the record identifies anything at all.
func (p *PartData) Valid() bool {
	if p == nil {
		return false
	}
	return p.MPN != "" || p.LCSCSKU != "" || p.MouserSKU != ""
}

// SKU returns the SKU stamped for the given supplier.
func (p *PartData) SKU(s Supplier) string {
	switch s {
	case SupplierLCSC:
		return p.LCSCSKU
	case SupplierMouser:
		return p.MouserSKU
	}
	return ""
}

// Clone returns a deep copy so merges never alias a fetcher's result.
func (p *PartData) Clone() *PartData {
	if p == nil {
		return nil
	}
	c := *p
	if p.CategoryPath != nil {
		c.CategoryPath = append([]string(nil), p.CategoryPath...)
	}
	if p.Parameters != nil {
		c.Parameters = make(map[string]string, len(p.Parameters))
		for k, v := range p.Parameters {
			c.Parameters[k] = v
		}
	}
	if p.PriceBreaks != nil {
		c.PriceBreaks = make(map[int]decimal.Decimal, len(p.PriceBreaks))
		for k, v := range p.PriceBreaks {
			c.PriceBreaks[k] = v
		}
	}
	return &c
}

// PriceBreak is one row of a price ladder.
type PriceBreak struct {
	Quantity int
	Price    decimal.Decimal
}

// SortedPriceBreaks returns the ladder in ascending quantity order.
func (p *PartData) SortedPriceBreaks() []PriceBreak {
	rows := make([]PriceBreak, 0, len(p.PriceBreaks))
	for qty, price := range p.PriceBreaks {
		rows = append(rows, PriceBreak{Quantity: qty, Price: price})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Quantity < rows[j].Quantity })
	return rows
}
