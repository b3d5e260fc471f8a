package model

// BomEntry is one row of the KiCad BOM CSV.
type BomEntry struct {
	Reference      string
	Qty            int
	KicadPart      string
	KicadValue     string
	KicadFootprint string
	LCSC           []string
	Mouser         []string

	// PartIDs holds the backend parts this line resolved to. Only the
	// resolution pipeline appends to it.
	PartIDs []int64
}

// HasSKUs reports whether the line names any supplier SKU.
func (e *BomEntry) HasSKUs() bool {
	return len(e.LCSC) > 0 || len(e.Mouser) > 0
}

// Resolved reports whether at least one backend part is attached.
func (e *BomEntry) Resolved() bool {
	return len(e.PartIDs) > 0
}

// PrimaryLCSC returns the first LCSC SKU, or "".
func (e *BomEntry) PrimaryLCSC() string {
	if len(e.LCSC) == 0 {
		return ""
	}
	return e.LCSC[0]
}

// PrimaryMouser returns the first Mouser SKU, or "".
func (e *BomEntry) PrimaryMouser() string {
	if len(e.Mouser) == 0 {
		return ""
	}
	return e.Mouser[0]
}

// AllSKUs returns LCSC SKUs followed by Mouser SKUs.
func (e *BomEntry) AllSKUs() []string {
	skus := make([]string, 0, len(e.LCSC)+len(e.Mouser))
	skus = append(skus, e.LCSC...)
	return append(skus, e.Mouser...)
}
