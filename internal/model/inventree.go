package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ==================== Collections ====================

// Collection names a backend entity set.
type Collection string

const (
	CollectionParts             Collection = "parts"
	CollectionCategories        Collection = "categories"
	CollectionCompanies         Collection = "companies"
	CollectionSupplierParts     Collection = "supplier-parts"
	CollectionManufacturerParts Collection = "manufacturer-parts"
	CollectionPriceBreaks       Collection = "price-breaks"
	CollectionBomItems          Collection = "bom-items"
	CollectionRelatedParts      Collection = "related-parts"
)

// ==================== Records ====================

// Record is one backend object as returned by create or list.
// Handles to parts, categories and companies are the int64 primary keys
// read through ID and Int; nothing here performs I/O.
type Record map[string]any

// ID returns the record's primary key, or 0 when absent.
func (r Record) ID() int64 {
	if id := r.Int("pk"); id != 0 {
		return id
	}
	return r.Int("id")
}

// Int returns an integer field. JSON numbers, numeric strings and Go ints are accepted;
// null or anything else yields 0.
func (r Record) Int(key string) int64 {
	return toInt64(r[key])
}

// String returns a string field, formatting scalars when needed.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns a boolean field.
func (r Record) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i
		}
	}
	return 0
}
