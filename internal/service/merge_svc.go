package service

import "inventree_bom_sync/internal/model"

// MergePartData combines the LCSC (primary) and Mouser (secondary) records for
// one SKU pair. The primary wins field by field; image, datasheet, price ladder
// and description are taken from the secondary only where the primary has none.
// The result carries exactly the input SKUs, even where a catalog reported a
// different or additional one. Inputs are never modified.
// Returns nil when neither catalog knew the part.
func MergePartData(primary, secondary *model.PartData, lcscSKU, mouserSKU string) *model.PartData {
	var merged *model.PartData
	switch {
	case primary == nil && secondary == nil:
		return nil
	case primary == nil:
		merged = secondary.Clone()
	case secondary == nil:
		merged = primary.Clone()
	default:
		merged = primary.Clone()
		fillFromSecondary(merged, secondary)
	}

	merged.LCSCSKU = lcscSKU
	merged.MouserSKU = mouserSKU
	return merged
}

func fillFromSecondary(dst, src *model.PartData) {
	if dst.ImageURL == "" {
		dst.ImageURL = src.ImageURL
	}
	if dst.DatasheetURL == "" {
		dst.DatasheetURL = src.DatasheetURL
	}
	if len(dst.PriceBreaks) == 0 && len(src.PriceBreaks) > 0 {
		ladder := src.Clone()
		dst.PriceBreaks = ladder.PriceBreaks
		dst.Currency = src.Currency
		dst.PriceSource = src.PriceSource
	}
	if dst.Description == "" {
		dst.Description = src.Description
	}
}
