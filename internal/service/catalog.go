package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"inventree_bom_sync/internal/model"
)

// ==================== Interfaces ====================

// SKUFetcher looks a part up by the supplier's own SKU.
// A miss, a transport failure and a malformed payload all return (nil, false).
type SKUFetcher interface {
	FetchBySKU(ctx context.Context, sku string) (*model.PartData, bool)
}

// PartNumberFetcher additionally supports fuzzy search by manufacturer part number.
type PartNumberFetcher interface {
	SKUFetcher
	FetchByPartNumber(ctx context.Context, mpn string) (*model.PartData, bool)
}

// ==================== Errors ====================

var (
	ErrMissingMouserAPIKey = errors.New("MOUSER_API_KEY is not set")
	ErrInvalidPrice        = errors.New("invalid price")
)

// ==================== Parsing helpers ====================

var (
	priceJunkRe    = regexp.MustCompile(`[^\d,.]`)
	htmlTagRe      = regexp.MustCompile(`<[^>]+>`)
	mouserPrefixRe = regexp.MustCompile(`^\d+-(.+)$`)
)

// ParsePrice parses a catalog price string such as "€ 7,07", "$ 1,234.56" or "0.1234".
// Currency symbols and whitespace are ignored; whichever of ',' and '.' appears
// rightmost is the decimal separator and the other is a thousands separator.
func ParsePrice(s string) (decimal.Decimal, error) {
	cleaned := priceJunkRe.ReplaceAllString(strings.TrimSpace(s), "")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	if lastComma > lastDot {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	return price, nil
}

// StripHTML removes markup and entities from catalog text.
func StripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(htmlTagRe.ReplaceAllString(s, "")))
}

// StripMouserPrefix recovers the MPN from a Mouser SKU by dropping the numeric
// distributor prefix: "595-LMR51430XDDCR" → "LMR51430XDDCR". Unprefixed SKUs are
// returned unchanged.
func StripMouserPrefix(sku string) string {
	if m := mouserPrefixRe.FindStringSubmatch(sku); m != nil {
		return m[1]
	}
	return sku
}

// scalarText renders a raw JSON scalar as text: strings are unquoted, numbers
// kept verbatim, null and non-scalars yield "". Price rows keep their fields raw
// so one odd row is skipped instead of failing the whole payload.
func scalarText(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	switch {
	case s == "" || s == "null":
		return ""
	case strings.HasPrefix(s, `"`):
		var out string
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return ""
		}
		return strings.TrimSpace(out)
	case strings.HasPrefix(s, "{") || strings.HasPrefix(s, "["):
		return ""
	}
	return s
}

// scalarQuantity parses a raw JSON quantity; it must be a positive integer.
func scalarQuantity(raw json.RawMessage) (int, error) {
	qty, err := strconv.Atoi(scalarText(raw))
	if err != nil {
		return 0, err
	}
	if qty <= 0 {
		return 0, fmt.Errorf("quantity %d out of range", qty)
	}
	return qty, nil
}
