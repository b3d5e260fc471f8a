package service

import (
	"regexp"
	"strings"
)

var (
	slashSpacingRe = regexp.MustCompile(`\s*/\s*`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	packageRe      = regexp.MustCompile(`^(?:C|R|L)_(\w+?)_`)
)

// nameRule builds a part name from the normalised value and footprint package.
type nameRule func(value, pkg string) string

var nameRules = map[string]nameRule{
	"R":           func(v, pkg string) string { return "R " + v + " " + pkg },
	"C":           func(v, pkg string) string { return "C " + v + " " + pkg },
	"C_Polarized": func(v, _ string) string { return "CP " + v },
	"L":           func(v, _ string) string { return "L " + v },
	"L_Iron":      func(v, _ string) string { return "L " + v },
	"Crystal":     func(v, _ string) string { return "XTAL " + v },
}

// GeneratePartName derives the canonical part name from KiCad fields.
//
//	R, "10k", "R_0805_2012Metric"        → "R 10k 0805"
//	C_Polarized, "100u / 25V", ...       → "CP 100u/25V"
//	Crystal, "8MHz / 20pF", ...          → "XTAL 8MHz/20pF"
//	STM32U575CITx, "STM32U575CITx", ...  → "STM32U575CITx"
func GeneratePartName(family, value, footprint string) string {
	v := NormalizeValue(value)
	rule, ok := nameRules[family]
	if !ok {
		return v
	}
	return strings.TrimSpace(rule(v, ExtractPackage(footprint)))
}

// NormalizeValue collapses "a / b" to "a/b" and runs of whitespace to one space.
func NormalizeValue(value string) string {
	v := slashSpacingRe.ReplaceAllString(strings.TrimSpace(value), "/")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(v, " "))
}

// ExtractPackage returns the package code of a KiCad footprint name:
// "C_0805_2012Metric" → "0805", "SOT-23" → "SOT-23", "SOIC-8_3.9x4.9mm" → "SOIC-8".
func ExtractPackage(footprint string) string {
	if m := packageRe.FindStringSubmatch(footprint); m != nil {
		return m[1]
	}
	pkg, _, _ := strings.Cut(footprint, "_")
	return pkg
}
