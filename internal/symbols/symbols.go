// Package symbols canonicalizes loosely formatted instrument names into
// exchange-ready trading symbols.
package symbols

import (
	"net/url"
	"regexp"
	"strings"
)

// EquitySuffix marks the cash equity segment.
const EquitySuffix = "-EQ"

var overrides = map[string]string{
	"m&m":           "M&M",
	"l&t":           "LT",
	"dr_reddy":      "DRREDDY",
	"asian_paints":  "ASIANPAINT",
	"bharti_airtel": "BHARTIARTL",
	"bajaj_finserv": "BAJAJFINSV",
	"bajaj_auto":    "BAJAJ-AUTO",
}

var (
	separators  = regexp.MustCompile(`[_\s]+`)
	venueSuffix = regexp.MustCompile(`-(eq|nse|bse)$`)
)

// Normalize returns the canonical trading symbol for raw. It never fails:
// unknown names fall through to the generic transformation.
func Normalize(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	if s, ok := overrides[cleaned]; ok {
		return s
	}

	converted := separators.ReplaceAllString(cleaned, "-")
	converted = venueSuffix.ReplaceAllString(converted, "")
	converted = strings.ToUpper(converted)

	// BAJAJ-AUTO would otherwise collide with the BAJAJ prefix family.
	if strings.Contains(converted, "AUTO") && strings.Contains(converted, "BAJAJ") {
		converted = "BAJAJ-AUTO"
	}
	return converted
}

// ToAPISymbol normalizes raw, appends the equity suffix when absent and
// percent-encodes the result with no safe characters.
func ToAPISymbol(raw string) string {
	s := Normalize(raw)
	if !strings.HasSuffix(s, EquitySuffix) {
		s += EquitySuffix
	}
	return escape(s)
}

// FromAPISymbol reverses ToAPISymbol: it unescapes and strips the equity suffix.
func FromAPISymbol(api string) string {
	s, err := url.PathUnescape(api)
	if err != nil {
		s = api
	}
	return strings.TrimSuffix(s, EquitySuffix)
}

// escape percent-encodes everything outside the unreserved set, spaces as %20.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
