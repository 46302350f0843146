// Package normalizers canonicalizes business identifiers before they are
// stored or compared.
package normalizers

import (
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

var registry = map[string]Normalizer{}

func init() {
	Register("uppercase", Uppercase)
	Register("trim", strings.TrimSpace)
	Register("folio", Folio)
	Register("folio_key", FolioKey)
	Register("tax_id", TaxID)
	Register("national_id", NationalID)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer; unknown names leave value untouched.
func Apply(value, name string) string {
	fn, ok := registry[name]
	if !ok {
		return value
	}
	return fn(value)
}

func Uppercase(s string) string {
	return strings.ToUpper(s)
}

// Folio uppercases and keeps only [A-Z0-9_-].
func Folio(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		if r == '-' || r == '_' || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FolioKey is the separator-insensitive form used for uniqueness checks:
// "ab-12" and "AB12" share a key.
func FolioKey(s string) string {
	return strings.NewReplacer("-", "", "_", "").Replace(Folio(s))
}

// TaxID uppercases, trims and drops inner whitespace from an RFC.
func TaxID(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(s)))
}

// NationalID normalizes a CURP the same way as a tax id.
func NationalID(s string) string {
	return TaxID(s)
}
