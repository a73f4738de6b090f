package core

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxMerchantKeyLength is the rune length of a normalized merchant.
const MaxMerchantKeyLength = 50

// NormalizeMerchant folds a raw merchant string into the key used for
// fingerprints and category lookups: lower case, no diacritics, only letters,
// digits and single spaces, at most MaxMerchantKeyLength runes.
func NormalizeMerchant(raw string) string {
	if raw == "" {
		return ""
	}

	// Transformers keep state, build them per call.
	lower := cases.Lower(language.Und).String(raw)
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), lower)
	if err != nil {
		stripped = lower
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}

	collapsed := strings.Join(strings.Fields(b.String()), " ")

	if rs := []rune(collapsed); len(rs) > MaxMerchantKeyLength {
		return string(rs[:MaxMerchantKeyLength])
	}
	return collapsed
}
