package core

import (
	"strings"
	"testing"
)

func TestNormalizeMerchant(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Posto Shell", "posto shell"},
		{"  PADARIA   São  João  ", "padaria sao joao"},
		{"Açaí & Cia.", "acai cia"},
		{"IFD*IFOOD.COM AGENCIA", "ifdifoodcom agencia"},
		{"Uber\tTrip\nHelp", "uber trip help"},
		{"***", ""},
		{"Farmácia Pague Menos 123", "farmacia pague menos 123"},
	}
	for _, tc := range cases {
		if got := NormalizeMerchant(tc.in); got != tc.want {
			t.Fatalf("NormalizeMerchant(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeMerchantTruncates(t *testing.T) {
	got := NormalizeMerchant(strings.Repeat("é", 80))
	if n := len([]rune(got)); n != MaxMerchantKeyLength {
		t.Fatalf("expected %d runes, got %d", MaxMerchantKeyLength, n)
	}
	if strings.ContainsRune(got, 'é') {
		t.Fatalf("diacritics not stripped: %q", got)
	}
}

func TestNormalizeMerchantIsIdempotent(t *testing.T) {
	for _, in := range []string{"Posto Shell", "Açaí & Cia.", "  MERCADO   livre  "} {
		once := NormalizeMerchant(in)
		if twice := NormalizeMerchant(once); twice != once {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}
