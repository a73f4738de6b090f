package core

import (
	"encoding/json"
	"math"
	"testing"
)

func TestCoerceAmount(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"-150.00", -15000, true},
		{"-45,30", -4530, true},
		{"+7.5", 750, true},
		{"0.01", 1, true},
		{"0", 0, true},
		{".5", 50, true},
		{"1.005", 101, true}, // half away from zero
		{"-1.005", -101, true},
		{" 2.50 ", 250, true},
		{"1.234,56", 123456, true},
		{"1,234.56", 123456, true},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"12a", 0, false},
		{"-", 0, false},
		{".", 0, false},
		{"", 0, false},
		{"NaN", 0, false},
		{"١٢", 0, false}, // non-ASCII digits
	}
	for _, tc := range cases {
		got, err := CoerceAmount(tc.in)
		if tc.ok {
			if err != nil || got.Cents != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got.Cents, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error, got %d", tc.in, got.Cents)
		}
	}
}

func TestParseAmountValue(t *testing.T) {
	cases := []struct {
		name string
		in   any
		out  int64
		ok   bool
	}{
		{"float", 45.3, 4530, true},
		{"negative float", -150.0, -15000, true},
		{"numeric string comma", "45,30", 4530, true},
		{"json number", json.Number("12.34"), 1234, true},
		{"nan", math.NaN(), 0, false},
		{"inf", math.Inf(1), 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
		{"text", "quarenta", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAmountValue(tc.in)
			if tc.ok && (err != nil || got.Cents != tc.out) {
				t.Fatalf("expected %d, got %d (err=%v)", tc.out, got.Cents, err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error, got %d", got.Cents)
			}
		})
	}
}

func TestMoneyString(t *testing.T) {
	cases := map[int64]string{
		0:      "0.00",
		5:      "0.05",
		4530:   "45.30",
		-15000: "-150.00",
		123456: "1234.56",
	}
	for cents, want := range cases {
		if got := (Money{Cents: cents}).String(); got != want {
			t.Fatalf("Money{%d}.String() = %q, want %q", cents, got, want)
		}
	}
}

func TestMoneyAbs(t *testing.T) {
	if got := (Money{Cents: -4530}).Abs(); got.Cents != 4530 {
		t.Fatalf("expected 4530, got %d", got.Cents)
	}
	if got := (Money{Cents: 4530}).Abs(); got.Cents != 4530 {
		t.Fatalf("expected 4530, got %d", got.Cents)
	}
	if !(Money{Cents: -1}).IsNegative() || (Money{Cents: 0}).IsNegative() {
		t.Fatal("IsNegative mismatch")
	}
}
