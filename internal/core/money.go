// Package core provides money parsing and handling utilities.
//
// This file contains functions for coercing monetary amounts found in bank
// statements and model responses into integer cents.
package core

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// CoerceAmount converts a signed decimal string to cents.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. When both
// appear, the right-most one is the decimal separator and the other is treated
// as a thousands separator. Extra fractional digits are rounded half away from
// zero. Non-numeric input returns ErrInvalidAmount.
//
// Examples:
//
//	CoerceAmount("-150.00")   -> -15000, nil
//	CoerceAmount("45,30")     -> 4530, nil
//	CoerceAmount("1.234,56")  -> 123456, nil
//	CoerceAmount("abc")       -> 0, ErrInvalidAmount
func CoerceAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = strings.ReplaceAll(s, ",", ".")
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Money{}, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" && fracPart == "" {
		return Money{}, ErrInvalidAmount
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			return Money{}, ErrInvalidAmount
		}
	}

	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	// Prevent overflow when multiplying by 100
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv >= maxSafeInt64 {
		return Money{}, ErrInvalidAmount
	}

	var fracCents int64
	if len(fracPart) > 0 {
		fracCents = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			fracCents += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}

	cents := iv*100 + fracCents
	if negative {
		cents = -cents
	}
	return Money{Cents: cents}, nil
}

// ParseAmountValue coerces a decoded JSON value (number or numeric string)
// into cents. NaN and infinities are rejected.
func ParseAmountValue(v any) (Money, error) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || math.Abs(t) >= math.MaxInt64/100 {
			return Money{}, ErrInvalidAmount
		}
		return Money{Cents: int64(math.Round(t * 100))}, nil
	case json.Number:
		return CoerceAmount(t.String())
	case string:
		return CoerceAmount(t)
	}
	return Money{}, ErrInvalidAmount
}

// Abs returns the magnitude of m.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

// IsNegative reports whether m is an outflow.
func (m Money) IsNegative() bool {
	return m.Cents < 0
}

// String renders m with exactly two decimals and a dot separator,
// independent of locale.
func (m Money) String() string {
	sign := ""
	c := m.Cents
	if c < 0 {
		sign = "-"
		c = -c
	}
	return sign + strconv.FormatInt(c/100, 10) + "." + twoDigits(c%100)
}

// Reais returns the value as a float64 for display purposes.
// Use cents for calculations to avoid floating-point precision issues.
func (m Money) Reais() float64 {
	return float64(m.Cents) / 100.0
}

func twoDigits(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
