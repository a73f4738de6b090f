// Package categorize assigns categories to normalized merchant names using a
// table of merchant mappings. Matching is deterministic and runs in three
// tiers of decreasing strictness: exact, substring, token.
package categorize

import (
	"sort"
	"strings"
	"unicode/utf8"

	"orcamento/internal/core"
)

// Tier identifies which matching rule produced a result.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierSubstring
	TierToken
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierSubstring:
		return "substring"
	case TierToken:
		return "token"
	}
	return "none"
}

// minTokenLength is exclusive: tokens must be longer than this.
const minTokenLength = 2

// Result is the outcome of categorizing one merchant.
type Result struct {
	CategoryID  string
	MerchantKey string // mapping key that matched
	Tier        Tier
	Confidence  core.Confidence
	NeedsReview bool
}

// Matched reports whether a mapping was found.
func (r Result) Matched() bool {
	return r.Tier != TierNone
}

// Table is an ordered, read-only set of merchant mappings. Household-scoped
// mappings come first, then global ones; within each scope higher usage
// counts come first and ties are broken by key.
type Table struct {
	mappings []core.MerchantMapping
}

// NewTable orders mappings for matching. Keys are normalized and mappings
// with an empty key or category are skipped. The input slice is not modified.
func NewTable(mappings []core.MerchantMapping) *Table {
	ordered := make([]core.MerchantMapping, 0, len(mappings))
	for _, m := range mappings {
		m.MerchantKey = core.NormalizeMerchant(m.MerchantKey)
		if m.MerchantKey == "" || m.CategoryID == "" {
			continue
		}
		ordered = append(ordered, m)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Global() != b.Global() {
			return !a.Global()
		}
		if a.UsageCount != b.UsageCount {
			return a.UsageCount > b.UsageCount
		}
		return a.MerchantKey < b.MerchantKey
	})
	return &Table{mappings: ordered}
}

// Len returns the number of usable mappings.
func (t *Table) Len() int {
	return len(t.mappings)
}

// Categorize matches an already normalized merchant against the table.
// The first tier with a match wins; within a tier the first mapping in table
// order wins.
func (t *Table) Categorize(merchantNormalized string) Result {
	if merchantNormalized == "" {
		return unmatched()
	}

	for _, m := range t.mappings {
		if m.MerchantKey == merchantNormalized {
			return matched(m, TierExact)
		}
	}

	for _, m := range t.mappings {
		if strings.Contains(merchantNormalized, m.MerchantKey) || strings.Contains(m.MerchantKey, merchantNormalized) {
			return matched(m, TierSubstring)
		}
	}

	tokens := map[string]struct{}{}
	for _, tok := range strings.Fields(merchantNormalized) {
		if utf8.RuneCountInString(tok) > minTokenLength {
			tokens[tok] = struct{}{}
		}
	}
	if len(tokens) > 0 {
		for _, m := range t.mappings {
			if _, ok := tokens[m.MerchantKey]; ok {
				return matched(m, TierToken)
			}
		}
	}

	return unmatched()
}

// Categorize is a convenience for a single lookup against mappings.
func Categorize(merchantNormalized string, mappings []core.MerchantMapping) Result {
	return NewTable(mappings).Categorize(merchantNormalized)
}

func matched(m core.MerchantMapping, tier Tier) Result {
	return Result{
		CategoryID:  m.CategoryID,
		MerchantKey: m.MerchantKey,
		Tier:        tier,
		Confidence:  core.ConfidenceHigh,
		NeedsReview: false,
	}
}

func unmatched() Result {
	return Result{
		Tier:        TierNone,
		Confidence:  core.ConfidenceLow,
		NeedsReview: true,
	}
}
