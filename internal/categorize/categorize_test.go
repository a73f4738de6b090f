package categorize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orcamento/internal/core"
)

func mapping(key, category string, usage int) core.MerchantMapping {
	return core.MerchantMapping{MerchantKey: key, CategoryID: category, UsageCount: usage}
}

func TestSubstringTier(t *testing.T) {
	res := Categorize("ifd supermercados", []core.MerchantMapping{
		mapping("ifd", "alimentacao", 5),
		mapping("supermercados", "mercado", 1),
	})
	require.True(t, res.Matched())
	assert.Equal(t, "alimentacao", res.CategoryID)
	assert.Equal(t, TierSubstring, res.Tier)
	assert.Equal(t, core.ConfidenceHigh, res.Confidence)
	assert.False(t, res.NeedsReview)
}

func TestExactTierWins(t *testing.T) {
	mappings := []core.MerchantMapping{
		mapping("posto", "transporte", 100),
		mapping("posto shell", "combustivel", 1),
	}
	res := Categorize("posto shell", mappings)
	assert.Equal(t, "combustivel", res.CategoryID)
	assert.Equal(t, TierExact, res.Tier)
}

func TestSubstringBothDirections(t *testing.T) {
	res := Categorize("uber", []core.MerchantMapping{mapping("uber trip", "transporte", 0)})
	assert.Equal(t, "transporte", res.CategoryID)
	assert.Equal(t, TierSubstring, res.Tier)
}

func TestPostoShell(t *testing.T) {
	res := Categorize(core.NormalizeMerchant("Posto Shell"), []core.MerchantMapping{mapping("posto", "transporte", 0)})
	assert.Equal(t, "transporte", res.CategoryID)
	assert.Equal(t, core.ConfidenceHigh, res.Confidence)
	assert.False(t, res.NeedsReview)
}

func TestNoMatch(t *testing.T) {
	cases := []struct {
		name     string
		merchant string
		mappings []core.MerchantMapping
	}{
		{"no mappings", "padaria", nil},
		{"unrelated", "padaria", []core.MerchantMapping{mapping("posto", "transporte", 0)}},
		{"empty merchant", "", []core.MerchantMapping{mapping("posto", "transporte", 0)}},
		{"empty key ignored", "padaria", []core.MerchantMapping{mapping("", "x", 0), mapping("***", "y", 0)}},
		{"empty category ignored", "padaria", []core.MerchantMapping{mapping("padaria", "", 0)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Categorize(tc.merchant, tc.mappings)
			assert.False(t, res.Matched())
			assert.Empty(t, res.CategoryID)
			assert.Equal(t, core.ConfidenceLow, res.Confidence)
			assert.True(t, res.NeedsReview)
			assert.Equal(t, "none", res.Tier.String())
		})
	}
}

func TestTableOrder(t *testing.T) {
	household := core.MerchantMapping{MerchantKey: "mercado", CategoryID: "casa", HouseholdID: "h1", UsageCount: 1}
	global := core.MerchantMapping{MerchantKey: "mercado", CategoryID: "alimentacao", UsageCount: 99}

	res := Categorize("mercado livre", []core.MerchantMapping{global, household})
	assert.Equal(t, "casa", res.CategoryID, "household mappings come before global ones")

	res = Categorize("mercado livre", []core.MerchantMapping{
		mapping("livre", "compras", 1),
		mapping("mercado", "alimentacao", 7),
	})
	assert.Equal(t, "alimentacao", res.CategoryID, "higher usage first")

	res = Categorize("mercado livre", []core.MerchantMapping{
		mapping("mercado", "alimentacao", 3),
		mapping("livre", "compras", 3),
	})
	assert.Equal(t, "compras", res.CategoryID, "ties broken by key")
}

func TestNewTableNormalizesKeysAndKeepsInput(t *testing.T) {
	in := []core.MerchantMapping{mapping("  PÃO de Açúcar ", "mercado", 0)}
	table := NewTable(in)
	require.Equal(t, 1, table.Len())
	assert.Equal(t, "  PÃO de Açúcar ", in[0].MerchantKey)

	res := table.Categorize("pao de acucar")
	assert.Equal(t, TierExact, res.Tier)
	assert.Equal(t, "pao de acucar", res.MerchantKey)
}
