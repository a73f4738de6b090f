package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	text := "```json\n" + `{"transactions": [
		{"date": "2024-03-05", "merchant": "Posto Shell", "amount": -150.00},
		{"date": "06/03/2024", "merchant": "iFood", "amount": "45,30", "card_last_digits": "1234", "installment": "02/10"},
		{"date": "2024-03-07", "merchant": "Drogasil", "amount": 19.9, "card_last_digits": null}
	]}` + "\n```"

	res := ParseResponse(text)
	require.True(t, res.Decoded)
	require.Len(t, res.Transactions, 3)
	assert.Zero(t, res.Malformed)

	first := res.Transactions[0]
	assert.Equal(t, "2024-03-05", first.Date.ISO())
	assert.Equal(t, "Posto Shell", first.MerchantRaw)
	assert.Equal(t, int64(15000), first.Amount.Cents, "amount is stored as absolute value")

	second := res.Transactions[1]
	assert.Equal(t, "2024-03-06", second.Date.ISO())
	assert.Equal(t, int64(4530), second.Amount.Cents)
	assert.Equal(t, "1234", second.Metadata[MetaCardLastDigits])
	assert.Equal(t, "02/10", second.Metadata[MetaInstallment])

	third := res.Transactions[2]
	assert.Equal(t, int64(1990), third.Amount.Cents)
	assert.NotContains(t, third.Metadata, MetaCardLastDigits)
}

func TestParseResponseDropsInvalidElements(t *testing.T) {
	text := `{"transactions": [
		{"date": "2024-03-05", "merchant": "Valid", "amount": 10},
		{"date": "", "merchant": "No date", "amount": 10},
		{"date": "2024-03-05", "merchant": "   ", "amount": 10},
		{"date": "2024-03-05", "amount": 10},
		{"date": "2024-03-05", "merchant": "No amount"},
		{"date": "2024-03-05", "merchant": "Text amount", "amount": "dez"},
		{"date": "2024-03-05", "merchant": "Bool amount", "amount": true},
		{"date": "2024-03-05", "merchant": "Zero", "amount": 0},
		{"date": "March 5", "merchant": "Bad date", "amount": 10},
		{"date": "2024-02-30", "merchant": "Impossible date", "amount": 10},
		{"date": 20240305, "merchant": "Numeric date", "amount": 10},
		"not an object",
		null
	]}`

	res := ParseResponse(text)
	require.True(t, res.Decoded)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "Valid", res.Transactions[0].MerchantRaw)
	assert.Equal(t, 12, res.Malformed)
}

func TestParseResponseEmptyAndUnparseable(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		decoded bool
	}{
		{"empty list", `{"transactions": []}`, true},
		{"missing key", `{"items": []}`, true},
		{"plain text", "Desculpe, não consegui ler a imagem.", false},
		{"empty", "", false},
		{"truncated", `{"transactions": [{"date": "2024-03-05"`, false},
		{"wrong type", `{"transactions": "none"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ParseResponse(tc.text)
			assert.Empty(t, res.Transactions)
			assert.Equal(t, tc.decoded, res.Decoded)
		})
	}
}

func TestParseResponseTopLevelArray(t *testing.T) {
	res := ParseResponse(`[{"date": "2024-03-05", "merchant": "Uber", "amount": 7.5}]`)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, int64(750), res.Transactions[0].Amount.Cents)
}

func TestCleanModelJSON(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
		"```{\"a\":1}```":         `{"a":1}`,
	}
	for in, want := range cases {
		assert.Equal(t, want, cleanModelJSON(in), in)
	}
}
