// Package vision turns a photographed card statement into extracted
// transactions. A model reads the image and answers with JSON; ParseResponse
// validates that answer element by element.
package vision

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"orcamento/internal/core"
)

// Metadata keys set on extracted transactions.
const (
	MetaCardLastDigits = "card_last_digits"
	MetaInstallment    = "installment"
)

// Result is the outcome of parsing one model response.
type Result struct {
	Transactions []core.ExtractedTransaction
	Malformed    int  // elements dropped by validation
	Decoded      bool // false when the payload was not JSON
}

const elementSchemaJSON = `{
  "type": "object",
  "required": ["date", "merchant", "amount"],
  "properties": {
    "date": {"type": "string", "pattern": "\\S"},
    "merchant": {"type": "string", "pattern": "\\S"},
    "amount": {"type": ["number", "string"]},
    "card_last_digits": {"type": ["string", "null"]},
    "installment": {"type": ["string", "null"]}
  }
}`

var elementSchema = jsonschema.MustCompileString("transaction.json", elementSchemaJSON)

// dateLayouts are tried in order.
var dateLayouts = []string{core.ISODateLayout, "02/01/2006"}

type payload struct {
	Transactions []json.RawMessage `json:"transactions"`
}

type element struct {
	Date           string  `json:"date"`
	Merchant       string  `json:"merchant"`
	Amount         any     `json:"amount"`
	CardLastDigits *string `json:"card_last_digits"`
	Installment    *string `json:"installment"`
}

// ParseResponse extracts transactions from the model's raw text. A payload
// that is not JSON yields an empty result; invalid elements are dropped
// individually. Amounts are returned as absolute values.
func ParseResponse(text string) Result {
	var p payload
	clean := cleanModelJSON(text)
	if strings.HasPrefix(clean, "[") {
		if err := json.Unmarshal([]byte(clean), &p.Transactions); err != nil {
			return Result{}
		}
	} else if err := json.Unmarshal([]byte(clean), &p); err != nil {
		return Result{}
	}

	res := Result{Decoded: true}
	for _, raw := range p.Transactions {
		tx, err := parseElement(raw)
		if err != nil {
			res.Malformed++
			continue
		}
		res.Transactions = append(res.Transactions, tx)
	}
	return res
}

func parseElement(raw json.RawMessage) (core.ExtractedTransaction, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return core.ExtractedTransaction{}, fmt.Errorf("%w: %v", core.ErrMalformedRecord, err)
	}
	if err := elementSchema.Validate(generic); err != nil {
		return core.ExtractedTransaction{}, fmt.Errorf("%w: %v", core.ErrMalformedRecord, err)
	}

	var el element
	if err := json.Unmarshal(raw, &el); err != nil {
		return core.ExtractedTransaction{}, fmt.Errorf("%w: %v", core.ErrMalformedRecord, err)
	}

	date, err := parseDate(el.Date)
	if err != nil {
		return core.ExtractedTransaction{}, fmt.Errorf("%w: %v", core.ErrMalformedRecord, err)
	}
	amount, err := core.ParseAmountValue(el.Amount)
	if err != nil {
		return core.ExtractedTransaction{}, fmt.Errorf("%w: %v", core.ErrMalformedRecord, err)
	}
	if amount.Cents == 0 {
		return core.ExtractedTransaction{}, fmt.Errorf("%w: zero amount", core.ErrMalformedRecord)
	}

	meta := map[string]string{}
	if el.CardLastDigits != nil && strings.TrimSpace(*el.CardLastDigits) != "" {
		meta[MetaCardLastDigits] = strings.TrimSpace(*el.CardLastDigits)
	}
	if el.Installment != nil && strings.TrimSpace(*el.Installment) != "" {
		meta[MetaInstallment] = strings.TrimSpace(*el.Installment)
	}

	return core.ExtractedTransaction{
		Date:        date,
		MerchantRaw: strings.TrimSpace(el.Merchant),
		Amount:      amount.Abs(),
		Metadata:    meta,
	}, nil
}

func parseDate(s string) (core.Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return core.Date{Time: t}, nil
		}
	}
	return core.Date{}, fmt.Errorf("%w: %q", core.ErrInvalidDate, s)
}

// cleanModelJSON removes a Markdown code fence the model may wrap its answer in.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// drop the ``` or ```json line
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return strings.Trim(s, "`")
		}
		s = s[idx+1:]
		if end := strings.LastIndex(s, "```"); end != -1 {
			s = s[:end]
		}
	}
	return strings.TrimSpace(s)
}
