// Package statement extracts transactions from OFX-style bank statement
// files: SGML tag/value text with one <STMTTRN> block per transaction.
package statement

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"orcamento/internal/core"
)

// Metadata keys set on extracted transactions.
const (
	MetaType     = "type"
	MetaFITID    = "fitid"
	MetaName     = "name"
	MetaMemo     = "memo"
	MetaAccount  = "account"
	MetaBank     = "bank"
	MetaCurrency = "currency"
)

// Result is the outcome of parsing one statement file.
type Result struct {
	Transactions []core.ExtractedTransaction
	Malformed    int // blocks dropped for missing or invalid fields

	Account  string
	Bank     string
	Currency string
}

var (
	blockRe   = regexp.MustCompile(`(?is)<STMTTRN>(.*?)</STMTTRN>`)
	charsetRe = regexp.MustCompile(`(?i)CHARSET:\s*(\S+)`)

	typeRe     = tagRe("TRNTYPE")
	postedRe   = tagRe("DTPOSTED")
	amountRe   = tagRe("TRNAMT")
	fitidRe    = tagRe("FITID")
	nameRe     = tagRe("NAME")
	memoRe     = tagRe("MEMO")
	accountRe  = tagRe("ACCTID")
	bankRe     = tagRe("BANKID")
	currencyRe = tagRe("CURDEF")
)

// tagRe matches a tag's value up to the next tag or line break.
func tagRe(tag string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)<` + tag + `>([^<\r\n]*)`)
}

// Parse scans content for transaction blocks in input order. Blocks without
// a posted date, an amount, or any of name/memo are dropped and counted.
// A file with no blocks yields an empty result.
func Parse(content []byte) (Result, error) {
	text, err := decode(content)
	if err != nil {
		return Result{}, fmt.Errorf("decode statement: %w", err)
	}

	res := Result{
		Account:  firstValue(accountRe, text),
		Bank:     firstValue(bankRe, text),
		Currency: firstValue(currencyRe, text),
	}

	for _, m := range blockRe.FindAllStringSubmatch(text, -1) {
		tx, err := parseBlock(m[1])
		if err != nil {
			res.Malformed++
			continue
		}
		res.annotate(&tx)
		res.Transactions = append(res.Transactions, tx)
	}
	return res, nil
}

func parseBlock(block string) (core.ExtractedTransaction, error) {
	posted := firstValue(postedRe, block)
	amount := firstValue(amountRe, block)
	name := firstValue(nameRe, block)
	memo := firstValue(memoRe, block)

	if posted == "" || amount == "" || (name == "" && memo == "") {
		return core.ExtractedTransaction{}, core.ErrMalformedRecord
	}

	date, err := ParseCompactDate(posted)
	if err != nil {
		return core.ExtractedTransaction{}, fmt.Errorf("%w: %v", core.ErrMalformedRecord, err)
	}
	money, err := core.CoerceAmount(amount)
	if err != nil {
		return core.ExtractedTransaction{}, fmt.Errorf("%w: %v", core.ErrMalformedRecord, err)
	}

	merchant := name
	if merchant == "" {
		merchant = memo
	}

	meta := make(map[string]string, 7)
	setIf(meta, MetaType, firstValue(typeRe, block))
	setIf(meta, MetaFITID, firstValue(fitidRe, block))
	setIf(meta, MetaName, name)
	setIf(meta, MetaMemo, memo)

	return core.ExtractedTransaction{
		Date:        date,
		MerchantRaw: merchant,
		Amount:      money,
		Metadata:    meta,
	}, nil
}

func (r Result) annotate(tx *core.ExtractedTransaction) {
	setIf(tx.Metadata, MetaAccount, r.Account)
	setIf(tx.Metadata, MetaBank, r.Bank)
	setIf(tx.Metadata, MetaCurrency, r.Currency)
}

// ParseCompactDate converts an OFX date (YYYYMMDD or YYYYMMDDHHMMSS, with an
// optional fractional part and [offset:TZ] suffix) to a calendar date.
func ParseCompactDate(s string) (core.Date, error) {
	if i := strings.IndexByte(s, '['); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)

	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	if n != 8 && n != 14 {
		return core.Date{}, fmt.Errorf("%w: %q", core.ErrInvalidDate, s)
	}

	t, err := time.Parse("20060102", s[:8])
	if err != nil {
		return core.Date{}, fmt.Errorf("%w: %q", core.ErrInvalidDate, s)
	}
	return core.Date{Time: t}, nil
}

// decode returns content as UTF-8. Files declaring CHARSET:1252, or that are
// not valid UTF-8, are read as Windows-1252.
func decode(content []byte) (string, error) {
	head := content
	if len(head) > 512 {
		head = head[:512]
	}
	legacy := false
	if m := charsetRe.FindSubmatch(head); m != nil && bytes.Equal(m[1], []byte("1252")) {
		legacy = true
	}
	if !legacy && utf8.Valid(content) {
		return string(content), nil
	}

	out, err := charmap.Windows1252.NewDecoder().Bytes(content)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func firstValue(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func setIf(meta map[string]string, key, value string) {
	if value != "" {
		meta[key] = value
	}
}
