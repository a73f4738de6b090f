// Package fingerprint computes the deterministic dedup tokens used by the
// ingestion pipeline: one per transaction and one per uploaded file.
//
// Changing the key composition invalidates every stored fingerprint.
package fingerprint

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"orcamento/internal/core"
)

const (
	TransactionPrefix = "fp_"
	FilePrefix        = "ff_"

	// fileSampleSize is how much of the file content enters the file token.
	fileSampleSize = 500
)

// Transaction returns the token identifying a real-world transaction of a
// household. The amount's sign is ignored.
func Transaction(householdID, isoDate string, amount core.Money, merchantRaw string) string {
	key := strings.Join([]string{
		householdID,
		isoDate,
		amount.Abs().String(),
		core.NormalizeMerchant(merchantRaw),
	}, "|")
	return TransactionPrefix + hash(key)
}

// File returns the whole-file idempotency token. It samples the first bytes
// of content and is not a cryptographic digest.
func File(content []byte, householdID string) string {
	sample := content
	if len(sample) > fileSampleSize {
		sample = sample[:fileSampleSize]
	}

	var b strings.Builder
	b.Grow(len(householdID) + len(sample) + 24)
	b.WriteString(householdID)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(len(content)))
	b.WriteByte('|')
	b.Write(sample)
	return FilePrefix + hash(b.String())
}

func hash(key string) string {
	return strconv.FormatUint(xxhash.Sum64String(key), 36)
}
