package core

import (
	"errors"
	"strings"
)

var (
	ErrInvalidDay     = errors.New("invalid day")
	ErrInvalidMonth   = errors.New("invalid month")
	ErrInvalidDate    = errors.New("invalid date")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrEmptyMerchant  = errors.New("empty merchant")
	ErrEmptyHousehold = errors.New("empty household id")
)

// Ingestion failure taxonomy. Only batch-level errors change an import's
// terminal status; ErrMalformedRecord is always recovered by dropping the record.
var (
	ErrMalformedRecord = errors.New("malformed record")
	ErrNoTransactions  = errors.New("no transactions found")
	ErrDuplicateFile   = errors.New("duplicate file")
	ErrStorage         = errors.New("storage failure")
	ErrImportNotFound  = errors.New("import not found")
	ErrImportFinished  = errors.New("import already finished")
)

// Failure kinds used as the error_type log field and in API responses.
const (
	FailureMalformedRecord = "malformed_record"
	FailureNoData          = "no_data_found"
	FailureDuplicateFile   = "duplicate_file"
	FailureStorage         = "storage_failure"
	FailureUpstream        = "upstream_service_failure"
	FailureInternal        = "internal_error"
)

// UpstreamFailure is implemented by errors coming from the external
// classification service.
type UpstreamFailure interface {
	error
	UpstreamKind() string
}

// FailureKind classifies err into one of the Failure* kinds.
func FailureKind(err error) string {
	var upstream UpstreamFailure
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateFile):
		return FailureDuplicateFile
	case errors.Is(err, ErrNoTransactions):
		return FailureNoData
	case errors.Is(err, ErrMalformedRecord):
		return FailureMalformedRecord
	case errors.As(err, &upstream):
		return FailureUpstream
	case errors.Is(err, ErrStorage):
		return FailureStorage
	}
	return FailureInternal
}

// StorageError wraps a persistence or upload-storage error so FailureKind
// reports it as a storage failure while keeping the original message.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &storageError{op: op, err: err}
}

type storageError struct {
	op  string
	err error
}

func (e *storageError) Error() string {
	return e.op + ": " + e.err.Error()
}

func (e *storageError) Unwrap() []error {
	return []error{ErrStorage, e.err}
}

// maxErrorMessage bounds the error text persisted on an import row.
const maxErrorMessage = 2000

// TruncateErrorMessage trims msg to what an import row stores.
func TruncateErrorMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) <= maxErrorMessage {
		return msg
	}
	// keep valid UTF-8
	cut := maxErrorMessage
	for cut > 0 && !isRuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
