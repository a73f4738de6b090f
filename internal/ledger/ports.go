// Package ledger declares the persistence ports of the ingestion pipeline.
// Budget data is owned elsewhere; the pipeline reads merchant mappings and
// writes imports and transactions.
package ledger

import (
	"context"
	"errors"
	"time"

	"orcamento/internal/core"
)

// ErrReadOnly is returned by adapters that cannot write merchant mappings.
var ErrReadOnly = errors.New("merchant mappings are read-only")

// Ports for outbound adapters.
type (
	// ImportStore tracks import attempts. CompleteImport and FailImport only
	// transition pending imports and return core.ErrImportFinished otherwise.
	ImportStore interface {
		CreateImport(ctx context.Context, imp core.Import) error
		// GetImport returns core.ErrImportNotFound for unknown ids.
		GetImport(ctx context.Context, id string) (core.Import, error)
		// FindActiveImportByHash returns another non-failed import of the
		// household carrying fileHash, if any.
		FindActiveImportByHash(ctx context.Context, householdID, fileHash, excludeID string) (core.Import, bool, error)
		// SetImportFileHash returns core.ErrDuplicateFile when another
		// non-failed import of the household already carries fileHash.
		SetImportFileHash(ctx context.Context, id, fileHash string) error
		CompleteImport(ctx context.Context, id string, count int, at time.Time) error
		FailImport(ctx context.Context, id, message string, at time.Time) error
		// ListStalePendingImports returns pending imports created before olderThan.
		ListStalePendingImports(ctx context.Context, olderThan time.Time, limit int) ([]core.Import, error)
	}

	TransactionStore interface {
		// ExistingFingerprints returns the subset of candidates already
		// persisted for the household.
		ExistingFingerprints(ctx context.Context, householdID string, candidates []string) (map[string]struct{}, error)
		// InsertTransactions writes the batch atomically.
		InsertTransactions(ctx context.Context, txs []core.Transaction) error
		ListTransactionsByImport(ctx context.Context, importID string) ([]core.Transaction, error)
	}

	// MappingReader returns global and household-scoped mappings.
	MappingReader interface {
		ListMerchantMappings(ctx context.Context, householdID string) ([]core.MerchantMapping, error)
	}

	// MappingWriter seeds mappings; the pipeline itself never writes them.
	MappingWriter interface {
		SaveMerchantMapping(ctx context.Context, m core.MerchantMapping) error
	}

	// UploadStore holds raw uploaded files by key.
	UploadStore interface {
		Put(ctx context.Context, key string, data []byte) error
		Fetch(ctx context.Context, key string) ([]byte, error)
	}

	// Store is implemented by every persistence backend.
	Store interface {
		ImportStore
		TransactionStore
		MappingReader
		MappingWriter
		Close() error
	}
)
