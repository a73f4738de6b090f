// Package memory is an in-process ledger.Store for tests and local runs.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"orcamento/internal/core"
)

type Store struct {
	mu       sync.Mutex
	imports  map[string]core.Import
	txs      []core.Transaction
	fps      map[string]map[string]struct{} // household -> fingerprints
	mappings []core.MerchantMapping
}

func New(mappings ...core.MerchantMapping) *Store {
	return &Store{
		imports:  map[string]core.Import{},
		fps:      map[string]map[string]struct{}{},
		mappings: append([]core.MerchantMapping(nil), mappings...),
	}
}

// NewFromFile seeds global mappings from lines of "merchant key=category id".
// Blank lines and lines starting with # are skipped; a missing file yields an
// empty store.
func NewFromFile(path string) *Store {
	return New(ReadMappings(path)...)
}

// ReadMappings parses a mapping seed file, see NewFromFile.
func ReadMappings(path string) []core.MerchantMapping {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	seen := map[string]struct{}{}
	var out []core.MerchantMapping
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, cat, ok := strings.Cut(line, "=")
		key = core.NormalizeMerchant(key)
		cat = strings.TrimSpace(cat)
		if !ok || key == "" || cat == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, core.MerchantMapping{MerchantKey: key, CategoryID: cat})
	}
	return out
}

func (s *Store) CreateImport(_ context.Context, imp core.Import) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.imports[imp.ID]; ok {
		return core.StorageError("create import", fmt.Errorf("import %s already exists", imp.ID))
	}
	if imp.Status == "" {
		imp.Status = core.ImportPending
	}
	if imp.FileHash != "" && s.activeHashLocked(imp.HouseholdID, imp.FileHash, imp.ID) {
		return fmt.Errorf("create import: %w", core.ErrDuplicateFile)
	}
	s.imports[imp.ID] = imp
	return nil
}

func (s *Store) GetImport(_ context.Context, id string) (core.Import, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.imports[id]
	if !ok {
		return core.Import{}, core.ErrImportNotFound
	}
	return imp, nil
}

func (s *Store) FindActiveImportByHash(_ context.Context, householdID, fileHash, excludeID string) (core.Import, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, imp := range s.sortedLocked() {
		if imp.ID != excludeID && imp.HouseholdID == householdID && imp.FileHash == fileHash && imp.Status != core.ImportFailed {
			return imp, true, nil
		}
	}
	return core.Import{}, false, nil
}

func (s *Store) SetImportFileHash(_ context.Context, id, fileHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.imports[id]
	if !ok {
		return core.ErrImportNotFound
	}
	if imp.Status != core.ImportFailed && s.activeHashLocked(imp.HouseholdID, fileHash, id) {
		return fmt.Errorf("set file hash: %w", core.ErrDuplicateFile)
	}
	imp.FileHash = fileHash
	s.imports[id] = imp
	return nil
}

func (s *Store) CompleteImport(_ context.Context, id string, count int, at time.Time) error {
	return s.finish(id, func(imp *core.Import) {
		imp.Status = core.ImportCompleted
		imp.TransactionCount = count
		imp.ProcessedAt = &at
	})
}

func (s *Store) FailImport(_ context.Context, id, message string, at time.Time) error {
	return s.finish(id, func(imp *core.Import) {
		imp.Status = core.ImportFailed
		imp.ErrorMessage = core.TruncateErrorMessage(message)
		imp.ProcessedAt = &at
	})
}

func (s *Store) finish(id string, apply func(*core.Import)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.imports[id]
	if !ok {
		return core.ErrImportNotFound
	}
	if imp.Status.IsTerminal() {
		return core.ErrImportFinished
	}
	apply(&imp)
	s.imports[id] = imp
	return nil
}

func (s *Store) ListStalePendingImports(_ context.Context, olderThan time.Time, limit int) ([]core.Import, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Import
	for _, imp := range s.sortedLocked() {
		if limit > 0 && len(out) >= limit {
			break
		}
		if imp.Status == core.ImportPending && imp.CreatedAt.Before(olderThan) {
			out = append(out, imp)
		}
	}
	return out, nil
}

func (s *Store) ExistingFingerprints(_ context.Context, householdID string, candidates []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{})
	known := s.fps[householdID]
	for _, fp := range candidates {
		if _, ok := known[fp]; ok {
			out[fp] = struct{}{}
		}
	}
	return out, nil
}

// InsertTransactions rejects the whole batch when any fingerprint already
// exists for its household, mirroring the SQL unique index.
func (s *Store) InsertTransactions(_ context.Context, txs []core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := map[string]struct{}{}
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			return fmt.Errorf("insert transactions: %w", err)
		}
		key := tx.HouseholdID + "|" + tx.Fingerprint
		if _, ok := s.fps[tx.HouseholdID][tx.Fingerprint]; ok {
			return core.StorageError("insert transactions", fmt.Errorf("fingerprint %s already exists", tx.Fingerprint))
		}
		if _, ok := batch[key]; ok {
			return core.StorageError("insert transactions", fmt.Errorf("fingerprint %s repeated in batch", tx.Fingerprint))
		}
		batch[key] = struct{}{}
	}

	for _, tx := range txs {
		if s.fps[tx.HouseholdID] == nil {
			s.fps[tx.HouseholdID] = map[string]struct{}{}
		}
		s.fps[tx.HouseholdID][tx.Fingerprint] = struct{}{}
		s.txs = append(s.txs, tx)
	}
	return nil
}

func (s *Store) ListTransactionsByImport(_ context.Context, importID string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.ImportID != nil && *tx.ImportID == importID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// Transactions returns every stored transaction in insertion order.
func (s *Store) Transactions() []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Transaction(nil), s.txs...)
}

func (s *Store) ListMerchantMappings(_ context.Context, householdID string) ([]core.MerchantMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.MerchantMapping
	for _, m := range s.mappings {
		if m.Global() || m.HouseholdID == householdID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) SaveMerchantMapping(_ context.Context, m core.MerchantMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.mappings {
		if existing.MerchantKey == m.MerchantKey && existing.HouseholdID == m.HouseholdID {
			s.mappings[i] = m
			return nil
		}
	}
	s.mappings = append(s.mappings, m)
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) activeHashLocked(householdID, fileHash, excludeID string) bool {
	for id, imp := range s.imports {
		if id != excludeID && imp.HouseholdID == householdID && imp.FileHash == fileHash && imp.Status != core.ImportFailed {
			return true
		}
	}
	return false
}

// sortedLocked returns imports oldest first.
func (s *Store) sortedLocked() []core.Import {
	out := make([]core.Import, 0, len(s.imports))
	for _, imp := range s.imports {
		out = append(out, imp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
