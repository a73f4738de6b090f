package cache

import (
	"context"
	"slices"
	"time"

	"orcamento/internal/core"
	"orcamento/internal/ledger"
)

// MappingReader caches ListMerchantMappings per household. Mappings saved
// through it invalidate the cache; writes made elsewhere show up after the TTL.
type MappingReader struct {
	next  ledger.MappingReader
	cache *LRU[[]core.MerchantMapping]
}

// NewMappingReader wraps next with a cache of size households kept for ttl.
func NewMappingReader(next ledger.MappingReader, size int, ttl time.Duration) *MappingReader {
	return &MappingReader{
		next:  next,
		cache: NewLRU[[]core.MerchantMapping](size, ttl),
	}
}

func (r *MappingReader) ListMerchantMappings(ctx context.Context, householdID string) ([]core.MerchantMapping, error) {
	if cached, ok := r.cache.Get(householdID); ok {
		return slices.Clone(cached), nil
	}
	mappings, err := r.next.ListMerchantMappings(ctx, householdID)
	if err != nil {
		return nil, err
	}
	r.cache.Set(householdID, slices.Clone(mappings))
	return mappings, nil
}

// SaveMerchantMapping forwards to the wrapped reader when it can write. A
// global mapping clears every household, a scoped one only its own.
func (r *MappingReader) SaveMerchantMapping(ctx context.Context, m core.MerchantMapping) error {
	w, ok := r.next.(ledger.MappingWriter)
	if !ok {
		return ledger.ErrReadOnly
	}
	if err := w.SaveMerchantMapping(ctx, m); err != nil {
		return err
	}
	if m.Global() {
		r.cache.Purge()
	} else {
		r.cache.Delete(m.HouseholdID)
	}
	return nil
}
