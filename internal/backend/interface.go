package backend

import (
	"context"
	"errors"

	"orcamento/internal/amqp"
	"orcamento/internal/ledger"
	"orcamento/internal/services"
	"orcamento/internal/vision"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the adapters a process wires its services from.
type BackendResult struct {
	Store ledger.Store
	// Mappings reads merchant mappings, through a cache when enabled.
	Mappings ledger.MappingReader
	Uploads  ledger.UploadStore
	// Broker is nil when AMQP is not configured.
	Broker *amqp.Client
	// Classifier is nil when no vision API key is configured.
	Classifier vision.Classifier

	cleanups []CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Cleanup releases resources in reverse creation order.
func (r *BackendResult) Cleanup() error {
	var errs []error
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		if err := r.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.cleanups = nil
	return errors.Join(errs...)
}

func (r *BackendResult) addCleanup(fn CleanupFunc) {
	r.cleanups = append(r.cleanups, fn)
}

// Publisher returns the broker as an ImportPublisher, or nil without one.
func (r *BackendResult) Publisher() services.ImportPublisher {
	if r.Broker == nil {
		return nil
	}
	return r.Broker
}

// Processor builds an ImportProcessor over the backend adapters.
func (r *BackendResult) Processor() *services.ImportProcessor {
	return services.NewImportProcessor(services.ImportProcessorDeps{
		Imports:      r.Store,
		Transactions: r.Store,
		Mappings:     r.Mappings,
		Uploads:      r.Uploads,
		Classifier:   r.Classifier,
	})
}

// Ready pings the store when it supports it.
func (r *BackendResult) Ready(ctx context.Context) error {
	if p, ok := r.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
