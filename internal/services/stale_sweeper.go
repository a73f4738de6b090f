package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orcamento/internal/core"
	"orcamento/internal/ledger"
)

// ErrImportTimedOut is the failure recorded on imports left pending too long.
var ErrImportTimedOut = errors.New("import timed out")

// StaleSweeperConfig holds configuration for the stale import sweeper
type StaleSweeperConfig struct {
	// Interval is how often to look for stale imports (default: 5m)
	Interval time.Duration

	// StaleAfter is how long an import may stay pending (default: 30m)
	StaleAfter time.Duration

	// BatchSize is the max number of imports failed per sweep (default: 50)
	BatchSize int
}

// DefaultStaleSweeperConfig returns sensible defaults
func DefaultStaleSweeperConfig() StaleSweeperConfig {
	return StaleSweeperConfig{
		Interval:   5 * time.Minute,
		StaleAfter: 30 * time.Minute,
		BatchSize:  50,
	}
}

// StaleSweeper fails imports whose event was lost or whose processing died.
type StaleSweeper struct {
	imports ledger.ImportStore
	config  StaleSweeperConfig
	now     func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewStaleSweeper(imports ledger.ImportStore, config StaleSweeperConfig) *StaleSweeper {
	return &StaleSweeper{
		imports: imports,
		config:  config,
		now:     time.Now,
	}
}

// Start begins the sweep loop. Returns an error if already running.
func (s *StaleSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("stale sweeper is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	slog.InfoContext(ctx, "Stale import sweeper started",
		"interval", s.config.Interval,
		"stale_after", s.config.StaleAfter)
	return nil
}

// Stop signals the loop to end and waits for it.
func (s *StaleSweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
		slog.InfoContext(ctx, "Stale import sweeper stopped")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Stale import sweeper stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// IsRunning returns whether the sweeper is currently running
func (s *StaleSweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *StaleSweeper) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *StaleSweeper) sweep(ctx context.Context) {
	n, err := s.ExpireStaleImports(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to expire stale imports", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "Expired stale imports", "count", n)
	}
}

// ExpireStaleImports fails pending imports older than StaleAfter and returns
// how many were failed. Imports that finish concurrently are skipped.
func (s *StaleSweeper) ExpireStaleImports(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.StaleAfter)
	stale, err := s.imports.ListStalePendingImports(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return 0, storageErr("list stale imports", err)
	}

	expired := 0
	for _, imp := range stale {
		err := s.imports.FailImport(ctx, imp.ID, ErrImportTimedOut.Error(), s.now())
		switch {
		case err == nil:
			expired++
			slog.WarnContext(ctx, "Import timed out",
				"import_id", imp.ID,
				"household_id", imp.HouseholdID,
				"created_at", imp.CreatedAt)
		case errors.Is(err, core.ErrImportFinished):
		default:
			return expired, storageErr("fail stale import", err)
		}
	}
	return expired, nil
}
