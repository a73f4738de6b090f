package services

import (
	"context"
	"testing"
	"time"

	"orcamento/internal/core"
	"orcamento/internal/ledger/memory"
)

func TestDefaultStaleSweeperConfig(t *testing.T) {
	config := DefaultStaleSweeperConfig()

	if config.Interval != 5*time.Minute {
		t.Errorf("expected Interval 5m, got %v", config.Interval)
	}
	if config.StaleAfter != 30*time.Minute {
		t.Errorf("expected StaleAfter 30m, got %v", config.StaleAfter)
	}
	if config.BatchSize != 50 {
		t.Errorf("expected BatchSize 50, got %d", config.BatchSize)
	}
}

func TestExpireStaleImports(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	for _, imp := range []core.Import{
		{ID: "stale", HouseholdID: "h1", CreatedAt: now.Add(-time.Hour)},
		{ID: "fresh", HouseholdID: "h1", CreatedAt: now.Add(-time.Minute)},
		{ID: "done", HouseholdID: "h1", CreatedAt: now.Add(-2 * time.Hour)},
	} {
		if err := store.CreateImport(ctx, imp); err != nil {
			t.Fatalf("create %s: %v", imp.ID, err)
		}
	}
	_ = store.CompleteImport(ctx, "done", 3, now)

	sweeper := NewStaleSweeper(store, DefaultStaleSweeperConfig())
	sweeper.now = func() time.Time { return now }

	n, err := sweeper.ExpireStaleImports(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 expired import, got %d err=%v", n, err)
	}

	stale, _ := store.GetImport(ctx, "stale")
	if stale.Status != core.ImportFailed || stale.ErrorMessage != "import timed out" {
		t.Errorf("unexpected stale import %+v", stale)
	}
	fresh, _ := store.GetImport(ctx, "fresh")
	if fresh.Status != core.ImportPending {
		t.Errorf("fresh import must stay pending, got %s", fresh.Status)
	}
	done, _ := store.GetImport(ctx, "done")
	if done.Status != core.ImportCompleted {
		t.Errorf("completed import must not change, got %s", done.Status)
	}
}

func TestStaleSweeper_StartStop(t *testing.T) {
	config := DefaultStaleSweeperConfig()
	config.Interval = 50 * time.Millisecond
	sweeper := NewStaleSweeper(memory.New(), config)

	if sweeper.IsRunning() {
		t.Fatal("sweeper should not be running initially")
	}

	ctx := context.Background()
	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := sweeper.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}
	if !sweeper.IsRunning() {
		t.Error("sweeper should be running")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := sweeper.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if sweeper.IsRunning() {
		t.Error("sweeper should not be running after Stop")
	}
}
