package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orcamento/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "db", "orcamento.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func pendingImport(id, household string, created time.Time) core.Import {
	return core.Import{
		ID:          id,
		HouseholdID: household,
		SourceKind:  core.SourceStatementFile,
		Status:      core.ImportPending,
		FileName:    "extrato.ofx",
		FileRef:     household + "/" + id + "/extrato.ofx",
		CreatedAt:   created,
	}
}

func sampleTx(id, importID, fp string) core.Transaction {
	cat := "transporte"
	return core.Transaction{
		ID:                 id,
		HouseholdID:        "h1",
		MonthID:            "2024-03",
		ImportID:           &importID,
		Merchant:           "Posto Shell",
		MerchantNormalized: "posto shell",
		Amount:             core.Money{Cents: 15000},
		Date:               core.NewDate(2024, 3, 5),
		CategoryID:         &cat,
		Confidence:         core.ConfidenceHigh,
		Source:             core.SourceStatementFile,
		Fingerprint:        fp,
		RawData:            map[string]string{"fitid": "A1"},
		CreatedAt:          time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC),
	}
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	v1, err := RunMigrations(path)
	require.NoError(t, err)
	v2, err := RunMigrations(path)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v1)
	assert.Equal(t, v1, v2)
}

func TestImportLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	created := time.Date(2024, 3, 6, 9, 0, 0, 123, time.UTC)

	require.NoError(t, repo.CreateImport(ctx, pendingImport("i1", "h1", created)))

	got, err := repo.GetImport(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, core.ImportPending, got.Status)
	assert.Equal(t, created, got.CreatedAt)
	assert.Nil(t, got.ProcessedAt)

	done := created.Add(time.Minute)
	require.NoError(t, repo.CompleteImport(ctx, "i1", 2, done))

	got, err = repo.GetImport(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, core.ImportCompleted, got.Status)
	assert.Equal(t, 2, got.TransactionCount)
	require.NotNil(t, got.ProcessedAt)
	assert.Equal(t, done, *got.ProcessedAt)

	assert.ErrorIs(t, repo.FailImport(ctx, "i1", "late", done), core.ErrImportFinished)
	assert.ErrorIs(t, repo.CompleteImport(ctx, "missing", 0, done), core.ErrImportNotFound)

	_, err = repo.GetImport(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrImportNotFound)
}

func TestFailImportTruncatesMessage(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateImport(ctx, pendingImport("i1", "h1", time.Now())))

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, repo.FailImport(ctx, "i1", string(long), time.Now()))

	got, err := repo.GetImport(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, core.ImportFailed, got.Status)
	assert.Len(t, got.ErrorMessage, 2000)
}

func TestFileHashUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Now()

	require.NoError(t, repo.CreateImport(ctx, pendingImport("i1", "h1", now)))
	require.NoError(t, repo.CreateImport(ctx, pendingImport("i2", "h1", now.Add(time.Second))))
	require.NoError(t, repo.CreateImport(ctx, pendingImport("i3", "h2", now)))

	require.NoError(t, repo.SetImportFileHash(ctx, "i1", "ff_abc"))

	other, found, err := repo.FindActiveImportByHash(ctx, "h1", "ff_abc", "i2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "i1", other.ID)

	_, found, err = repo.FindActiveImportByHash(ctx, "h1", "ff_abc", "i1")
	require.NoError(t, err)
	assert.False(t, found)

	err = repo.SetImportFileHash(ctx, "i2", "ff_abc")
	assert.True(t, errors.Is(err, core.ErrDuplicateFile), "got %v", err)

	// another household may carry the same hash
	require.NoError(t, repo.SetImportFileHash(ctx, "i3", "ff_abc"))

	// a failed import frees the hash
	require.NoError(t, repo.FailImport(ctx, "i1", "boom", now))
	require.NoError(t, repo.SetImportFileHash(ctx, "i2", "ff_abc"))

	assert.ErrorIs(t, repo.SetImportFileHash(ctx, "missing", "ff_x"), core.ErrImportNotFound)
}

func TestListStalePendingImports(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	base := time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateImport(ctx, pendingImport("old", "h1", base)))
	require.NoError(t, repo.CreateImport(ctx, pendingImport("older", "h1", base.Add(-time.Hour))))
	require.NoError(t, repo.CreateImport(ctx, pendingImport("new", "h1", base.Add(time.Hour))))
	require.NoError(t, repo.CreateImport(ctx, pendingImport("done", "h1", base.Add(-2*time.Hour))))
	require.NoError(t, repo.CompleteImport(ctx, "done", 1, base))

	stale, err := repo.ListStalePendingImports(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "older", stale[0].ID)
	assert.Equal(t, "old", stale[1].ID)

	limited, err := repo.ListStalePendingImports(ctx, base.Add(time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "older", limited[0].ID)
}

func TestTransactionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateImport(ctx, pendingImport("i1", "h1", time.Now())))

	first := sampleTx("t1", "i1", "fp_1")
	second := sampleTx("t2", "i1", "fp_2")
	second.CategoryID = nil
	second.NeedsReview = true
	second.RawData = nil
	card := "card-1"
	second.CardID = &card

	require.NoError(t, repo.InsertTransactions(ctx, []core.Transaction{first, second}))

	got, err := repo.ListTransactionsByImport(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0])
	assert.Equal(t, second, got[1])

	existing, err := repo.ExistingFingerprints(ctx, "h1", []string{"fp_1", "fp_3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"fp_1": {}}, existing)

	none, err := repo.ExistingFingerprints(ctx, "h2", []string{"fp_1"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestInsertTransactionsIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateImport(ctx, pendingImport("i1", "h1", time.Now())))
	require.NoError(t, repo.InsertTransactions(ctx, []core.Transaction{sampleTx("t1", "i1", "fp_1")}))

	err := repo.InsertTransactions(ctx, []core.Transaction{
		sampleTx("t2", "i1", "fp_2"),
		sampleTx("t3", "i1", "fp_1"),
	})
	require.Error(t, err)

	got, err := repo.ListTransactionsByImport(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].ID)
}

func TestMerchantMappings(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.SaveMerchantMapping(ctx, core.MerchantMapping{MerchantKey: "Posto", CategoryID: "transporte", UsageCount: 3}))
	require.NoError(t, repo.SaveMerchantMapping(ctx, core.MerchantMapping{MerchantKey: "padaria", CategoryID: "mercado", UsageCount: 9}))
	require.NoError(t, repo.SaveMerchantMapping(ctx, core.MerchantMapping{MerchantKey: "posto", CategoryID: "carro", HouseholdID: "h1"}))
	require.NoError(t, repo.SaveMerchantMapping(ctx, core.MerchantMapping{MerchantKey: "cinema", CategoryID: "lazer", HouseholdID: "h2"}))
	assert.Error(t, repo.SaveMerchantMapping(ctx, core.MerchantMapping{MerchantKey: "  ", CategoryID: "x"}))

	got, err := repo.ListMerchantMappings(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, []core.MerchantMapping{
		{MerchantKey: "posto", CategoryID: "carro", HouseholdID: "h1"},
		{MerchantKey: "padaria", CategoryID: "mercado", UsageCount: 9},
		{MerchantKey: "posto", CategoryID: "transporte", UsageCount: 3},
	}, got)

	// upsert
	require.NoError(t, repo.SaveMerchantMapping(ctx, core.MerchantMapping{MerchantKey: "posto", CategoryID: "combustivel", UsageCount: 3}))
	got, err = repo.ListMerchantMappings(ctx, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "combustivel", got[1].CategoryID)
}
