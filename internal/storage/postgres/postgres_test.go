package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orcamento/internal/core"
)

// openTestRepo connects to TEST_DATABASE_URL; the tests are skipped without it.
func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	repo, err := Open(context.Background(), DefaultConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("postgres://localhost/orcamento")
	assert.Equal(t, "postgres://localhost/orcamento", cfg.DSN)
	assert.Equal(t, int32(10), cfg.MaxConns)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
}

func TestOpenRejectsBadURL(t *testing.T) {
	_, err := Open(context.Background(), DefaultConfig("postgres://%zz"))
	assert.Error(t, err)
}

func TestRepositoryImportFlow(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	// unique ids keep reruns against the same database independent
	household := "h-" + uuid.NewString()
	imp := core.Import{
		ID:          uuid.NewString(),
		HouseholdID: household,
		SourceKind:  core.SourceStatementFile,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.CreateImport(ctx, imp))
	require.NoError(t, repo.SetImportFileHash(ctx, imp.ID, "ff_1"))

	dup := imp
	dup.ID = uuid.NewString()
	require.NoError(t, repo.CreateImport(ctx, dup))
	assert.ErrorIs(t, repo.SetImportFileHash(ctx, dup.ID, "ff_1"), core.ErrDuplicateFile)

	importID := imp.ID
	tx := core.Transaction{
		ID:                 uuid.NewString(),
		HouseholdID:        household,
		MonthID:            "2024-03",
		ImportID:           &importID,
		Merchant:           "Posto Shell",
		MerchantNormalized: "posto shell",
		Amount:             core.Money{Cents: 15000},
		Date:               core.NewDate(2024, 3, 5),
		Confidence:         core.ConfidenceLow,
		Source:             core.SourceStatementFile,
		Fingerprint:        "fp_" + uuid.NewString(),
		NeedsReview:        true,
		CreatedAt:          imp.CreatedAt,
	}
	require.NoError(t, repo.InsertTransactions(ctx, []core.Transaction{tx}))
	assert.Error(t, repo.InsertTransactions(ctx, []core.Transaction{tx}))

	existing, err := repo.ExistingFingerprints(ctx, household, []string{tx.Fingerprint, "fp_none"})
	require.NoError(t, err)
	assert.Len(t, existing, 1)

	got, err := repo.ListTransactionsByImport(ctx, imp.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tx, got[0])

	require.NoError(t, repo.CompleteImport(ctx, imp.ID, 1, time.Now()))
	assert.ErrorIs(t, repo.FailImport(ctx, imp.ID, "late", time.Now()), core.ErrImportFinished)

	stored, err := repo.GetImport(ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ImportCompleted, stored.Status)
	assert.Equal(t, 1, stored.TransactionCount)
}
