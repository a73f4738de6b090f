package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orcamento/internal/config"
	"orcamento/internal/core"
)

func writeMappings(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mappings.txt")
	content := "# global mappings\nPosto Shell=transporte\npadaria=mercado\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCreateMemoryBackend(t *testing.T) {
	ctx := context.Background()
	res, err := NewFactory(nil).CreateBackend(ctx, Config{
		Type:         MemoryBackend,
		Uploads:      MemoryUploads,
		MappingsFile: writeMappings(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, res.Cleanup()) })

	assert.Nil(t, res.Broker)
	assert.Nil(t, res.Publisher())
	assert.Nil(t, res.Classifier)
	assert.NoError(t, res.Ready(ctx))
	assert.NotNil(t, res.Processor())

	mappings, err := res.Store.ListMerchantMappings(ctx, "h1")
	require.NoError(t, err)
	assert.Len(t, mappings, 2)

	require.NoError(t, res.Uploads.Put(ctx, "h1/i1/extrato.ofx", []byte("data")))
	got, err := res.Uploads.Fetch(ctx, "h1/i1/extrato.ofx")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}

func TestCreateSQLiteBackendSeedsMappings(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	res, err := NewFactory(nil).CreateBackend(ctx, Config{
		Type:         SQLiteBackend,
		SQLiteDBPath: filepath.Join(dir, "orcamento.db"),
		Uploads:      LocalUploads,
		UploadDir:    filepath.Join(dir, "uploads"),
		MappingsFile: writeMappings(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, res.Cleanup()) })

	assert.NoError(t, res.Ready(ctx))

	mappings, err := res.Store.ListMerchantMappings(ctx, "")
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	keys := []string{mappings[0].MerchantKey, mappings[1].MerchantKey}
	assert.ElementsMatch(t, []string{"posto shell", "padaria"}, keys)

	require.NoError(t, res.Store.CreateImport(ctx, core.Import{ID: "i1", HouseholdID: "h1", SourceKind: core.SourceStatementFile}))
	_, err = res.Store.GetImport(ctx, "i1")
	assert.NoError(t, err)
}

func TestCreateBackendRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"unknown type", Config{Type: "sheets", Uploads: MemoryUploads}},
		{"unknown uploads", Config{Type: MemoryBackend, Uploads: "s3"}},
		{"sqlite without path", Config{Type: SQLiteBackend, Uploads: MemoryUploads}},
		{"postgres without url", Config{Type: PostgresBackend, Uploads: MemoryUploads}},
		{"local without dir", Config{Type: MemoryBackend, Uploads: LocalUploads}},
		{"gcs without bucket", Config{Type: MemoryBackend, Uploads: GCSUploads}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFactory(nil).CreateBackend(context.Background(), tt.config)
			assert.Error(t, err)
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	assert.Error(t, err)

	cfg, err := FromAppConfig(&config.Config{
		DataBackend:   "sqlite",
		SQLiteDBPath:  "./data/orcamento.db",
		UploadBackend: "gcs",
		GCSBucket:     "uploads",
		GCSPrefix:     "imports",
		AMQPURL:       "amqp://localhost:5672/",
		AMQPExchange:  "orcamento",
		AMQPQueue:     "import_requests",
	})
	require.NoError(t, err)
	assert.Equal(t, SQLiteBackend, cfg.Type)
	assert.Equal(t, GCSUploads, cfg.Uploads)
	assert.Equal(t, "imports", cfg.GCSPrefix)
	assert.Equal(t, "import_requests", cfg.AMQPQueue)

	_, err = FromAppConfig(&config.Config{DataBackend: "sheets", UploadBackend: "local", UploadDir: "x"})
	assert.Error(t, err)
}

func TestCleanupRunsInReverseOrder(t *testing.T) {
	var order []int
	res := &BackendResult{}
	res.addCleanup(func() error { order = append(order, 1); return nil })
	res.addCleanup(func() error { order = append(order, 2); return assert.AnError })

	assert.ErrorIs(t, res.Cleanup(), assert.AnError)
	assert.Equal(t, []int{2, 1}, order)
	assert.NoError(t, res.Cleanup())
}
