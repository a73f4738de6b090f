package backend

import (
	"context"
	"fmt"

	"orcamento/internal/amqp"
	"orcamento/internal/cache"
	"orcamento/internal/ledger"
	"orcamento/internal/ledger/memory"
	applog "orcamento/internal/log"
	"orcamento/internal/storage"
	"orcamento/internal/storage/postgres"
	"orcamento/internal/uploads"
	"orcamento/internal/vision"
)

// mappingCacheSize bounds how many households keep cached mappings.
const mappingCacheSize = 256

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *applog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *applog.Logger) Factory {
	if logger == nil {
		logger = applog.WithComponent(applog.ComponentBackend)
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend. On error every resource
// created so far is released.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (_ *BackendResult, err error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	res := &BackendResult{}
	defer func() {
		if err != nil {
			_ = res.Cleanup()
		}
	}()

	if res.Store, err = f.createStore(ctx, config); err != nil {
		return nil, err
	}
	res.addCleanup(res.Store.Close)

	res.Mappings = res.Store
	if config.MappingsCacheTTL > 0 {
		res.Mappings = cache.NewMappingReader(res.Store, mappingCacheSize, config.MappingsCacheTTL)
	}

	if res.Uploads, err = f.createUploads(ctx, config, res); err != nil {
		return nil, err
	}

	// AMQP is optional; without it imports are processed inline
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing with inline processing", "error", err)
		} else {
			res.Broker = client
			res.addCleanup(client.Close)
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	if config.GeminiAPIKey != "" {
		client, err := vision.NewClient(ctx, config.GeminiAPIKey, config.GeminiModel)
		if err != nil {
			f.logger.Warn("Failed to initialize vision client, image imports will fail", "error", err)
		} else {
			res.Classifier = client
		}
	}

	f.logger.Info("Initialized backend",
		"type", config.Type.String(),
		"uploads", string(config.Uploads),
		"amqp_enabled", res.Broker != nil,
		"vision_enabled", res.Classifier != nil)

	return res, nil
}

func (f *DefaultFactory) createStore(ctx context.Context, config Config) (ledger.Store, error) {
	switch config.Type {
	case MemoryBackend:
		store := memory.NewFromFile(config.MappingsFile)
		f.logger.Info("Initialized memory backend", "mappings_file", config.MappingsFile)
		return store, nil

	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		if err := f.seedMappings(ctx, repo, config.MappingsFile); err != nil {
			repo.Close()
			return nil, err
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return repo, nil

	case PostgresBackend:
		repo, err := postgres.Open(ctx, postgres.DefaultConfig(config.DatabaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres repository: %w", err)
		}
		if err := f.seedMappings(ctx, repo, config.MappingsFile); err != nil {
			repo.Close()
			return nil, err
		}
		f.logger.Info("Initialized Postgres backend")
		return repo, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// seedMappings upserts the global mappings listed in path, if any.
func (f *DefaultFactory) seedMappings(ctx context.Context, w ledger.MappingWriter, path string) error {
	if path == "" {
		return nil
	}
	mappings := memory.ReadMappings(path)
	for _, m := range mappings {
		if err := w.SaveMerchantMapping(ctx, m); err != nil {
			return fmt.Errorf("seed merchant mapping %q: %w", m.MerchantKey, err)
		}
	}
	f.logger.Info("Seeded merchant mappings", "path", path, "count", len(mappings))
	return nil
}

func (f *DefaultFactory) createUploads(ctx context.Context, config Config, res *BackendResult) (ledger.UploadStore, error) {
	switch config.Uploads {
	case MemoryUploads:
		return uploads.NewMemory(), nil

	case LocalUploads:
		local, err := uploads.NewLocal(config.UploadDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize upload directory: %w", err)
		}
		return local, nil

	case GCSUploads:
		gcs, err := uploads.NewGCS(ctx, config.GCSBucket, config.GCSPrefix, config.GCSCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GCS uploads: %w", err)
		}
		res.addCleanup(gcs.Close)
		return gcs, nil

	default:
		return nil, fmt.Errorf("unsupported upload type: %s", config.Uploads)
	}
}
