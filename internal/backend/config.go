package backend

import (
	"fmt"
	"time"

	"orcamento/internal/config"
)

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string
	DatabaseURL  string
	// MappingsFile seeds global merchant mappings; optional.
	MappingsFile string
	// MappingsCacheTTL enables the mapping cache when positive.
	MappingsCacheTTL time.Duration

	Uploads            UploadType
	UploadDir          string
	GCSBucket          string
	GCSPrefix          string
	GCSCredentialsFile string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	GeminiAPIKey string
	GeminiModel  string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend:
		return true
	default:
		return false
	}
}

// UploadType selects where uploaded files are kept.
type UploadType string

const (
	MemoryUploads UploadType = "memory"
	LocalUploads  UploadType = "local"
	GCSUploads    UploadType = "gcs"
)

func (ut UploadType) IsValid() bool {
	switch ut {
	case MemoryUploads, LocalUploads, GCSUploads:
		return true
	default:
		return false
	}
}

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Type:         BackendType(appConfig.DataBackend),
		SQLiteDBPath: appConfig.SQLiteDBPath,
		DatabaseURL:  appConfig.DatabaseURL,
		MappingsFile: appConfig.MappingsFile,

		MappingsCacheTTL: appConfig.MappingsCacheTTL,

		Uploads:            UploadType(appConfig.UploadBackend),
		UploadDir:          appConfig.UploadDir,
		GCSBucket:          appConfig.GCSBucket,
		GCSPrefix:          appConfig.GCSPrefix,
		GCSCredentialsFile: appConfig.GCSCredentialsFile,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,

		GeminiAPIKey: appConfig.GeminiAPIKey,
		GeminiModel:  appConfig.GeminiModel,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if !c.Uploads.IsValid() {
		return fmt.Errorf("invalid upload type: %s", c.Uploads)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case PostgresBackend:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for postgres backend")
		}
	}

	switch c.Uploads {
	case LocalUploads:
		if c.UploadDir == "" {
			return fmt.Errorf("upload directory is required for local uploads")
		}
	case GCSUploads:
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS bucket is required for gcs uploads")
		}
	}

	// AMQP and vision are optional
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, SQLiteBackend, PostgresBackend}
}
