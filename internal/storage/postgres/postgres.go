// Package postgres implements the ledger store on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"orcamento/internal/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = "23505"

// Config tunes the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// DefaultConfig returns pool settings for dsn.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
	}
}

// Repository implements ledger.Store on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// Open connects, migrates the schema and returns the repository.
func Open(ctx context.Context, cfg Config) (*Repository, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "orcamento"

	if err := RunMigrations(pc.ConnConfig); err != nil {
		return nil, err
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.InfoContext(ctx, "PostgreSQL repository ready",
		"host", pc.ConnConfig.Host,
		"database", pc.ConnConfig.Database)

	return &Repository{pool: pool}, nil
}

// RunMigrations applies the embedded schema over a dedicated connection.
func RunMigrations(connConfig *pgx.ConnConfig) error {
	db := stdlib.OpenDB(*connConfig)
	defer db.Close()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("create pgx migrate driver: %w", err)
	}

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

// Ping reports whether the pool can reach the database.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const importColumns = `id, household_id, source_kind, status, file_name, file_ref, file_hash,
	transaction_count, error_message, created_at, processed_at`

func (r *Repository) CreateImport(ctx context.Context, imp core.Import) error {
	if imp.Status == "" {
		imp.Status = core.ImportPending
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO imports (`+importColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		imp.ID, imp.HouseholdID, string(imp.SourceKind), string(imp.Status), imp.FileName, imp.FileRef,
		imp.FileHash, imp.TransactionCount, imp.ErrorMessage, imp.CreatedAt, imp.ProcessedAt)
	if isUniqueViolation(err, "idx_imports_active_hash") {
		return fmt.Errorf("create import: %w", core.ErrDuplicateFile)
	}
	if err != nil {
		return fmt.Errorf("create import: %w", err)
	}
	return nil
}

func (r *Repository) GetImport(ctx context.Context, id string) (core.Import, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+importColumns+` FROM imports WHERE id = $1`, id)
	imp, err := scanImport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Import{}, core.ErrImportNotFound
	}
	if err != nil {
		return core.Import{}, fmt.Errorf("get import %s: %w", id, err)
	}
	return imp, nil
}

func (r *Repository) FindActiveImportByHash(ctx context.Context, householdID, fileHash, excludeID string) (core.Import, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+importColumns+` FROM imports
		WHERE household_id = $1 AND file_hash = $2 AND id <> $3 AND status <> 'failed'
		ORDER BY created_at, id LIMIT 1`, householdID, fileHash, excludeID)
	imp, err := scanImport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Import{}, false, nil
	}
	if err != nil {
		return core.Import{}, false, fmt.Errorf("find import by hash: %w", err)
	}
	return imp, true, nil
}

func (r *Repository) SetImportFileHash(ctx context.Context, id, fileHash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE imports SET file_hash = $1 WHERE id = $2`, fileHash, id)
	if isUniqueViolation(err, "idx_imports_active_hash") {
		return fmt.Errorf("set file hash: %w", core.ErrDuplicateFile)
	}
	if err != nil {
		return fmt.Errorf("set file hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrImportNotFound
	}
	return nil
}

func (r *Repository) CompleteImport(ctx context.Context, id string, count int, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE imports
		SET status = 'completed', transaction_count = $1, processed_at = $2
		WHERE id = $3 AND status = 'pending'`, count, at, id)
	if err != nil {
		return fmt.Errorf("complete import: %w", err)
	}
	return r.finished(ctx, tag, id)
}

func (r *Repository) FailImport(ctx context.Context, id, message string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE imports
		SET status = 'failed', error_message = $1, processed_at = $2
		WHERE id = $3 AND status = 'pending'`, core.TruncateErrorMessage(message), at, id)
	if err != nil {
		return fmt.Errorf("fail import: %w", err)
	}
	return r.finished(ctx, tag, id)
}

func (r *Repository) finished(ctx context.Context, tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.GetImport(ctx, id); err != nil {
		return err
	}
	return core.ErrImportFinished
}

func (r *Repository) ListStalePendingImports(ctx context.Context, olderThan time.Time, limit int) ([]core.Import, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.pool.Query(ctx, `SELECT `+importColumns+` FROM imports
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at, id LIMIT $2`, olderThan, lim)
	if err != nil {
		return nil, fmt.Errorf("list stale imports: %w", err)
	}
	defer rows.Close()

	var out []core.Import
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}

func (r *Repository) ExistingFingerprints(ctx context.Context, householdID string, candidates []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(candidates) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT fingerprint FROM transactions
		WHERE household_id = $1 AND fingerprint = ANY($2)`, householdID, candidates)
	if err != nil {
		return nil, fmt.Errorf("existing fingerprints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out[fp] = struct{}{}
	}
	return out, rows.Err()
}

// InsertTransactions sends the batch inside one database transaction.
func (r *Repository) InsertTransactions(ctx context.Context, txs []core.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	for _, t := range txs {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("insert transactions: %w", err)
		}
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range txs {
			raw := t.RawData
			if raw == nil {
				raw = map[string]string{}
			}
			batch.Queue(`INSERT INTO transactions (
				id, household_id, month_id, import_id, card_id, merchant, merchant_normalized,
				amount_cents, date, category_id, confidence, source, fingerprint,
				internal_transfer, needs_review, raw_data, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
				t.ID, t.HouseholdID, t.MonthID, t.ImportID, t.CardID, t.Merchant, t.MerchantNormalized,
				t.Amount.Cents, t.Date.Time, t.CategoryID, string(t.Confidence), string(t.Source), t.Fingerprint,
				t.InternalTransfer, t.NeedsReview, raw, t.CreatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert transactions: %w", err)
		}
		return nil
	})
}

func (r *Repository) ListTransactionsByImport(ctx context.Context, importID string) ([]core.Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT
		id, household_id, month_id, import_id, card_id, merchant, merchant_normalized,
		amount_cents, date, category_id, confidence, source, fingerprint,
		internal_transfer, needs_review, raw_data, created_at
		FROM transactions WHERE import_id = $1 ORDER BY seq`, importID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			t                  core.Transaction
			date, createdAt    time.Time
			confidence, source string
		)
		err := rows.Scan(&t.ID, &t.HouseholdID, &t.MonthID, &t.ImportID, &t.CardID, &t.Merchant, &t.MerchantNormalized,
			&t.Amount.Cents, &date, &t.CategoryID, &confidence, &source, &t.Fingerprint,
			&t.InternalTransfer, &t.NeedsReview, &t.RawData, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if len(t.RawData) == 0 {
			t.RawData = nil
		}
		t.Date = core.NewDate(date.Year(), int(date.Month()), date.Day())
		t.Confidence = core.Confidence(confidence)
		t.Source = core.SourceKind(source)
		t.CreatedAt = createdAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) ListMerchantMappings(ctx context.Context, householdID string) ([]core.MerchantMapping, error) {
	rows, err := r.pool.Query(ctx, `SELECT merchant_key, category_id, household_id, usage_count
		FROM merchant_mappings
		WHERE household_id = '' OR household_id = $1
		ORDER BY household_id = '', usage_count DESC, merchant_key`, householdID)
	if err != nil {
		return nil, fmt.Errorf("list merchant mappings: %w", err)
	}
	defer rows.Close()

	var out []core.MerchantMapping
	for rows.Next() {
		var m core.MerchantMapping
		if err := rows.Scan(&m.MerchantKey, &m.CategoryID, &m.HouseholdID, &m.UsageCount); err != nil {
			return nil, fmt.Errorf("scan merchant mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) SaveMerchantMapping(ctx context.Context, m core.MerchantMapping) error {
	key := core.NormalizeMerchant(m.MerchantKey)
	if key == "" || strings.TrimSpace(m.CategoryID) == "" {
		return fmt.Errorf("save merchant mapping: key and category are required")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO merchant_mappings (household_id, merchant_key, category_id, usage_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (household_id, merchant_key)
		DO UPDATE SET category_id = EXCLUDED.category_id, usage_count = EXCLUDED.usage_count`,
		m.HouseholdID, key, m.CategoryID, m.UsageCount)
	if err != nil {
		return fmt.Errorf("save merchant mapping: %w", err)
	}
	return nil
}

func scanImport(row pgx.Row) (core.Import, error) {
	var (
		imp          core.Import
		kind, status string
		processedAt  *time.Time
	)
	err := row.Scan(&imp.ID, &imp.HouseholdID, &kind, &status, &imp.FileName, &imp.FileRef, &imp.FileHash,
		&imp.TransactionCount, &imp.ErrorMessage, &imp.CreatedAt, &processedAt)
	if err != nil {
		return core.Import{}, err
	}
	imp.SourceKind = core.SourceKind(kind)
	imp.Status = core.ImportStatus(status)
	imp.CreatedAt = imp.CreatedAt.UTC()
	if processedAt != nil {
		at := processedAt.UTC()
		imp.ProcessedAt = &at
	}
	return imp, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}
