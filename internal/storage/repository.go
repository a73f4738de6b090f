package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"orcamento/internal/core"
)

// pragmas applied to every pooled connection.
const pragmas = "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"

// SQLiteRepository implements ledger.Store on a local SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations
	version, err := RunMigrations(dbPath)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// single writer, avoids SQLITE_BUSY on lock upgrades
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("SQLite repository ready", "db_path", dbPath, "schema_version", version)

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const importColumns = `id, household_id, source_kind, status, file_name, file_ref, file_hash,
	transaction_count, error_message, created_at, processed_at`

func (r *SQLiteRepository) CreateImport(ctx context.Context, imp core.Import) error {
	if imp.Status == "" {
		imp.Status = core.ImportPending
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO imports (`+importColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		imp.ID, imp.HouseholdID, string(imp.SourceKind), string(imp.Status), imp.FileName, imp.FileRef,
		imp.FileHash, imp.TransactionCount, imp.ErrorMessage, imp.CreatedAt.UnixNano(), nullTime(imp.ProcessedAt))
	if isUniqueViolation(err) && imp.FileHash != "" && strings.Contains(err.Error(), "file_hash") {
		return fmt.Errorf("create import: %w", core.ErrDuplicateFile)
	}
	if err != nil {
		return fmt.Errorf("create import: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetImport(ctx context.Context, id string) (core.Import, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+importColumns+` FROM imports WHERE id = ?`, id)
	imp, err := scanImport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Import{}, core.ErrImportNotFound
	}
	if err != nil {
		return core.Import{}, fmt.Errorf("get import %s: %w", id, err)
	}
	return imp, nil
}

func (r *SQLiteRepository) FindActiveImportByHash(ctx context.Context, householdID, fileHash, excludeID string) (core.Import, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+importColumns+` FROM imports
		WHERE household_id = ? AND file_hash = ? AND id <> ? AND status <> 'failed'
		ORDER BY created_at, id LIMIT 1`, householdID, fileHash, excludeID)
	imp, err := scanImport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Import{}, false, nil
	}
	if err != nil {
		return core.Import{}, false, fmt.Errorf("find import by hash: %w", err)
	}
	return imp, true, nil
}

func (r *SQLiteRepository) SetImportFileHash(ctx context.Context, id, fileHash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE imports SET file_hash = ? WHERE id = ?`, fileHash, id)
	if isUniqueViolation(err) {
		return fmt.Errorf("set file hash: %w", core.ErrDuplicateFile)
	}
	if err != nil {
		return fmt.Errorf("set file hash: %w", err)
	}
	return expectOne(res, core.ErrImportNotFound)
}

func (r *SQLiteRepository) CompleteImport(ctx context.Context, id string, count int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE imports
		SET status = 'completed', transaction_count = ?, processed_at = ?
		WHERE id = ? AND status = 'pending'`, count, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("complete import: %w", err)
	}
	return r.finished(ctx, res, id)
}

func (r *SQLiteRepository) FailImport(ctx context.Context, id, message string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE imports
		SET status = 'failed', error_message = ?, processed_at = ?
		WHERE id = ? AND status = 'pending'`, core.TruncateErrorMessage(message), at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("fail import: %w", err)
	}
	return r.finished(ctx, res, id)
}

// finished tells a missing import apart from one already terminal when a
// status update matched nothing.
func (r *SQLiteRepository) finished(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetImport(ctx, id); err != nil {
		return err
	}
	return core.ErrImportFinished
}

func (r *SQLiteRepository) ListStalePendingImports(ctx context.Context, olderThan time.Time, limit int) ([]core.Import, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+importColumns+` FROM imports
		WHERE status = 'pending' AND created_at < ?
		ORDER BY created_at, id LIMIT ?`, olderThan.UnixNano(), limit)
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

func (r *SQLiteRepository) ExistingFingerprints(ctx context.Context, householdID string, candidates []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(candidates) == 0 {
		return out, nil
	}

	// stay well below SQLITE_MAX_VARIABLE_NUMBER
	const chunk = 500
	for start := 0; start < len(candidates); start += chunk {
		end := min(start+chunk, len(candidates))
		part := candidates[start:end]

		args := make([]any, 0, len(part)+1)
		args = append(args, householdID)
		for _, fp := range part {
			args = append(args, fp)
		}
		query := `SELECT fingerprint FROM transactions WHERE household_id = ? AND fingerprint IN (?` +
			strings.Repeat(", ?", len(part)-1) + `)`

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("existing fingerprints: %w", err)
		}
		for rows.Next() {
			var fp string
			if err := rows.Scan(&fp); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan fingerprint: %w", err)
			}
			out[fp] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("existing fingerprints: %w", err)
		}
	}
	return out, nil
}

// InsertTransactions writes the batch in one transaction; a fingerprint
// collision rolls back every row.
func (r *SQLiteRepository) InsertTransactions(ctx context.Context, txs []core.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transactions (
		id, household_id, month_id, import_id, card_id, merchant, merchant_normalized,
		amount_cents, date, category_id, confidence, source, fingerprint,
		internal_transfer, needs_review, raw_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range txs {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("insert transactions: %w", err)
		}
		raw, err := encodeRawData(t.RawData)
		if err != nil {
			return fmt.Errorf("encode raw data: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			t.ID, t.HouseholdID, t.MonthID, nullString(t.ImportID), nullString(t.CardID), t.Merchant,
			t.MerchantNormalized, t.Amount.Cents, t.Date.ISO(), nullString(t.CategoryID), string(t.Confidence),
			string(t.Source), t.Fingerprint, t.InternalTransfer, t.NeedsReview, raw, t.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.Fingerprint, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transactions: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListTransactionsByImport(ctx context.Context, importID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT
		id, household_id, month_id, import_id, card_id, merchant, merchant_normalized,
		amount_cents, date, category_id, confidence, source, fingerprint,
		internal_transfer, needs_review, raw_data, created_at
		FROM transactions WHERE import_id = ? ORDER BY rowid`, importID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			t                        core.Transaction
			importRef, card, cat     sql.NullString
			date, confidence, source string
			raw                      string
			createdAt                int64
		)
		err := rows.Scan(&t.ID, &t.HouseholdID, &t.MonthID, &importRef, &card, &t.Merchant, &t.MerchantNormalized,
			&t.Amount.Cents, &date, &cat, &confidence, &source, &t.Fingerprint,
			&t.InternalTransfer, &t.NeedsReview, &raw, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.Date, err = core.ParseISODate(date); err != nil {
			return nil, fmt.Errorf("transaction %s date %q: %w", t.ID, date, err)
		}
		if t.RawData, err = decodeRawData(raw); err != nil {
			return nil, fmt.Errorf("transaction %s raw data: %w", t.ID, err)
		}
		t.ImportID = stringPtr(importRef)
		t.CardID = stringPtr(card)
		t.CategoryID = stringPtr(cat)
		t.Confidence = core.Confidence(confidence)
		t.Source = core.SourceKind(source)
		t.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListMerchantMappings returns global and household mappings, household
// first and most used first within each scope.
func (r *SQLiteRepository) ListMerchantMappings(ctx context.Context, householdID string) ([]core.MerchantMapping, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT merchant_key, category_id, household_id, usage_count
		FROM merchant_mappings
		WHERE household_id = '' OR household_id = ?
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

func (r *SQLiteRepository) SaveMerchantMapping(ctx context.Context, m core.MerchantMapping) error {
	key := core.NormalizeMerchant(m.MerchantKey)
	if key == "" || strings.TrimSpace(m.CategoryID) == "" {
		return fmt.Errorf("save merchant mapping: key and category are required")
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO merchant_mappings (household_id, merchant_key, category_id, usage_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (household_id, merchant_key)
		DO UPDATE SET category_id = excluded.category_id, usage_count = excluded.usage_count`,
		m.HouseholdID, key, m.CategoryID, m.UsageCount)
	if err != nil {
		return fmt.Errorf("save merchant mapping: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanImport(s scanner) (core.Import, error) {
	var (
		imp            core.Import
		kind, status   string
		createdAt      int64
		processedAtRaw sql.NullInt64
	)
	err := s.Scan(&imp.ID, &imp.HouseholdID, &kind, &status, &imp.FileName, &imp.FileRef, &imp.FileHash,
		&imp.TransactionCount, &imp.ErrorMessage, &createdAt, &processedAtRaw)
	if err != nil {
		return core.Import{}, err
	}
	imp.SourceKind = core.SourceKind(kind)
	imp.Status = core.ImportStatus(status)
	imp.CreatedAt = time.Unix(0, createdAt).UTC()
	if processedAtRaw.Valid {
		at := time.Unix(0, processedAtRaw.Int64).UTC()
		imp.ProcessedAt = &at
	}
	return imp, nil
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
		(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(serr.Error(), "UNIQUE"))
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func encodeRawData(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func decodeRawData(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
