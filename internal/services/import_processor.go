package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"orcamento/internal/categorize"
	"orcamento/internal/core"
	"orcamento/internal/fingerprint"
	"orcamento/internal/ledger"
	applog "orcamento/internal/log"
	"orcamento/internal/statement"
	"orcamento/internal/vision"
)

// RawData keys added next to the adapter metadata.
const (
	RawSignedAmount = "signed_amount"
	RawCategoryTier = "category_tier"
)

// failureWriteTimeout bounds the best-effort failed status update.
const failureWriteTimeout = 10 * time.Second

// ImportRequest identifies one import to run. Household, source kind and file
// reference default to the values stored on the import row.
type ImportRequest struct {
	ImportID    string
	HouseholdID string
	MonthID     string
	CardID      string
	SourceKind  core.SourceKind
	FileRef     string
	MIMEType    string
}

// ImportResult is the final state of a processed import.
type ImportResult struct {
	Import  core.Import
	Summary core.ImportSummary
}

// ImportProcessorDeps groups the collaborators of an ImportProcessor.
// Classifier may be nil, in which case image imports fail.
type ImportProcessorDeps struct {
	Imports      ledger.ImportStore
	Transactions ledger.TransactionStore
	Mappings     ledger.MappingReader
	Uploads      ledger.UploadStore
	Classifier   vision.Classifier
}

// ImportProcessor drives one import from pending to completed or failed.
type ImportProcessor struct {
	imports    ledger.ImportStore
	txs        ledger.TransactionStore
	mappings   ledger.MappingReader
	uploads    ledger.UploadStore
	classifier vision.Classifier
	logger     *applog.Logger
	now        func() time.Time
}

func NewImportProcessor(deps ImportProcessorDeps) *ImportProcessor {
	return &ImportProcessor{
		imports:    deps.Imports,
		txs:        deps.Transactions,
		mappings:   deps.Mappings,
		uploads:    deps.Uploads,
		classifier: deps.Classifier,
		logger:     applog.WithComponent(applog.ComponentImport),
		now:        time.Now,
	}
}

// Process runs the import end to end and writes its terminal status. The
// returned error is the cause of a failed import; the failed status has
// already been written when it is returned alongside a result. Imports that
// are already completed or failed are left untouched and core.ErrImportFinished
// is returned.
func (p *ImportProcessor) Process(ctx context.Context, req ImportRequest) (res ImportResult, err error) {
	imp, err := p.imports.GetImport(ctx, req.ImportID)
	if err != nil {
		return ImportResult{}, fmt.Errorf("load import %s: %w", req.ImportID, err)
	}
	if imp.Status.IsTerminal() {
		return ImportResult{Import: imp}, core.ErrImportFinished
	}
	req = p.fillRequest(req, imp)
	fields := applog.NewFields().WithImport(imp)
	fields[applog.FieldMonthID] = req.MonthID

	var summary core.ImportSummary
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", errInternal, r)
			res = p.fail(ctx, imp, summary, err)
		}
	}()

	start := p.now()
	count, runErr := p.run(ctx, imp, req, &summary)
	if runErr != nil {
		return p.fail(ctx, imp, summary, runErr), runErr
	}

	at := p.now()
	if err := p.imports.CompleteImport(ctx, imp.ID, count, at); err != nil {
		err = storageErr("complete import", err)
		return p.fail(ctx, imp, summary, err), err
	}
	imp.Status = core.ImportCompleted
	imp.TransactionCount = count
	imp.ProcessedAt = &at

	fields = fields.WithSummary(summary)
	fields[applog.FieldDuration] = p.now().Sub(start).Milliseconds()
	p.logger.InfoContext(ctx, "Import completed", fields.ToSlice()...)

	return ImportResult{Import: imp, Summary: summary}, nil
}

var errInternal = errors.New("internal error")

// Fail marks a pending import failed. It is used when a request cannot be
// processed at all, e.g. an event that names an import but is otherwise invalid.
func (p *ImportProcessor) Fail(ctx context.Context, importID string, cause error) error {
	imp, err := p.imports.GetImport(ctx, importID)
	if err != nil {
		return fmt.Errorf("load import %s: %w", importID, err)
	}
	if imp.Status.IsTerminal() {
		return core.ErrImportFinished
	}
	p.fail(ctx, imp, core.ImportSummary{}, cause)
	return nil
}

func (p *ImportProcessor) fillRequest(req ImportRequest, imp core.Import) ImportRequest {
	if req.HouseholdID == "" {
		req.HouseholdID = imp.HouseholdID
	}
	if req.SourceKind == "" {
		req.SourceKind = imp.SourceKind
	}
	if req.FileRef == "" {
		req.FileRef = imp.FileRef
	}
	return req
}

func (p *ImportProcessor) run(ctx context.Context, imp core.Import, req ImportRequest, summary *core.ImportSummary) (int, error) {
	if req.HouseholdID != imp.HouseholdID {
		return 0, fmt.Errorf("%w: request household %q does not own import", errInternal, req.HouseholdID)
	}
	if req.SourceKind != imp.SourceKind || !imp.SourceKind.IsValid() {
		return 0, fmt.Errorf("%w: unsupported source kind %q", errInternal, req.SourceKind)
	}

	data, err := p.uploads.Fetch(ctx, req.FileRef)
	if err != nil {
		return 0, storageErr("fetch upload", err)
	}

	hash := fingerprint.File(data, imp.HouseholdID)
	other, found, err := p.imports.FindActiveImportByHash(ctx, imp.HouseholdID, hash, imp.ID)
	if err != nil {
		return 0, storageErr("check file hash", err)
	}
	if found {
		return 0, fmt.Errorf("%w: already imported by %s", core.ErrDuplicateFile, other.ID)
	}
	if err := p.imports.SetImportFileHash(ctx, imp.ID, hash); err != nil {
		if errors.Is(err, core.ErrDuplicateFile) {
			return 0, err
		}
		return 0, storageErr("set file hash", err)
	}

	candidates, err := p.extract(ctx, imp.SourceKind, data, req.MIMEType, summary)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, core.ErrNoTransactions
	}

	survivors, err := p.filter(ctx, imp, candidates, summary)
	if err != nil {
		return 0, err
	}
	if len(survivors) == 0 {
		return 0, nil
	}

	mappings, err := p.mappings.ListMerchantMappings(ctx, imp.HouseholdID)
	if err != nil {
		return 0, storageErr("load merchant mappings", err)
	}
	table := categorize.NewTable(mappings)

	batch := make([]core.Transaction, 0, len(survivors))
	for _, c := range survivors {
		tx := p.buildTransaction(imp, req, c, table)
		if err := tx.Validate(); err != nil {
			summary.Malformed++
			continue
		}
		if tx.CategoryID != nil {
			summary.Categorized++
		}
		batch = append(batch, tx)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	if err := p.txs.InsertTransactions(ctx, batch); err != nil {
		return 0, storageErr("insert transactions", err)
	}
	summary.Inserted = len(batch)
	return len(batch), nil
}

func (p *ImportProcessor) extract(ctx context.Context, kind core.SourceKind, data []byte, mimeType string, summary *core.ImportSummary) ([]core.ExtractedTransaction, error) {
	switch kind {
	case core.SourceStatementFile:
		res, err := statement.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse statement: %w", err)
		}
		summary.Extracted = len(res.Transactions)
		summary.Malformed = res.Malformed
		return res.Transactions, nil

	case core.SourceStatementImage:
		if p.classifier == nil {
			return nil, fmt.Errorf("%w: image classification is not configured", errInternal)
		}
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		text, err := p.classifier.Classify(ctx, data, mimeType)
		if err != nil {
			return nil, fmt.Errorf("classify image: %w", err)
		}
		res := vision.ParseResponse(text)
		if !res.Decoded {
			p.logger.WarnContext(ctx, "Classifier answer is not JSON", "answer_prefix", prefix(text, 120))
		}
		summary.Extracted = len(res.Transactions)
		summary.Malformed = res.Malformed
		return res.Transactions, nil
	}
	return nil, fmt.Errorf("%w: unsupported source kind %q", errInternal, kind)
}

type candidate struct {
	core.ExtractedTransaction
	fingerprint string
}

// filter drops candidates already persisted for the household, credits from
// statement files, and repeats of a fingerprint within the batch.
func (p *ImportProcessor) filter(ctx context.Context, imp core.Import, extracted []core.ExtractedTransaction, summary *core.ImportSummary) ([]candidate, error) {
	all := make([]candidate, len(extracted))
	fps := make([]string, len(extracted))
	for i, e := range extracted {
		fp := fingerprint.Transaction(imp.HouseholdID, e.Date.ISO(), e.Amount, e.MerchantRaw)
		all[i] = candidate{ExtractedTransaction: e, fingerprint: fp}
		fps[i] = fp
	}

	existing, err := p.txs.ExistingFingerprints(ctx, imp.HouseholdID, fps)
	if err != nil {
		return nil, storageErr("load existing fingerprints", err)
	}

	seen := make(map[string]struct{}, len(all))
	out := make([]candidate, 0, len(all))
	for _, c := range all {
		if _, ok := existing[c.fingerprint]; ok {
			summary.Duplicates++
			continue
		}
		if imp.SourceKind == core.SourceStatementFile && !c.Amount.IsNegative() {
			summary.SkippedNonDebit++
			continue
		}
		if _, ok := seen[c.fingerprint]; ok {
			summary.Duplicates++
			continue
		}
		seen[c.fingerprint] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

func (p *ImportProcessor) buildTransaction(imp core.Import, req ImportRequest, c candidate, table *categorize.Table) core.Transaction {
	normalized := core.NormalizeMerchant(c.MerchantRaw)
	match := table.Categorize(normalized)

	raw := make(map[string]string, len(c.Metadata)+2)
	for k, v := range c.Metadata {
		raw[k] = v
	}
	raw[RawSignedAmount] = c.Amount.String()
	if match.Matched() {
		raw[RawCategoryTier] = match.Tier.String()
	}

	importID := imp.ID
	tx := core.Transaction{
		ID:                 uuid.NewString(),
		HouseholdID:        imp.HouseholdID,
		MonthID:            req.MonthID,
		ImportID:           &importID,
		Merchant:           strings.TrimSpace(c.MerchantRaw),
		MerchantNormalized: normalized,
		Amount:             c.Amount.Abs(),
		Date:               c.Date,
		Confidence:         match.Confidence,
		Source:             imp.SourceKind,
		Fingerprint:        c.fingerprint,
		InternalTransfer:   false,
		NeedsReview:        match.NeedsReview,
		RawData:            raw,
		CreatedAt:          p.now(),
	}
	if req.CardID != "" {
		card := req.CardID
		tx.CardID = &card
	}
	if match.Matched() {
		category := match.CategoryID
		tx.CategoryID = &category
	}
	return tx
}

// fail writes the failed status with a context that survives cancellation of
// the caller, and returns the resulting import.
func (p *ImportProcessor) fail(ctx context.Context, imp core.Import, summary core.ImportSummary, cause error) ImportResult {
	msg := core.TruncateErrorMessage(cause.Error())
	at := p.now()

	fields := applog.NewFields().WithImport(imp).WithSummary(summary).WithError(cause)
	p.logger.WarnContext(ctx, "Import failed", fields.ToSlice()...)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := p.imports.FailImport(wctx, imp.ID, msg, at); err != nil && !errors.Is(err, core.ErrImportFinished) {
		p.logger.ErrorContext(ctx, "Failed to record import failure",
			slog.String(applog.FieldImportID, imp.ID),
			slog.Any(applog.FieldError, err))
	} else if err == nil {
		imp.Status = core.ImportFailed
		imp.ErrorMessage = msg
		imp.ProcessedAt = &at
	}
	return ImportResult{Import: imp, Summary: summary}
}

// storageErr tags err as a storage failure unless it already is one.
func storageErr(op string, err error) error {
	if errors.Is(err, core.ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return core.StorageError(op, err)
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
