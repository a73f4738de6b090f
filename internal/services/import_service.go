package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"orcamento/internal/amqp"
	"orcamento/internal/core"
	"orcamento/internal/ledger"
	"orcamento/internal/uploads"
)

// ErrInvalidUpload is returned by Submit for incomplete uploads.
var ErrInvalidUpload = errors.New("invalid upload")

// ImportPublisher emits the upload-complete event.
type ImportPublisher interface {
	PublishImportRequested(ctx context.Context, msg *amqp.ImportRequestedMessage) error
}

// Upload is one file submitted for import.
type Upload struct {
	HouseholdID string
	MonthID     string
	CardID      string
	SourceKind  core.SourceKind
	FileName    string
	MIMEType    string
	Data        []byte
}

func (u Upload) Validate() error {
	var errs []string
	if strings.TrimSpace(u.HouseholdID) == "" {
		errs = append(errs, "household_id is required")
	}
	if strings.TrimSpace(u.MonthID) == "" {
		errs = append(errs, "month_id is required")
	}
	if !u.SourceKind.IsValid() {
		errs = append(errs, "source_kind must be statement-file or statement-image")
	}
	if len(u.Data) == 0 {
		errs = append(errs, "file is empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidUpload, strings.Join(errs, "; "))
	}
	return nil
}

// ImportService accepts uploads and hands them to the processor, through the
// broker when one is configured and inline otherwise.
type ImportService struct {
	imports   ledger.ImportStore
	uploads   ledger.UploadStore
	processor *ImportProcessor
	publisher ImportPublisher
	timeout   time.Duration
}

// NewImportService creates the service. publisher may be nil; timeout bounds
// inline processing and is ignored when zero.
func NewImportService(imports ledger.ImportStore, uploadStore ledger.UploadStore, processor *ImportProcessor, publisher ImportPublisher, timeout time.Duration) *ImportService {
	return &ImportService{
		imports:   imports,
		uploads:   uploadStore,
		processor: processor,
		publisher: publisher,
		timeout:   timeout,
	}
}

// Submit stores the file, creates a pending import and triggers processing.
// With a broker the returned import is still pending; without one it is the
// terminal state reached by the inline run.
func (s *ImportService) Submit(ctx context.Context, u Upload) (core.Import, error) {
	if err := u.Validate(); err != nil {
		return core.Import{}, err
	}

	imp := core.Import{
		ID:          uuid.NewString(),
		HouseholdID: strings.TrimSpace(u.HouseholdID),
		SourceKind:  u.SourceKind,
		Status:      core.ImportPending,
		FileName:    u.FileName,
		CreatedAt:   time.Now().UTC(),
	}
	imp.FileRef = uploads.Key(imp.HouseholdID, imp.ID, u.FileName)

	if err := s.uploads.Put(ctx, imp.FileRef, u.Data); err != nil {
		return core.Import{}, storageErr("store upload", err)
	}
	if err := s.imports.CreateImport(ctx, imp); err != nil {
		return core.Import{}, storageErr("create import", err)
	}

	slog.InfoContext(ctx, "Import submitted",
		"import_id", imp.ID,
		"household_id", imp.HouseholdID,
		"source_kind", imp.SourceKind,
		"size_bytes", len(u.Data))

	if s.publisher != nil {
		msg := amqp.NewImportRequestedMessage(imp, u.MonthID, u.CardID, u.MIMEType)
		err := s.publisher.PublishImportRequested(ctx, msg)
		if err == nil {
			return imp, nil
		}
		slog.WarnContext(ctx, "Failed to publish import request, processing inline",
			"import_id", imp.ID,
			"error", err)
	}

	return s.processInline(ctx, imp, u)
}

func (s *ImportService) processInline(ctx context.Context, imp core.Import, u Upload) (core.Import, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.processor.Process(ctx, ImportRequest{
		ImportID:    imp.ID,
		HouseholdID: imp.HouseholdID,
		MonthID:     u.MonthID,
		CardID:      u.CardID,
		SourceKind:  imp.SourceKind,
		FileRef:     imp.FileRef,
		MIMEType:    u.MIMEType,
	})
	if res.Import.ID == "" {
		return core.Import{}, err
	}
	return res.Import, nil
}

// Get returns an import by id.
func (s *ImportService) Get(ctx context.Context, id string) (core.Import, error) {
	return s.imports.GetImport(ctx, id)
}
