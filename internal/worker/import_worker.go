package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"orcamento/internal/amqp"
	"orcamento/internal/core"
	"orcamento/internal/services"
)

// ImportWorker runs imports announced on the broker.
type ImportWorker struct {
	processor *services.ImportProcessor
	timeout   time.Duration
}

// NewImportWorker creates a worker. timeout bounds a single import and is
// ignored when zero.
func NewImportWorker(processor *services.ImportProcessor, timeout time.Duration) *ImportWorker {
	return &ImportWorker{
		processor: processor,
		timeout:   timeout,
	}
}

// HandleImportRequested processes one upload-complete event. It returns nil
// once the import reached a terminal state, including failed ones; an error
// means the import could not be touched at all and the delivery is dropped.
func (w *ImportWorker) HandleImportRequested(ctx context.Context, msg *amqp.ImportRequestedMessage) error {
	if err := msg.Validate(); err != nil {
		if msg.ImportID == "" {
			return fmt.Errorf("invalid import request: %w", err)
		}
		slog.WarnContext(ctx, "Invalid import request",
			"import_id", msg.ImportID,
			"error", err)
		ferr := w.processor.Fail(ctx, msg.ImportID, fmt.Errorf("invalid import request: %w", err))
		if ferr != nil && !errors.Is(ferr, core.ErrImportFinished) {
			return ferr
		}
		return nil
	}

	slog.InfoContext(ctx, "Processing import request",
		"import_id", msg.ImportID,
		"household_id", msg.HouseholdID,
		"source_kind", msg.SourceKind,
		"file_ref", msg.FileRef)

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	res, err := w.processor.Process(ctx, services.ImportRequest{
		ImportID:    msg.ImportID,
		HouseholdID: msg.HouseholdID,
		MonthID:     msg.MonthID,
		CardID:      msg.CardID,
		SourceKind:  msg.SourceKind,
		FileRef:     msg.FileRef,
		MIMEType:    msg.MIMEType,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrImportFinished):
		slog.InfoContext(ctx, "Import already finished, skipping redelivery",
			"import_id", msg.ImportID,
			"status", res.Import.Status)
		return nil
	case res.Import.ID != "":
		// failure already recorded on the import
		return nil
	default:
		return err
	}
}
