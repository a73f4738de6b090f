package amqp

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"orcamento/internal/core"
)

// ImportRequestedMessage is the upload-complete event. It carries references
// only; the worker reads the file from upload storage.
type ImportRequestedMessage struct {
	ImportID    string          `json:"import_id"`
	HouseholdID string          `json:"household_id"`
	MonthID     string          `json:"month_id"`
	CardID      string          `json:"card_id,omitempty"`
	SourceKind  core.SourceKind `json:"source_kind"`
	FileRef     string          `json:"file_ref"`
	MIMEType    string          `json:"mime_type,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewImportRequestedMessage builds the event for a freshly created import.
func NewImportRequestedMessage(imp core.Import, monthID, cardID, mimeType string) *ImportRequestedMessage {
	return &ImportRequestedMessage{
		ImportID:    imp.ID,
		HouseholdID: imp.HouseholdID,
		MonthID:     monthID,
		CardID:      cardID,
		SourceKind:  imp.SourceKind,
		FileRef:     imp.FileRef,
		MIMEType:    mimeType,
		Timestamp:   time.Now(),
	}
}

// Validate reports missing fields. ImportID is checked first so a caller can
// still fail the import when anything else is wrong.
func (m *ImportRequestedMessage) Validate() error {
	var errs []error
	if strings.TrimSpace(m.ImportID) == "" {
		return errors.New("import_id is required")
	}
	if strings.TrimSpace(m.HouseholdID) == "" {
		errs = append(errs, errors.New("household_id is required"))
	}
	if strings.TrimSpace(m.MonthID) == "" {
		errs = append(errs, errors.New("month_id is required"))
	}
	if !m.SourceKind.IsValid() {
		errs = append(errs, errors.New("source_kind must be statement-file or statement-image"))
	}
	if strings.TrimSpace(m.FileRef) == "" {
		errs = append(errs, errors.New("file_ref is required"))
	}
	return errors.Join(errs...)
}

// ToJSON converts the message to JSON bytes
func (m *ImportRequestedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ImportRequestedMessageFromJSON decodes a message. A body that decodes only
// partially still returns the message alongside the error.
func ImportRequestedMessageFromJSON(data []byte) (*ImportRequestedMessage, error) {
	var msg ImportRequestedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return &msg, err
	}
	return &msg, nil
}
