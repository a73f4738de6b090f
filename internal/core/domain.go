package core

import (
	"errors"
	"strings"
	"time"
)

const (
	SourceStatementFile  SourceKind = "statement-file"
	SourceStatementImage SourceKind = "statement-image"
	SourceManual         SourceKind = "manual"
)

const (
	ImportPending    ImportStatus = "pending"
	ImportProcessing ImportStatus = "processing"
	ImportCompleted  ImportStatus = "completed"
	ImportFailed     ImportStatus = "failed"
)

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ISODateLayout is the calendar-date layout used for fingerprints and storage.
const ISODateLayout = "2006-01-02"

type (
	SourceKind   string
	ImportStatus string
	Confidence   string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Import is one ingestion attempt of a single uploaded file or image.
	Import struct {
		ID               string
		HouseholdID      string
		SourceKind       SourceKind
		Status           ImportStatus
		FileName         string
		FileRef          string // upload storage key
		FileHash         string
		TransactionCount int
		ErrorMessage     string
		CreatedAt        time.Time
		ProcessedAt      *time.Time
	}

	// ExtractedTransaction is adapter output. It is never persisted as is.
	ExtractedTransaction struct {
		Date        Date
		MerchantRaw string
		Amount      Money // signed as found in the source
		Metadata    map[string]string
	}

	// Transaction is a persisted, deduplicated record.
	Transaction struct {
		ID                 string
		HouseholdID        string
		MonthID            string
		ImportID           *string
		CardID             *string
		Merchant           string
		MerchantNormalized string
		Amount             Money // always positive
		Date               Date
		CategoryID         *string
		Confidence         Confidence
		Source             SourceKind
		Fingerprint        string
		InternalTransfer   bool
		NeedsReview        bool
		RawData            map[string]string
		CreatedAt          time.Time
	}

	// MerchantMapping associates a normalized merchant key with a category.
	// An empty HouseholdID marks a global mapping.
	MerchantMapping struct {
		MerchantKey string
		CategoryID  string
		HouseholdID string
		UsageCount  int
	}
)

func (k SourceKind) IsValid() bool {
	switch k {
	case SourceStatementFile, SourceStatementImage:
		return true
	}
	return false
}

func (s ImportStatus) IsTerminal() bool {
	return s == ImportCompleted || s == ImportFailed
}

// Global reports whether the mapping applies to every household.
func (m MerchantMapping) Global() bool {
	return m.HouseholdID == ""
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// ISO returns the date as YYYY-MM-DD.
func (d Date) ISO() string {
	return d.Format(ISODateLayout)
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseISODate parses YYYY-MM-DD into a Date, rejecting impossible calendar dates.
func ParseISODate(s string) (Date, error) {
	t, err := time.Parse(ISODateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.HouseholdID) == "" {
		return ErrEmptyHousehold
	}
	if strings.TrimSpace(t.Merchant) == "" {
		return ErrEmptyMerchant
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.Fingerprint == "" {
		return errors.New("empty fingerprint")
	}
	return nil
}
