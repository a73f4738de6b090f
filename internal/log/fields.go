package log

import "orcamento/internal/core"

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldQuery       = "query"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldUserAgent   = "user_agent"
	FieldReferer     = "referer"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldErrorType   = "error_type"
	FieldOperation   = "operation"
	FieldImportID    = "import_id"
	FieldHouseholdID = "household_id"
	FieldMonthID     = "month_id"
	FieldSourceKind  = "source_kind"
	FieldStatus      = "status"
	FieldSize        = "size_bytes"
	FieldModel       = "model"
	FieldExtracted   = "extracted"
	FieldMalformed   = "malformed"
	FieldDuplicates  = "duplicates"
	FieldSkipped     = "skipped_non_debit"
	FieldInserted    = "inserted"
	FieldCategorized = "categorized"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentImport  = "import"
	ComponentWorker  = "worker"
	ComponentVision  = "vision"
	ComponentBackend = "backend"
)

// Operations defines standard operation names
const (
	OpCreate = "create"
	OpRead   = "read"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds the error and its failure kind
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = core.FailureKind(err)
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithImport adds the identifying fields of an import
func (f LogFields) WithImport(imp core.Import) LogFields {
	f[FieldImportID] = imp.ID
	f[FieldHouseholdID] = imp.HouseholdID
	f[FieldSourceKind] = string(imp.SourceKind)
	if imp.Status != "" {
		f[FieldStatus] = string(imp.Status)
	}
	return f
}

// WithSummary adds the per-import record counters
func (f LogFields) WithSummary(s core.ImportSummary) LogFields {
	f[FieldExtracted] = s.Extracted
	f[FieldMalformed] = s.Malformed
	f[FieldDuplicates] = s.Duplicates
	f[FieldSkipped] = s.SkippedNonDebit
	f[FieldInserted] = s.Inserted
	f[FieldCategorized] = s.Categorized
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent, referer string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	if referer != "" {
		f[FieldReferer] = referer
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
