package http

import (
	"encoding/json"
	"net/http"
	"time"

	"orcamento/internal/core"
	applog "orcamento/internal/log"
)

// importResponse is the JSON view of an import.
type importResponse struct {
	ID               string     `json:"id"`
	HouseholdID      string     `json:"household_id"`
	SourceKind       string     `json:"source_kind"`
	Status           string     `json:"status"`
	FileName         string     `json:"file_name,omitempty"`
	TransactionCount int        `json:"transaction_count"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}

func newImportResponse(imp core.Import) importResponse {
	return importResponse{
		ID:               imp.ID,
		HouseholdID:      imp.HouseholdID,
		SourceKind:       string(imp.SourceKind),
		Status:           string(imp.Status),
		FileName:         imp.FileName,
		TransactionCount: imp.TransactionCount,
		ErrorMessage:     imp.ErrorMessage,
		CreatedAt:        imp.CreatedAt,
		ProcessedAt:      imp.ProcessedAt,
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Failed to write response", applog.FieldError, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg, errorType string) {
	writeJSON(w, r, status, errorResponse{Error: msg, ErrorType: errorType})
}
