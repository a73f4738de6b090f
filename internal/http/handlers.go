package http

import (
	"errors"
	"net/http"
	"strings"

	"orcamento/internal/core"
	applog "orcamento/internal/log"
	"orcamento/internal/services"
)

// handleCreateImport accepts a multipart upload. The import is returned with
// 202 while it waits for the worker and with 200 once processed inline.
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := applog.FromContext(ctx)

	upload, err := parseUpload(w, r, s.maxUpload)
	switch {
	case errors.Is(err, errUploadTooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, err.Error(), "")
		return
	case err != nil && errors.Is(err, services.ErrInvalidUpload):
		writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	case err != nil:
		logger.ErrorContext(ctx, "Failed to read upload", applog.FieldError, err)
		writeError(w, r, http.StatusBadRequest, "could not read upload", "")
		return
	}

	imp, err := s.imports.Submit(ctx, upload)
	if err != nil {
		if errors.Is(err, services.ErrInvalidUpload) {
			writeError(w, r, http.StatusBadRequest, err.Error(), "")
			return
		}
		applog.NewStructuredLogger(logger).LogError(ctx, "Import submission failed", err, applog.OpCreate,
			applog.LogFields{applog.FieldHouseholdID: upload.HouseholdID, applog.FieldSize: len(upload.Data)})
		writeError(w, r, http.StatusInternalServerError, "import could not be started", core.FailureKind(err))
		return
	}

	status := http.StatusAccepted
	if imp.Status.IsTerminal() {
		status = http.StatusOK
	}
	writeJSON(w, r, status, newImportResponse(imp))
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := strings.TrimSpace(r.PathValue("id"))

	imp, err := s.imports.Get(ctx, id)
	switch {
	case errors.Is(err, core.ErrImportNotFound):
		writeError(w, r, http.StatusNotFound, "import not found", "")
		return
	case err != nil:
		applog.NewStructuredLogger(applog.FromContext(ctx)).LogError(ctx, "Failed to load import", err, applog.OpRead,
			applog.LogFields{applog.FieldImportID: id})
		writeError(w, r, http.StatusInternalServerError, "import could not be loaded", core.FailureKind(err))
		return
	}

	writeJSON(w, r, http.StatusOK, newImportResponse(imp))
}
