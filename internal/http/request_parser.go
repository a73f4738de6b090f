// Package http exposes the import trigger API.
//
// This file turns multipart upload requests into service uploads.
package http

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"orcamento/internal/core"
	"orcamento/internal/services"
)

// maxFormMemory is the multipart part size kept in memory before spilling to disk.
const maxFormMemory = 8 << 20

// errUploadTooLarge is returned when the body exceeds the configured limit.
var errUploadTooLarge = errors.New("upload too large")

// parseUpload reads the multipart fields household_id, month_id, card_id,
// source_kind and file. maxBytes bounds the whole request body.
func parseUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (services.Upload, error) {
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "multipart/form-data" {
		return services.Upload{}, fmt.Errorf("%w: expected multipart/form-data", services.ErrInvalidUpload)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return services.Upload{}, errUploadTooLarge
		}
		return services.Upload{}, fmt.Errorf("%w: %v", services.ErrInvalidUpload, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return services.Upload{}, fmt.Errorf("%w: file is required", services.ErrInvalidUpload)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return services.Upload{}, fmt.Errorf("read upload: %w", err)
	}

	return services.Upload{
		HouseholdID: sanitizeInput(r.FormValue("household_id")),
		MonthID:     sanitizeInput(r.FormValue("month_id")),
		CardID:      sanitizeInput(r.FormValue("card_id")),
		SourceKind:  core.SourceKind(sanitizeInput(r.FormValue("source_kind"))),
		FileName:    cleanFileName(header.Filename),
		MIMEType:    partMIMEType(header.Header.Get("Content-Type")),
		Data:        data,
	}, nil
}

// cleanFileName keeps the base name of a client supplied file name.
func cleanFileName(name string) string {
	name = strings.ReplaceAll(sanitizeInput(name), "\\", "/")
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

// partMIMEType drops the generic type browsers send for unknown files so the
// processor sniffs the content instead.
func partMIMEType(ct string) string {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType == "application/octet-stream" {
		return ""
	}
	return mediaType
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}
