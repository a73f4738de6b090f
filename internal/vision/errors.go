package vision

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// Upstream failure kinds.
const (
	KindRateLimited    = "rate_limited"
	KindQuotaExhausted = "quota_exhausted"
	KindGeneric        = "generic"
)

// UpstreamError is returned when the classification service call fails.
type UpstreamError struct {
	Kind       string
	StatusCode int // 0 when the failure happened before a response
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.UserMessage(), e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// UpstreamKind reports Kind.
func (e *UpstreamError) UpstreamKind() string {
	return e.Kind
}

// UserMessage is the text shown on a failed import.
func (e *UpstreamError) UserMessage() string {
	switch e.Kind {
	case KindRateLimited:
		return "image reader is busy, try again in a few minutes"
	case KindQuotaExhausted:
		return "image reader usage limit reached"
	}
	return "image reader failed"
}

// classifyError maps a genai call error to an UpstreamError.
func classifyError(err error) *UpstreamError {
	if err == nil {
		return nil
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code = apiErrPtr.Code
	}

	kind := KindGeneric
	switch code {
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	case http.StatusPaymentRequired:
		kind = KindQuotaExhausted
	}
	return &UpstreamError{Kind: kind, StatusCode: code, Err: err}
}
