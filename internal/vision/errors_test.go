package vision

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"orcamento/internal/core"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind string
		code int
	}{
		{"rate limited", genai.APIError{Code: 429, Message: "Resource exhausted"}, KindRateLimited, 429},
		{"quota", fmt.Errorf("generate: %w", genai.APIError{Code: 402}), KindQuotaExhausted, 402},
		{"pointer form", &genai.APIError{Code: 429}, KindRateLimited, 429},
		{"server error", genai.APIError{Code: 500}, KindGeneric, 500},
		{"transport", errors.New("connection reset"), KindGeneric, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uerr := classifyError(tc.err)
			require.NotNil(t, uerr)
			assert.Equal(t, tc.kind, uerr.Kind)
			assert.Equal(t, tc.code, uerr.StatusCode)
			assert.Equal(t, tc.err, uerr.Err)
			assert.Equal(t, core.FailureUpstream, core.FailureKind(fmt.Errorf("classify: %w", uerr)))
		})
	}
}

func TestUpstreamErrorMessages(t *testing.T) {
	kinds := []string{KindRateLimited, KindQuotaExhausted, KindGeneric}
	seen := map[string]bool{}
	for _, k := range kinds {
		msg := (&UpstreamError{Kind: k}).UserMessage()
		assert.NotEmpty(t, msg)
		assert.False(t, seen[msg], "messages must differ per kind")
		seen[msg] = true
	}
}
