package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	applog "orcamento/internal/log"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Classifier reads a statement image and returns the model's raw answer.
type Classifier interface {
	Classify(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Client is a Classifier backed by the Gemini API.
type Client struct {
	genai  *genai.Client
	model  string
	logger *applog.Logger
}

// NewClient creates a Gemini client. An empty apiKey falls back to the
// GEMINI_API_KEY/GOOGLE_API_KEY environment variables read by genai.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if model == "" {
		model = DefaultModel
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{
		genai:  gc,
		model:  model,
		logger: applog.WithComponent(applog.ComponentVision),
	}, nil
}

// Classify sends the image with the fixed instruction prompt. Failures are
// returned as *UpstreamError and never retried.
func (c *Client) Classify(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", errors.New("empty image")
	}

	contents := []*genai.Content{
		{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				{Text: instructionPrompt},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
			},
		},
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	c.logger.DebugContext(ctx, "Classifying statement image",
		slog.String(applog.FieldModel, c.model),
		slog.Int(applog.FieldSize, len(image)))

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		uerr := classifyError(err)
		c.logger.WarnContext(ctx, "Classification call failed",
			slog.String(applog.FieldModel, c.model),
			slog.String(applog.FieldErrorType, uerr.Kind),
			slog.Any(applog.FieldError, err))
		return "", uerr
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}
