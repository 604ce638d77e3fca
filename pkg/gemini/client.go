package gemini

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	genai "google.golang.org/genai"
)

// Client defines the Gemini API surface used by the tagging pipeline.
type Client interface {
	GenerateText(ctx context.Context, req GenerateRequest) (string, error)
}

// GenerateRequest is our own request type for GenerateText.
type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature *float64
}

// StatusError carries the HTTP status code of a failed API call.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

type sdkClient struct {
	client *genai.Client
}

// NewClient creates a Gemini client backed by google.golang.org/genai.
func NewClient(ctx context.Context, apiKey string) (Client, error) {
	if apiKey == "" {
		return nil, eris.New("gemini: missing API key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, eris.Wrap(err, "gemini: new client")
	}
	return &sdkClient{client: c}, nil
}

func (c *sdkClient) GenerateText(ctx context.Context, req GenerateRequest) (string, error) {
	var cfg *genai.GenerateContentConfig
	if req.System != "" || req.Temperature != nil {
		cfg = &genai.GenerateContentConfig{}
		if req.System != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
		}
		if req.Temperature != nil {
			t := float32(*req.Temperature)
			cfg.Temperature = &t
		}
	}

	res, err := c.client.Models.GenerateContent(ctx, req.Model, []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &StatusError{StatusCode: apiErr.Code, Err: eris.Wrap(err, "gemini: generate content")}
		}
		return "", eris.Wrap(err, "gemini: generate content")
	}
	return res.Text(), nil
}
