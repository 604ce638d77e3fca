package provider

import (
	"context"
	"errors"

	"github.com/sells-group/doctag-cli/pkg/gemini"
)

// geminiProvider adapts pkg/gemini to the Provider interface.
type geminiProvider struct {
	client gemini.Client
}

// NewGemini wraps a Gemini client as a transformation provider.
func NewGemini(client gemini.Client) Provider {
	return &geminiProvider{client: client}
}

func (p *geminiProvider) Name() string { return "gemini" }

func (p *geminiProvider) Transform(ctx context.Context, req Request) (string, error) {
	text, err := p.client.GenerateText(ctx, gemini.GenerateRequest{
		Model:       req.Model,
		System:      req.System,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
	})
	if err != nil {
		var se *gemini.StatusError
		if errors.As(err, &se) {
			return "", &Error{Provider: p.Name(), Retriable: retriableStatus(se.StatusCode), Err: err}
		}
		return "", &Error{Provider: p.Name(), Retriable: true, Err: err}
	}
	return text, nil
}
