package provider

import (
	"context"
	"errors"

	"github.com/sells-group/doctag-cli/pkg/anthropic"
)

// anthropicProvider adapts pkg/anthropic to the Provider interface.
type anthropicProvider struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropic wraps an Anthropic client as a transformation provider.
func NewAnthropic(client anthropic.Client, maxTokens int64) Provider {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &anthropicProvider{client: client, maxTokens: maxTokens}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) Transform(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
	})
	if err != nil {
		var se *anthropic.StatusError
		if errors.As(err, &se) {
			return "", &Error{Provider: p.Name(), Retriable: retriableStatus(se.StatusCode), Err: err}
		}
		return "", &Error{Provider: p.Name(), Retriable: true, Err: err}
	}
	resp.Usage.LogCost(resp.Model, "transform")
	return resp.Text, nil
}
