// Package transform wraps single chunk transformation attempts and the
// retry-audit-correct-failsafe state machine that guards them.
package transform

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/doctag-cli/internal/gate"
	"github.com/sells-group/doctag-cli/internal/model"
	"github.com/sells-group/doctag-cli/internal/provider"
)

// DefaultCallTimeout bounds one provider attempt. Exceeding it is treated the
// same as a provider failure and counts toward the chunk attempt budget.
const DefaultCallTimeout = 60 * time.Second

// ErrEmptyResult marks a nominally successful call whose text was empty or
// whitespace-only.
var ErrEmptyResult = eris.New("transform: empty result")

// ChunkRequest carries everything needed to transform one chunk.
type ChunkRequest struct {
	Phase        string
	Instructions string
	Model        string
	Temperature  *float64
	Chunk        model.Chunk
	Summary      string

	// Reinforcement lists exact lost values and headings that the corrective
	// retry must restore verbatim. Empty on the first attempt.
	Reinforcement []string
}

// Executor runs one transformation attempt: build the request, go through the
// gate, invoke the provider, validate the raw result.
type Executor struct {
	provider  provider.Provider
	gate      *gate.Gate
	timeout   time.Duration
	sentinels []string
}

// NewExecutor creates an Executor. timeout <= 0 uses DefaultCallTimeout.
func NewExecutor(p provider.Provider, g *gate.Gate, timeout time.Duration, sentinels []string) *Executor {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Executor{provider: p, gate: g, timeout: timeout, sentinels: sentinels}
}

// Execute performs one gated provider call and classifies the raw result.
func (e *Executor) Execute(ctx context.Context, req ChunkRequest) (string, error) {
	callCtx, release, err := e.gate.Acquire(ctx)
	if err != nil {
		// An aborted gate means the run is being torn down; retrying would
		// only burn the chunk's attempts against a closed door.
		if eris.Is(err, gate.ErrAborted) {
			return "", &provider.Error{Provider: e.provider.Name(), Retriable: false, Err: err}
		}
		return "", err
	}
	defer release()

	callCtx, cancel := context.WithTimeout(callCtx, e.timeout)
	defer cancel()

	text, err := e.provider.Transform(callCtx, provider.Request{
		Model:       req.Model,
		System:      req.Instructions,
		Prompt:      BuildPrompt(req),
		Temperature: req.Temperature,
	})
	if err != nil {
		if abortErr := e.gate.Aborted(); abortErr != nil {
			return "", &provider.Error{Provider: e.provider.Name(), Retriable: false, Err: abortErr}
		}
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", &provider.Error{Provider: e.provider.Name(), Retriable: true, Err: err}
		}
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResult
	}
	trimmed := strings.TrimSpace(text)
	for _, s := range e.sentinels {
		if trimmed == s {
			return "", eris.Errorf("transform: provider returned error sentinel %q", s)
		}
	}
	return text, nil
}

// BuildPrompt assembles the user prompt for one chunk: rolling context
// summary, adjacent-chunk overlaps for continuity, then the chunk itself.
// The overlaps are context only and must not be reproduced in the output.
func BuildPrompt(req ChunkRequest) string {
	var b strings.Builder

	if req.Summary != "" {
		b.WriteString("Document context so far: ")
		b.WriteString(req.Summary)
		b.WriteString("\n\n")
	}
	if req.Chunk.PrevOverlap != "" {
		b.WriteString("End of the previous, already processed section (context only, do not repeat):\n")
		b.WriteString(req.Chunk.PrevOverlap)
		b.WriteString("\n\n")
	}
	if req.Chunk.NextOverlap != "" {
		b.WriteString("Start of the next, not yet processed section (context only, do not repeat):\n")
		b.WriteString(req.Chunk.NextOverlap)
		b.WriteString("\n\n")
	}
	if len(req.Reinforcement) > 0 {
		b.WriteString("Your previous answer dropped content. The following items were present in the input and MUST appear verbatim in your output. Restore them exactly, do not summarize or paraphrase:\n")
		for _, item := range req.Reinforcement {
			b.WriteString("- ")
			b.WriteString(item)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Process the following section. Return only the processed text:\n\n")
	b.WriteString(req.Chunk.Content)
	return b.String()
}
