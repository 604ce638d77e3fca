package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/doctag-cli/internal/audit"
	"github.com/sells-group/doctag-cli/internal/chunker"
	"github.com/sells-group/doctag-cli/internal/model"
	"github.com/sells-group/doctag-cli/internal/transform"
)

// ChunkCompleted is the runner's unit of output. A single consumer applies
// these to the session in order, which keeps progress reporting and
// persistence off the runner's goroutine and free of shared mutable state.
type ChunkCompleted struct {
	Phase     string
	Result    model.ChunkResult
	Audit     audit.Report
	Processed int
	Total     int
}

// Runner executes one phase: chunk-by-chunk transformation in index order,
// with the previous chunk's output feeding the next chunk's context.
type Runner struct {
	ctrl    *transform.Controller
	overlap int
}

// NewRunner creates a Runner. overlap <= 0 uses chunker.DefaultOverlap.
func NewRunner(ctrl *transform.Controller, overlap int) *Runner {
	if overlap <= 0 {
		overlap = chunker.DefaultOverlap
	}
	return &Runner{ctrl: ctrl, overlap: overlap}
}

// Run processes the pieces of one phase starting after the already-completed
// results in done, emitting a ChunkCompleted per chunk. It does not close the
// events channel; the caller owns its lifecycle. It returns an error only when
// the run must abort; per-chunk failures degrade to original content and keep
// going.
func (r *Runner) Run(ctx context.Context, spec PhaseSpec, pieces []string, done []model.ChunkResult, events chan<- ChunkCompleted) error {
	log := zap.L().With(zap.String("phase", spec.Name))

	chunks := chunker.Build(pieces, r.overlap)
	total := len(chunks)

	// Rebuild the rolling context from what already ran: the previous output
	// for the backward overlap and the last structural heading seen so far.
	// Only verified chunks advance the summary.
	var lastOutput, summary string
	for _, cr := range done {
		lastOutput = cr.Text
		if cr.Failed || cr.FailSafe {
			continue
		}
		if h := audit.LastHeading(cr.Text); h != "" {
			summary = h
		}
	}

	start := len(done)
	if start > 0 {
		log.Info("runner: resuming phase",
			zap.Int("completed", start),
			zap.Int("total", total),
		)
	}

	for i := start; i < total; i++ {
		chunk := chunks[i]
		chunk.PrevOverlap = chunker.PrevOverlap(lastOutput, r.overlap)

		out, err := r.ctrl.Process(ctx, transform.ChunkRequest{
			Phase:        spec.Name,
			Instructions: spec.Instructions,
			Model:        spec.Model,
			Temperature:  spec.Temperature,
			Chunk:        chunk,
			Summary:      summary,
		})
		if err != nil {
			return err
		}

		lastOutput = out.Text
		// The summary only advances on verified output; a failed or
		// fail-safed chunk keeps the original text and the previous summary.
		if !out.Failed && !out.FailSafe {
			if h := audit.LastHeading(out.Text); h != "" {
				summary = h
			}
		}

		ev := ChunkCompleted{
			Phase: spec.Name,
			Result: model.ChunkResult{
				Index:    chunk.Index,
				Text:     out.Text,
				Failed:   out.Failed,
				FailSafe: out.FailSafe,
				Retried:  out.Retried,
			},
			Audit:     out.Audit,
			Processed: i + 1,
			Total:     total,
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
