package transform

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/doctag-cli/internal/audit"
	"github.com/sells-group/doctag-cli/internal/provider"
	"github.com/sells-group/doctag-cli/internal/resilience"
)

// State names the steps of the per-chunk correction machine. Each transition
// is driven by Controller.Process and recorded in the attempt trail.
type State string

const (
	StateAttempt1        State = "attempt1"
	StateAudited1        State = "audited1"
	StateReinforcedRetry State = "reinforced_retry"
	StateAudited2        State = "audited2"
	StateFailSafe        State = "fail_safe"
	StateDone            State = "done"
)

// ControllerConfig holds the loss thresholds and retry budget. All values are
// tunable heuristics surfaced through configuration.
type ControllerConfig struct {
	// MaxAttempts bounds provider tries for the initial transform. Default 3.
	MaxAttempts int
	// AttemptBackoff is the fixed wait between failed tries. Default 1s.
	AttemptBackoff time.Duration
	// LossRatioThreshold triggers a reinforced retry when the numeric loss
	// ratio meets it. Default 0.15.
	LossRatioThreshold float64
	// LostCountCap triggers a reinforced retry when the absolute number of
	// lost numeric occurrences is small enough to enumerate. Default 5.
	LostCountCap int
	// FailSafe keeps the original chunk whenever loss survives the reinforced
	// retry. Default enabled; disabling it trades integrity for coverage.
	FailSafe bool
}

// DefaultControllerConfig returns the tuned defaults.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MaxAttempts:        3,
		AttemptBackoff:     time.Second,
		LossRatioThreshold: 0.15,
		LostCountCap:       5,
		FailSafe:           true,
	}
}

func (cfg ControllerConfig) withDefaults() ControllerConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.AttemptBackoff <= 0 {
		cfg.AttemptBackoff = time.Second
	}
	if cfg.LossRatioThreshold <= 0 {
		cfg.LossRatioThreshold = 0.15
	}
	if cfg.LostCountCap <= 0 {
		cfg.LostCountCap = 5
	}
	return cfg
}

// Attempt records one provider call made on behalf of a chunk.
type Attempt struct {
	ChunkIndex    int
	AttemptNumber int
	State         State
	Result        string
	Audit         audit.Report
	Err           error
}

// Outcome is the final, recorded result of processing one chunk.
type Outcome struct {
	Text     string
	Failed   bool
	FailSafe bool
	Retried  bool
	Audit    audit.Report
	Attempts []Attempt
}

// Controller drives the per-chunk state machine:
// Attempt1 -> Audited1 -> (ReinforcedRetry?) -> Audited2 -> (FailSafe?) -> Done.
// Its guarantee: no transformation permanently removes a numeric reference or
// a structural heading that was present in the input.
type Controller struct {
	exec *Executor
	cfg  ControllerConfig
}

// NewController creates a Controller around an Executor.
func NewController(exec *Executor, cfg ControllerConfig) *Controller {
	return &Controller{exec: exec, cfg: cfg.withDefaults()}
}

// Process runs one chunk to completion. It returns an error only when the run
// must abort (non-retriable provider failure or cancellation); every other
// failure degrades to original content inside the Outcome.
func (c *Controller) Process(ctx context.Context, req ChunkRequest) (Outcome, error) {
	log := zap.L().With(
		zap.String("phase", req.Phase),
		zap.Int("chunk", req.Chunk.Index),
	)

	out := Outcome{}

	// Attempt1: same request, bounded retries, fixed backoff.
	attemptNo := 0
	text, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts: c.cfg.MaxAttempts,
		Backoff:     c.cfg.AttemptBackoff,
		ShouldRetry: provider.IsRetriable,
		OnRetry:     resilience.RetryLogger("chunk transform"),
	}, func(ctx context.Context) (string, error) {
		attemptNo++
		t, attemptErr := c.exec.Execute(ctx, req)
		out.Attempts = append(out.Attempts, Attempt{
			ChunkIndex:    req.Chunk.Index,
			AttemptNumber: attemptNo,
			State:         StateAttempt1,
			Result:        t,
			Err:           attemptErr,
		})
		return t, attemptErr
	})
	if err != nil {
		if ctx.Err() != nil || !provider.IsRetriable(err) {
			return out, err
		}
		// Attempts exhausted: keep the original content, flag the chunk, let
		// the run continue.
		log.Warn("chunk transform exhausted, keeping original content", zap.Error(err))
		out.Text = req.Chunk.Content
		out.Failed = true
		out.Audit = audit.Run(req.Chunk.Content, req.Chunk.Content)
		return out, nil
	}

	// Audited1.
	report := audit.Run(req.Chunk.Content, text)
	out.Attempts = append(out.Attempts, Attempt{
		ChunkIndex:    req.Chunk.Index,
		AttemptNumber: attemptNo,
		State:         StateAudited1,
		Result:        text,
		Audit:         report,
	})

	// ReinforcedRetry: at most one corrective call listing the exact losses.
	if c.needsReinforcement(report) {
		log.Info("audit detected loss, issuing reinforced retry",
			zap.Int("lost_numbers", report.Numbers.Lost),
			zap.Float64("loss_ratio", report.Numbers.LossRatio),
			zap.Int("lost_headings", len(report.Headings.Lost)),
		)

		reinforced := req
		reinforced.Reinforcement = make([]string, 0, len(report.Numbers.LostValues)+len(report.Headings.Lost))
		reinforced.Reinforcement = append(reinforced.Reinforcement, report.Numbers.LostValues...)
		reinforced.Reinforcement = append(reinforced.Reinforcement, report.Headings.Lost...)

		retryText, retryErr := c.exec.Execute(ctx, reinforced)
		out.Retried = true
		attemptNo++
		out.Attempts = append(out.Attempts, Attempt{
			ChunkIndex:    req.Chunk.Index,
			AttemptNumber: attemptNo,
			State:         StateReinforcedRetry,
			Result:        retryText,
			Err:           retryErr,
		})
		switch {
		case retryErr == nil:
			text = retryText
		case ctx.Err() != nil || !provider.IsRetriable(retryErr):
			return out, retryErr
		default:
			// Corrective call failed outright; the first result stands and the
			// fail-safe below decides its fate.
		}
		report = audit.Run(req.Chunk.Content, text)
		out.Attempts = append(out.Attempts, Attempt{
			ChunkIndex:    req.Chunk.Index,
			AttemptNumber: attemptNo,
			State:         StateAudited2,
			Result:        text,
			Audit:         report,
		})
	}

	// FailSafe: zero transformation beats silent data loss.
	if c.cfg.FailSafe && !report.Clean() {
		log.Warn("loss remains after correction, failing safe to original content",
			zap.Int("lost_numbers", report.Numbers.Lost),
			zap.Strings("lost_headings", report.Headings.Lost),
		)
		out.Attempts = append(out.Attempts, Attempt{
			ChunkIndex:    req.Chunk.Index,
			AttemptNumber: attemptNo,
			State:         StateFailSafe,
			Result:        req.Chunk.Content,
		})
		out.Text = req.Chunk.Content
		out.FailSafe = true
		out.Audit = audit.Run(req.Chunk.Content, req.Chunk.Content)
		return out, nil
	}

	out.Text = text
	out.Audit = report
	out.Attempts = append(out.Attempts, Attempt{
		ChunkIndex:    req.Chunk.Index,
		AttemptNumber: attemptNo,
		State:         StateDone,
		Result:        text,
		Audit:         report,
	})
	return out, nil
}

// needsReinforcement applies the trigger rule: numeric loss with either a
// ratio over the threshold or few enough losses to enumerate, or any lost
// heading.
func (c *Controller) needsReinforcement(r audit.Report) bool {
	if len(r.Headings.Lost) > 0 {
		return true
	}
	if r.Numbers.Lost == 0 {
		return false
	}
	return r.Numbers.LossRatio >= c.cfg.LossRatioThreshold || r.Numbers.Lost <= c.cfg.LostCountCap
}
