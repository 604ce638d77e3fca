package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/doctag-cli/internal/chunker"
	"github.com/sells-group/doctag-cli/internal/docsource"
	"github.com/sells-group/doctag-cli/internal/gate"
	"github.com/sells-group/doctag-cli/internal/model"
	"github.com/sells-group/doctag-cli/internal/session"
)

// DefaultThinTextThreshold is the extracted-text length, in runes, below
// which the text layer is assumed to be missing and OCR runs instead.
const DefaultThinTextThreshold = 500

// Progress is reported after every completed chunk.
type Progress struct {
	Phase     string
	Processed int
	Total     int
}

// Options tunes orchestrator behavior.
type Options struct {
	// ThinTextThreshold below which the OCR fallback replaces extraction.
	// <= 0 uses DefaultThinTextThreshold.
	ThinTextThreshold int
	// Source overrides extension-based document source selection.
	Source docsource.Source
}

// Orchestrator runs the fixed phase sequence over one document, persisting
// after every chunk so a crash loses at most one chunk of work. All session
// mutation happens on the goroutine that runs Start; the chunk runner only
// emits events.
type Orchestrator struct {
	store  session.Store
	runner *Runner
	gate   *gate.Gate
	source docsource.Source
	ocr    docsource.OCRExtractor
	phases []PhaseSpec
	opts   Options

	mu         sync.Mutex
	onProgress func(Progress)
	sess       *model.Session
	cancel     context.CancelFunc
	lastErr    error
}

// New creates an Orchestrator. ocr may be nil to disable the OCR fallback;
// opts.Source may be nil to select the document source by file extension.
func New(store session.Store, runner *Runner, g *gate.Gate, ocr docsource.OCRExtractor, phases []PhaseSpec, opts Options) *Orchestrator {
	if opts.ThinTextThreshold <= 0 {
		opts.ThinTextThreshold = DefaultThinTextThreshold
	}
	return &Orchestrator{
		store:  store,
		runner: runner,
		gate:   g,
		source: opts.Source,
		ocr:    ocr,
		phases: phases,
		opts:   opts,
	}
}

// OnProgress registers the progress handler. Must be called before Start.
func (o *Orchestrator) OnProgress(fn func(Progress)) {
	o.mu.Lock()
	o.onProgress = fn
	o.mu.Unlock()
}

// Cancel stops the run: the run context is canceled so the runner schedules
// no further chunks, and the gate aborts the in-flight call and every queued
// waiter. State already persisted remains valid and resumable.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.gate.AbortAll("run canceled")
}

// Session returns the current run state, nil before Start.
func (o *Orchestrator) Session() *model.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess
}

// Result returns the joined output of a completed phase with its local
// post-processing applied, or "" when the phase has not finished.
func (o *Orchestrator) Result(phaseName string) string {
	o.mu.Lock()
	sess := o.sess
	o.mu.Unlock()
	if sess == nil {
		return ""
	}
	out := sess.Result(phaseName)
	if out == "" {
		return ""
	}
	if i := phaseIndex(o.phases, phaseName); i >= 0 && o.phases[i].Finalize != nil {
		out = o.phases[i].Finalize(out)
	}
	return out
}

// LastError returns the error that ended the previous Start, if any.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Start begins or resumes the run for one document and blocks until it
// completes, fails, or is canceled. A completed prior session starts fresh; a
// partial one resumes, skipping finished phases and finished chunks.
func (o *Orchestrator) Start(ctx context.Context, doc model.Document) (*model.Session, error) {
	sess, err := o.run(ctx, doc)
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
	return sess, err
}

func (o *Orchestrator) run(ctx context.Context, doc model.Document) (*model.Session, error) {
	log := zap.L().With(zap.String("document", doc.Identity.Name))

	// Re-arm the gate in case a previous run on it was canceled, and install
	// the per-run cancel handle Cancel uses to stop the runner.
	o.gate.Reset()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
	}()

	sess, resumed, err := session.LoadOrCreate(ctx, o.store, doc.Identity)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.sess = sess
	o.mu.Unlock()
	if resumed {
		log.Info("orchestrator: resuming run",
			zap.String("session_id", sess.ID),
			zap.String("current_phase", sess.CurrentPhase),
		)
	} else {
		log.Info("orchestrator: starting run", zap.String("session_id", sess.ID))
	}

	key := doc.Identity.Key()
	runStart := time.Now()
	finish := func(runErr error) error {
		sess.TotalElapsed += time.Since(runStart)
		if saveErr := o.store.Save(context.WithoutCancel(ctx), key, sess); saveErr != nil {
			log.Warn("orchestrator: failed to persist state", zap.Error(saveErr))
		}
		return runErr
	}

	text, err := o.extractPhase(ctx, sess, doc, key)
	if err != nil {
		return sess, finish(err)
	}

	text, err = o.ocrPhase(ctx, sess, doc, key, text)
	if err != nil {
		return sess, finish(err)
	}

	for _, spec := range o.phases {
		out, phaseErr := o.transformPhase(ctx, sess, key, spec, text)
		if phaseErr != nil {
			return sess, finish(phaseErr)
		}
		text = out
	}

	sess.Completed = true
	sess.CurrentPhase = ""
	log.Info("orchestrator: run complete",
		zap.String("session_id", sess.ID),
		zap.Duration("elapsed", sess.TotalElapsed+time.Since(runStart)),
	)
	return sess, finish(nil)
}

// extractPhase reads the document's text layer, recorded as a single-chunk
// phase so resume skips it like any other.
func (o *Orchestrator) extractPhase(ctx context.Context, sess *model.Session, doc model.Document, key string) (string, error) {
	ph := sess.EnsurePhase(PhaseExtract, 1)
	if ph.Done() {
		return ph.Output(), nil
	}
	sess.CurrentPhase = PhaseExtract

	src := o.source
	if src == nil {
		src = docsource.ForPath(doc.Path)
	}
	text, err := src.ExtractText(ctx, doc.Path, func(done, total int) {
		o.notify(Progress{Phase: PhaseExtract, Processed: done, Total: total})
	})
	if err != nil {
		return "", err
	}
	text = norm.NFC.String(text)

	o.completeSingle(ph, text)
	if err := o.store.Save(ctx, key, sess); err != nil {
		return "", err
	}
	return text, nil
}

// ocrPhase replaces thin extracted text with OCR output. The phase only
// exists in the session when it actually ran.
func (o *Orchestrator) ocrPhase(ctx context.Context, sess *model.Session, doc model.Document, key, text string) (string, error) {
	if ph := sess.Phase(PhaseOCR); ph != nil && ph.Done() {
		return ph.Output(), nil
	}
	if len(strings.TrimSpace(text)) >= o.opts.ThinTextThreshold {
		return text, nil
	}
	if o.ocr == nil {
		return "", eris.Errorf("pipeline: extracted text below %d chars and no OCR extractor configured", o.opts.ThinTextThreshold)
	}

	zap.L().Info("orchestrator: text layer too thin, running OCR",
		zap.String("document", doc.Identity.Name),
		zap.Int("extracted_len", len(text)),
	)
	ph := sess.EnsurePhase(PhaseOCR, 1)
	sess.CurrentPhase = PhaseOCR

	ocrText, err := o.ocr.ExtractText(ctx, doc.Path)
	if err != nil {
		return "", err
	}
	ocrText = norm.NFC.String(ocrText)

	o.completeSingle(ph, ocrText)
	if err := o.store.Save(ctx, key, sess); err != nil {
		return "", err
	}
	o.notify(Progress{Phase: PhaseOCR, Processed: 1, Total: 1})
	return ocrText, nil
}

// transformPhase runs one provider-backed phase to completion and returns its
// finalized output for the next phase. The runner produces chunk events on a
// separate goroutine; this goroutine stays the sole owner of the session.
func (o *Orchestrator) transformPhase(ctx context.Context, sess *model.Session, key string, spec PhaseSpec, input string) (string, error) {
	log := zap.L().With(zap.String("phase", spec.Name))

	pieces := chunker.Split(input, spec.ChunkCount)
	ph := sess.EnsurePhase(spec.Name, len(pieces))
	if !ph.Done() {
		sess.CurrentPhase = spec.Name
		if err := o.store.Save(ctx, key, sess); err != nil {
			return "", err
		}

		start := time.Now()
		events := make(chan ChunkCompleted)
		done := append([]model.ChunkResult(nil), ph.ChunkResults...)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer close(events)
			return o.runner.Run(gctx, spec, pieces, done, events)
		})
		g.Go(func() error {
			for ev := range events {
				ph.ChunkResults = append(ph.ChunkResults, ev.Result)
				if err := o.store.Save(gctx, key, sess); err != nil {
					return err
				}
				o.notify(Progress{Phase: ev.Phase, Processed: ev.Processed, Total: ev.Total})
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return "", eris.Wrapf(err, "pipeline: phase %s", spec.Name)
		}

		ph.EndTime = time.Now().UTC()
		if err := o.store.Save(ctx, key, sess); err != nil {
			return "", err
		}

		if failed := ph.FailedChunks(); len(failed) > 0 {
			log.Warn("orchestrator: chunks kept original content",
				zap.Ints("chunk_indices", failed),
			)
		}
		log.Info("orchestrator: phase complete",
			zap.Int("chunks", len(ph.ChunkResults)),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	out := ph.Output()
	if spec.Finalize != nil {
		out = spec.Finalize(out)
	}
	return out, nil
}

// completeSingle records a one-chunk phase as finished.
func (o *Orchestrator) completeSingle(ph *model.PhaseState, text string) {
	ph.ChunkResults = []model.ChunkResult{{Index: 0, Text: text}}
	ph.EndTime = time.Now().UTC()
}

func (o *Orchestrator) notify(p Progress) {
	o.mu.Lock()
	fn := o.onProgress
	o.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}
