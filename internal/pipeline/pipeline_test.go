package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/doctag-cli/internal/gate"
	"github.com/sells-group/doctag-cli/internal/model"
	"github.com/sells-group/doctag-cli/internal/provider"
	"github.com/sells-group/doctag-cli/internal/session"
	"github.com/sells-group/doctag-cli/internal/transform"
)

// promptMarker separates the instruction scaffold from the chunk body in the
// built prompt; tests use it to recover the chunk a provider was given.
const promptMarker = "Return only the processed text:\n\n"

func chunkFromPrompt(prompt string) string {
	_, after, _ := strings.Cut(prompt, promptMarker)
	return after
}

// echoProvider records the chunk each call carried and returns fn(chunk),
// or the chunk itself when fn is nil.
type echoProvider struct {
	mu   sync.Mutex
	fn   func(chunk string) (string, error)
	seen []string
	full []string
}

func (p *echoProvider) Name() string { return "echo" }

func (p *echoProvider) Transform(_ context.Context, req provider.Request) (string, error) {
	chunk := chunkFromPrompt(req.Prompt)
	p.mu.Lock()
	p.seen = append(p.seen, chunk)
	p.full = append(p.full, req.Prompt)
	p.mu.Unlock()
	if p.fn != nil {
		return p.fn(chunk)
	}
	return chunk, nil
}

func (p *echoProvider) chunks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func newTestRunnerWithGate(p provider.Provider, g *gate.Gate) *Runner {
	exec := transform.NewExecutor(p, g, time.Second, nil)
	ctrl := transform.NewController(exec, transform.ControllerConfig{
		MaxAttempts:    3,
		AttemptBackoff: time.Millisecond,
	})
	return NewRunner(ctrl, 20)
}

func newTestRunner(p provider.Provider) *Runner {
	return newTestRunnerWithGate(p, gate.New(time.Millisecond))
}

func collectEvents(t *testing.T, run func(chan<- ChunkCompleted) error) ([]ChunkCompleted, error) {
	t.Helper()
	events := make(chan ChunkCompleted)
	var got []ChunkCompleted
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			got = append(got, ev)
		}
	}()
	err := run(events)
	close(events)
	wg.Wait()
	return got, err
}

func TestRunner_EmitsOrderedEvents(t *testing.T) {
	p := &echoProvider{}
	r := newTestRunner(p)
	spec := PhaseSpec{Name: "clean", Instructions: "clean", Model: "m"}
	pieces := []string{"first piece", "second piece", "third piece"}

	got, err := collectEvents(t, func(events chan<- ChunkCompleted) error {
		return r.Run(context.Background(), spec, pieces, nil, events)
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, ev := range got {
		assert.Equal(t, i, ev.Result.Index)
		assert.Equal(t, i+1, ev.Processed)
		assert.Equal(t, 3, ev.Total)
		assert.Equal(t, pieces[i], ev.Result.Text)
		assert.False(t, ev.Result.Failed)
	}
}

func TestRunner_PrevOverlapComesFromPriorOutput(t *testing.T) {
	p := &echoProvider{fn: func(chunk string) (string, error) {
		return "OUT:" + chunk, nil
	}}
	r := newTestRunner(p)
	spec := PhaseSpec{Name: "clean", Instructions: "clean", Model: "m"}

	_, err := collectEvents(t, func(events chan<- ChunkCompleted) error {
		return r.Run(context.Background(), spec, []string{"alpha", "beta"}, nil, events)
	})
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.full, 2)
	assert.NotContains(t, p.full[0], "already processed section")
	assert.Contains(t, p.full[1], "OUT:alpha", "second prompt carries the first chunk's processed output")
	assert.Contains(t, p.full[0], "not yet processed section", "first prompt carries the forward overlap")
}

func TestRunner_ResumeSkipsCompletedChunks(t *testing.T) {
	p := &echoProvider{}
	r := newTestRunner(p)
	spec := PhaseSpec{Name: "clean", Instructions: "clean", Model: "m"}
	pieces := []string{"zero", "one", "two"}
	done := []model.ChunkResult{{Index: 0, Text: "zero done"}}

	got, err := collectEvents(t, func(events chan<- ChunkCompleted) error {
		return r.Run(context.Background(), spec, pieces, done, events)
	})
	require.NoError(t, err)
	require.Len(t, got, 2, "only the incomplete chunks run")
	assert.Equal(t, []string{"one", "two"}, p.chunks())
	assert.Equal(t, 1, got[0].Result.Index)
}

func TestRunner_SummaryTracksLastHeading(t *testing.T) {
	p := &echoProvider{}
	r := newTestRunner(p)
	spec := PhaseSpec{Name: "clean", Instructions: "clean", Model: "m"}
	pieces := []string{"SECTION TWO\n\nbody text", "later piece"}

	_, err := collectEvents(t, func(events chan<- ChunkCompleted) error {
		return r.Run(context.Background(), spec, pieces, nil, events)
	})
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Contains(t, p.full[1], "Document context so far: SECTION TWO")
}

// --- orchestrator ---

func writeDoc(t *testing.T, text string) model.Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	doc, err := describeFile(path)
	require.NoError(t, err)
	return doc
}

func describeFile(path string) (model.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.Document{}, err
	}
	return model.Document{
		Identity: model.DocumentIdentity{
			Name:     filepath.Base(path),
			ByteSize: info.Size(),
			ModTime:  info.ModTime().UTC(),
		},
		Path: path,
	}, nil
}

func testPhases(names ...string) []PhaseSpec {
	specs := make([]PhaseSpec, len(names))
	for i, name := range names {
		specs[i] = PhaseSpec{Name: name, Instructions: "do " + name, Model: "m", ChunkCount: 2}
	}
	return specs
}

// newTestOrchestrator wires the orchestrator and its runner to one shared
// gate, mirroring the production wiring, so Cancel reaches the executor.
func newTestOrchestrator(st session.Store, p provider.Provider, phases []PhaseSpec) *Orchestrator {
	g := gate.New(time.Millisecond)
	return New(st, newTestRunnerWithGate(p, g), g, nil, phases, Options{
		ThinTextThreshold: 1,
	})
}

const sampleText = "Article 1. Foo bar 12 text.\n\nSECTION TWO\n\nMore text 7."

func TestOrchestrator_FullRun(t *testing.T) {
	st := session.NewMemory()
	p := &echoProvider{}
	orch := newTestOrchestrator(st, p, testPhases("clean", "content_tag"))

	var progress []Progress
	orch.OnProgress(func(pr Progress) { progress = append(progress, pr) })

	doc := writeDoc(t, sampleText)
	sess, err := orch.Start(context.Background(), doc)
	require.NoError(t, err)

	assert.True(t, sess.Completed)
	assert.Equal(t, sampleText, orch.Result("content_tag"),
		"echo transform preserves the document through both phases")

	// Phases recorded in order: extract plus the two transform phases.
	var names []string
	for _, ph := range sess.Phases {
		names = append(names, ph.Name)
		assert.True(t, ph.Done())
	}
	assert.Equal(t, []string{PhaseExtract, "clean", "content_tag"}, names)

	// Progress covered each transform chunk.
	var transformEvents int
	for _, pr := range progress {
		if pr.Phase != PhaseExtract {
			transformEvents++
		}
	}
	assert.Equal(t, 4, transformEvents, "two chunks per transform phase")

	// The session survived in the store.
	stored, err := st.Load(context.Background(), doc.Identity.Key())
	require.NoError(t, err)
	assert.True(t, stored.Completed)
}

func TestOrchestrator_ResumeSkipsFinishedWork(t *testing.T) {
	ctx := context.Background()
	st := session.NewMemory()
	doc := writeDoc(t, sampleText)

	// First run: fail the run after the first chunk of the second phase.
	calls := 0
	p1 := &echoProvider{}
	p1.fn = func(chunk string) (string, error) {
		calls++
		if calls == 4 {
			return "", &provider.Error{Provider: "echo", Retriable: false, Err: assert.AnError}
		}
		return chunk, nil
	}
	orch1 := newTestOrchestrator(st, p1, testPhases("clean", "content_tag"))
	_, err := orch1.Start(ctx, doc)
	require.Error(t, err)

	// Second run resumes: phase one is done, phase two restarts at chunk 1.
	p2 := &echoProvider{}
	orch2 := newTestOrchestrator(st, p2, testPhases("clean", "content_tag"))
	sess, err := orch2.Start(ctx, doc)
	require.NoError(t, err)

	assert.True(t, sess.Completed)
	assert.Equal(t, []string{"SECTION TWO\n\nMore text 7."}, p2.chunks(),
		"resume must re-invoke the provider only for the incomplete chunk")
}

func TestOrchestrator_CompletedRunStartsFresh(t *testing.T) {
	ctx := context.Background()
	st := session.NewMemory()
	doc := writeDoc(t, sampleText)

	p := &echoProvider{}
	orch := newTestOrchestrator(st, p, testPhases("clean"))
	first, err := orch.Start(ctx, doc)
	require.NoError(t, err)
	require.True(t, first.Completed)

	p2 := &echoProvider{}
	orch2 := newTestOrchestrator(st, p2, testPhases("clean"))
	second, err := orch2.Start(ctx, doc)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID, "a completed session is not resumed")
	assert.Len(t, p2.chunks(), 2, "all chunks run again")
}

func TestOrchestrator_CancelStopsRunKeepsSessionResumable(t *testing.T) {
	ctx := context.Background()
	st := session.NewMemory()
	doc := writeDoc(t, sampleText)

	var orch *Orchestrator
	var cancelOnce sync.Once
	p := &echoProvider{}
	p.fn = func(chunk string) (string, error) {
		cancelOnce.Do(func() { orch.Cancel() })
		return chunk, nil
	}
	orch = newTestOrchestrator(st, p, testPhases("clean", "content_tag"))

	sess, err := orch.Start(ctx, doc)
	require.Error(t, err)
	require.NotNil(t, sess)
	assert.False(t, sess.Completed, "a canceled run must stay resumable")
	assert.Len(t, p.chunks(), 1, "no chunk may start after cancel")
	for _, ph := range sess.Phases {
		for _, cr := range ph.ChunkResults {
			assert.False(t, cr.Failed, "cancel must not record chunks as failed fallbacks")
		}
	}

	// The same orchestrator starts again: the gate re-arms and the run
	// resumes from the persisted state.
	sess2, err := orch.Start(ctx, doc)
	require.NoError(t, err)
	assert.True(t, sess2.Completed)
	assert.Equal(t, sess.ID, sess2.ID)
	assert.Equal(t, sampleText, orch.Result("content_tag"))
}

func TestRunner_FailedChunkDoesNotAdvanceSummary(t *testing.T) {
	calls := 0
	p := &echoProvider{}
	p.fn = func(chunk string) (string, error) {
		calls++
		if calls >= 2 && calls <= 4 {
			return "", &provider.Error{Provider: "echo", Retriable: true, Err: assert.AnError}
		}
		return chunk, nil
	}
	r := newTestRunner(p)
	spec := PhaseSpec{Name: "clean", Instructions: "clean", Model: "m"}
	pieces := []string{"CHAPTER ONE\n\nalpha", "SECTION TWO\n\nbeta", "gamma"}

	got, err := collectEvents(t, func(events chan<- ChunkCompleted) error {
		return r.Run(context.Background(), spec, pieces, nil, events)
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[1].Result.Failed, "middle chunk exhausts its attempts")

	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.full[len(p.full)-1]
	assert.Contains(t, last, "Document context so far: CHAPTER ONE",
		"the failed chunk's heading must not replace the last verified one")
}

func TestRunner_ResumeSummarySkipsFailedChunks(t *testing.T) {
	p := &echoProvider{}
	r := newTestRunner(p)
	spec := PhaseSpec{Name: "clean", Instructions: "clean", Model: "m"}
	pieces := []string{"ARTICLE ONE\n\nx", "SECTION TWO\n\ny", "z"}
	done := []model.ChunkResult{
		{Index: 0, Text: "ARTICLE ONE\n\nx"},
		{Index: 1, Text: "SECTION TWO\n\ny", Failed: true},
	}

	_, err := collectEvents(t, func(events chan<- ChunkCompleted) error {
		return r.Run(context.Background(), spec, pieces, done, events)
	})
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.full, 1)
	assert.Contains(t, p.full[0], "Document context so far: ARTICLE ONE")
}

type fakeOCR struct {
	text  string
	calls int
}

func (f *fakeOCR) ExtractText(context.Context, string) (string, error) {
	f.calls++
	return f.text, nil
}

func TestOrchestrator_OCRFallbackForThinText(t *testing.T) {
	ctx := context.Background()
	st := session.NewMemory()
	doc := writeDoc(t, "thin")

	ocr := &fakeOCR{text: sampleText}
	p := &echoProvider{}
	g := gate.New(time.Millisecond)
	orch := New(st, newTestRunnerWithGate(p, g), g, ocr, testPhases("clean"), Options{
		ThinTextThreshold: 100,
	})

	sess, err := orch.Start(ctx, doc)
	require.NoError(t, err)

	assert.Equal(t, 1, ocr.calls)
	assert.True(t, sess.Completed)
	require.NotNil(t, sess.Phase(PhaseOCR))
	assert.Equal(t, sampleText, sess.Result(PhaseOCR))
	assert.Equal(t, sampleText, orch.Result("clean"))
}

func TestOrchestrator_NoOCRConfiguredForThinTextFails(t *testing.T) {
	st := session.NewMemory()
	doc := writeDoc(t, "thin")
	p := &echoProvider{}
	g := gate.New(time.Millisecond)
	orch := New(st, newTestRunnerWithGate(p, g), g, nil, testPhases("clean"), Options{
		ThinTextThreshold: 100,
	})

	_, err := orch.Start(context.Background(), doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OCR")
	assert.ErrorIs(t, orch.LastError(), err)
}

func TestOrchestrator_FootnotePhaseFinalizesOutput(t *testing.T) {
	ctx := context.Background()
	st := session.NewMemory()
	input := "Body with a reference [[FN_REF:2]].\n\n[[FN_DEF:2]] The footnote text."
	doc := writeDoc(t, input)

	phases := DefaultPhases("m", 2)
	// Keep only the footnote phase for the test.
	var footnoteOnly []PhaseSpec
	for _, spec := range phases {
		if spec.Name == PhaseFootnoteTag {
			footnoteOnly = append(footnoteOnly, spec)
		}
	}
	require.Len(t, footnoteOnly, 1)

	p := &echoProvider{}
	orch := newTestOrchestrator(st, p, footnoteOnly)
	_, err := orch.Start(ctx, doc)
	require.NoError(t, err)

	out := orch.Result(PhaseFootnoteTag)
	assert.Contains(t, out, "{{footnotenumber1}}1{{-footnotenumber1}}")
	assert.Contains(t, out, "{{footnotes_section}}")
	assert.NotContains(t, out, "[[FN_REF")
}
