package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/doctag-cli/internal/docsource"
	"github.com/sells-group/doctag-cli/internal/gate"
	"github.com/sells-group/doctag-cli/internal/pipeline"
	"github.com/sells-group/doctag-cli/internal/provider"
	"github.com/sells-group/doctag-cli/internal/session"
	"github.com/sells-group/doctag-cli/internal/transform"
	anthropicpkg "github.com/sells-group/doctag-cli/pkg/anthropic"
	geminipkg "github.com/sells-group/doctag-cli/pkg/gemini"
)

// pipelineEnv holds everything the run/batch/serve commands need: the session
// store, the shared call gate, and the phase catalog. Orchestrators are built
// per document because each one owns a single run's state.
type pipelineEnv struct {
	Store  session.Store
	Gate   *gate.Gate
	Runner *pipeline.Runner
	OCR    docsource.OCRExtractor
	Phases []pipeline.PhaseSpec
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// NewOrchestrator builds a fresh orchestrator bound to the shared gate,
// store, and runner.
func (pe *pipelineEnv) NewOrchestrator() *pipeline.Orchestrator {
	return pipeline.New(pe.Store, pe.Runner, pe.Gate, pe.OCR, pe.Phases, pipeline.Options{
		ThinTextThreshold: cfg.OCR.ThinTextThreshold,
	})
}

func initStore(ctx context.Context) (session.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return session.NewMemory(), nil
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "doctag.db"
		}
		st, err := session.NewSQLite(path)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := session.NewPostgres(ctx, cfg.Store.DatabaseURL, &session.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initProvider builds the configured backend wrapped with the rate ceiling
// and circuit breaker.
func initProvider(ctx context.Context) (provider.Provider, string, error) {
	switch cfg.Provider.Name {
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			return nil, "", eris.New("anthropic API key is required (DOCTAG_ANTHROPIC_KEY)")
		}
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		return provider.NewResilient(provider.NewAnthropic(client, 0), cfg.Provider.RPM), cfg.Anthropic.Model, nil
	case "gemini":
		if cfg.Gemini.Key == "" {
			return nil, "", eris.New("gemini API key is required (DOCTAG_GEMINI_KEY)")
		}
		client, err := geminipkg.NewClient(ctx, cfg.Gemini.Key)
		if err != nil {
			return nil, "", err
		}
		return provider.NewResilient(provider.NewGemini(client), cfg.Provider.RPM), cfg.Gemini.Model, nil
	default:
		return nil, "", eris.Errorf("unsupported provider: %s", cfg.Provider.Name)
	}
}

// initPipeline sets up the store, provider, gate, and phase catalog. Callers
// should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	prov, model, err := initProvider(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	g := gate.New(time.Duration(cfg.Gate.MinIntervalMs) * time.Millisecond)
	exec := transform.NewExecutor(prov, g,
		time.Duration(cfg.Provider.CallTimeoutSecs)*time.Second,
		cfg.Provider.Sentinels,
	)
	ctrl := transform.NewController(exec, transform.ControllerConfig{
		MaxAttempts:        cfg.Controller.MaxAttempts,
		AttemptBackoff:     time.Duration(cfg.Controller.BackoffMs) * time.Millisecond,
		LossRatioThreshold: cfg.Controller.LossRatioThreshold,
		LostCountCap:       cfg.Controller.LostCountCap,
		FailSafe:           cfg.Controller.FailSafe,
	})
	runner := pipeline.NewRunner(ctrl, cfg.Chunk.OverlapRunes)

	phases := pipeline.DefaultPhases(model, cfg.Chunk.Count)
	if cfg.Phases.File != "" {
		phases, err = pipeline.LoadPhaseOverrides(cfg.Phases.File, phases)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	ocr, err := docsource.NewOCR(docsource.OCRConfig{
		Provider:      cfg.OCR.Provider,
		PdfToTextPath: cfg.OCR.PdfToTextPath,
		MistralKey:    cfg.OCR.MistralKey,
		MistralModel:  cfg.OCR.MistralModel,
	})
	if err != nil {
		zap.L().Warn("ocr init failed, fallback disabled", zap.Error(err))
		ocr = nil
	}

	return &pipelineEnv{
		Store:  st,
		Gate:   g,
		Runner: runner,
		OCR:    ocr,
		Phases: phases,
	}, nil
}
