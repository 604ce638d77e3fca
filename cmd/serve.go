package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/doctag-cli/internal/pipeline"
	"github.com/sells-group/doctag-cli/internal/review"
)

// runHandle tracks one in-flight or finished run for the progress API.
type runHandle struct {
	mu       sync.Mutex
	orch     *pipeline.Orchestrator
	progress pipeline.Progress
	running  bool
	err      error
}

func (h *runHandle) snapshot() (pipeline.Progress, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress, h.running, h.err
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP progress API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var (
			runsMu sync.Mutex
			runs   = map[string]*runHandle{}
		)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Path string `json:"path"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Path == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "path is required"})
				return
			}

			doc, err := describeDocument(body.Path)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			key := doc.Identity.Key()

			runsMu.Lock()
			if h, ok := runs[key]; ok {
				if _, running, _ := h.snapshot(); running {
					runsMu.Unlock()
					writeJSON(w, http.StatusConflict, map[string]string{"error": "run already in progress", "key": key})
					return
				}
			}
			h := &runHandle{orch: env.NewOrchestrator(), running: true}
			runs[key] = h
			runsMu.Unlock()

			h.orch.OnProgress(func(p pipeline.Progress) {
				h.mu.Lock()
				h.progress = p
				h.mu.Unlock()
			})

			go func() {
				_, runErr := h.orch.Start(ctx, doc)
				h.mu.Lock()
				h.running = false
				h.err = runErr
				h.mu.Unlock()
				if runErr != nil {
					zap.L().Error("serve: run failed", zap.String("key", key), zap.Error(runErr))
				}
			}()

			writeJSON(w, http.StatusAccepted, map[string]string{"key": key})
		})

		r.Get("/runs/{key}", func(w http.ResponseWriter, req *http.Request) {
			h, ok := lookupRun(&runsMu, runs, chi.URLParam(req, "key"))
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown run"})
				return
			}
			progress, running, runErr := h.snapshot()
			resp := map[string]any{
				"phase":     progress.Phase,
				"processed": progress.Processed,
				"total":     progress.Total,
				"running":   running,
			}
			if sess := h.orch.Session(); sess != nil {
				resp["session_id"] = sess.ID
				resp["completed"] = sess.Completed
				if sess.Completed {
					if out := h.orch.Result(pipeline.PhaseContentTag); out != "" {
						resp["review"] = review.Run(out)
					}
				}
			}
			if runErr != nil {
				resp["error"] = runErr.Error()
			}
			writeJSON(w, http.StatusOK, resp)
		})

		r.Post("/runs/{key}/cancel", func(w http.ResponseWriter, req *http.Request) {
			h, ok := lookupRun(&runsMu, runs, chi.URLParam(req, "key"))
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown run"})
				return
			}
			h.orch.Cancel()
			writeJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("serving progress API", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func lookupRun(mu *sync.Mutex, runs map[string]*runHandle, key string) (*runHandle, bool) {
	mu.Lock()
	defer mu.Unlock()
	h, ok := runs[key]
	return h, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
