package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/doctag-cli/internal/model"
)

var (
	batchOutDir string
	batchGlob   string
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Run the tagging pipeline over every document in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		docs, err := collectDocuments(args[0], batchGlob)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			zap.L().Info("no documents matched", zap.String("dir", args[0]), zap.String("glob", batchGlob))
			return nil
		}

		// The shared gate serializes provider calls system-wide, so extra
		// workers only overlap extraction and persistence, not API traffic.
		workers := cfg.Batch.MaxConcurrentDocuments
		if workers <= 0 {
			workers = 1
		}

		var completed, failed atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, doc := range docs {
			g.Go(func() error {
				orch := env.NewOrchestrator()
				sess, runErr := orch.Start(gctx, doc)
				if runErr != nil {
					failed.Add(1)
					zap.L().Error("batch: document failed",
						zap.String("document", doc.Identity.Name),
						zap.Error(runErr),
					)
					// One failed document does not stop the batch unless
					// the whole run was canceled.
					return gctx.Err()
				}
				completed.Add(1)
				if batchOutDir != "" && sess != nil {
					out := orch.Result(lastPhaseName(env))
					dest := filepath.Join(batchOutDir, doc.Identity.Name+".tagged.txt")
					if err := os.WriteFile(dest, []byte(out), 0o644); err != nil {
						return eris.Wrapf(err, "write %s", dest)
					}
				}
				return nil
			})
		}
		err = g.Wait()

		zap.L().Info("batch complete",
			zap.Int64("completed", completed.Load()),
			zap.Int64("failed", failed.Load()),
			zap.Int("total", len(docs)),
		)
		return err
	},
}

func collectDocuments(dir, glob string) ([]model.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read dir %s", dir)
	}
	var docs []model.Document
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if glob != "" {
			ok, matchErr := filepath.Match(glob, name)
			if matchErr != nil {
				return nil, eris.Wrapf(matchErr, "bad glob %q", glob)
			}
			if !ok {
				continue
			}
		} else if !strings.HasSuffix(strings.ToLower(name), ".pdf") &&
			!strings.HasSuffix(strings.ToLower(name), ".txt") {
			continue
		}
		doc, err := describeDocument(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func lastPhaseName(env *pipelineEnv) string {
	if len(env.Phases) == 0 {
		return ""
	}
	return env.Phases[len(env.Phases)-1].Name
}

func init() {
	batchCmd.Flags().StringVar(&batchOutDir, "out-dir", "", "write tagged outputs into this directory")
	batchCmd.Flags().StringVar(&batchGlob, "glob", "", "only process file names matching this pattern")
	rootCmd.AddCommand(batchCmd)
}
