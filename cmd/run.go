package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/doctag-cli/internal/model"
	"github.com/sells-group/doctag-cli/internal/pipeline"
	"github.com/sells-group/doctag-cli/internal/review"
)

var runOut string

// runResult is the JSON summary printed after a run.
type runResult struct {
	SessionID    string            `json:"session_id"`
	Document     string            `json:"document"`
	Completed    bool              `json:"completed"`
	ElapsedMs    int64             `json:"elapsed_ms"`
	FailedChunks map[string][]int  `json:"failed_chunks,omitempty"`
	Review       *review.Result    `json:"review,omitempty"`
	Phases       []runPhaseSummary `json:"phases"`
}

type runPhaseSummary struct {
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
	Done   bool   `json:"done"`
}

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run the tagging pipeline on a single document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		doc, err := describeDocument(args[0])
		if err != nil {
			return err
		}

		orch := env.NewOrchestrator()
		orch.OnProgress(func(p pipeline.Progress) {
			fmt.Fprintf(os.Stderr, "\r%s: %d/%d", p.Phase, p.Processed, p.Total)
			if p.Processed == p.Total {
				fmt.Fprintln(os.Stderr)
			}
		})

		// A signal cancels in-flight calls; state saved so far resumes on
		// the next invocation.
		go func() {
			<-ctx.Done()
			orch.Cancel()
		}()

		sess, runErr := orch.Start(ctx, doc)
		if runErr != nil && sess == nil {
			return eris.Wrap(runErr, "pipeline run")
		}

		out := orch.Result(pipeline.PhaseContentTag)
		if out != "" && runOut != "" {
			if err := os.WriteFile(runOut, []byte(out), 0o644); err != nil {
				return eris.Wrap(err, "write output")
			}
			zap.L().Info("output written", zap.String("path", runOut))
		}

		summary := summarize(sess, out)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
		if runErr != nil {
			return eris.Wrap(runErr, "pipeline run")
		}
		return nil
	},
}

// describeDocument captures the identity triple that keys the resumable
// session: name, byte size, and modification time.
func describeDocument(path string) (model.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.Document{}, eris.Wrapf(err, "stat %s", path)
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

func summarize(sess *model.Session, taggedOutput string) runResult {
	res := runResult{
		SessionID: sess.ID,
		Document:  sess.Document.Name,
		Completed: sess.Completed,
		ElapsedMs: sess.TotalElapsed.Milliseconds(),
	}
	for _, ph := range sess.Phases {
		res.Phases = append(res.Phases, runPhaseSummary{
			Name:   ph.Name,
			Chunks: len(ph.ChunkResults),
			Done:   ph.Done(),
		})
		if failed := ph.FailedChunks(); len(failed) > 0 {
			if res.FailedChunks == nil {
				res.FailedChunks = make(map[string][]int)
			}
			res.FailedChunks[ph.Name] = failed
		}
	}
	if taggedOutput != "" {
		r := review.Run(taggedOutput)
		res.Review = &r
	}
	return res
}

func init() {
	runCmd.Flags().StringVar(&runOut, "out", "", "write the tagged document to this file")
	rootCmd.AddCommand(runCmd)
}
