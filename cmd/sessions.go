package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/doctag-cli/internal/model"
	"github.com/sells-group/doctag-cli/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect saved pipeline sessions",
	Long:  "Commands for listing, viewing, and clearing resumable document sessions.",
}

// -- sessions list --

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lister, ok := st.(session.Lister)
		if !ok {
			return eris.Errorf("store driver %s cannot list sessions", cfg.Store.Driver)
		}
		sessions, err := lister.List(ctx)
		if err != nil {
			return eris.Wrap(err, "sessions list")
		}
		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}

		formatSessionsList(os.Stdout, sessions)
		return nil
	},
}

// -- sessions show --

var sessionsShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Show the session for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		doc, err := describeDocument(args[0])
		if err != nil {
			return err
		}
		sess, err := st.Load(ctx, doc.Identity.Key())
		if eris.Is(err, session.ErrNotFound) {
			fmt.Fprintln(os.Stderr, "No session for this document.")
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "sessions show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

// -- sessions clear --

var sessionsClearCmd = &cobra.Command{
	Use:   "clear <file>",
	Short: "Delete the session for a document so the next run starts fresh",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		doc, err := describeDocument(args[0])
		if err != nil {
			return err
		}
		if err := st.Clear(ctx, doc.Identity.Key()); err != nil {
			return eris.Wrap(err, "sessions clear")
		}
		fmt.Println("Session cleared.")
		return nil
	},
}

func formatSessionsList(w io.Writer, sessions []model.Session) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCUMENT\tPHASE\tCOMPLETED\tUPDATED")
	for _, s := range sessions {
		phase := s.CurrentPhase
		if s.Completed {
			phase = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n",
			s.Document.Name,
			phase,
			s.Completed,
			s.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	_ = tw.Flush()
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)
	rootCmd.AddCommand(sessionsCmd)
}
