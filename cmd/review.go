package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/doctag-cli/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review <file>",
	Short: "Check a tagged document for unbalanced or misnested tags",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		result := review.Run(string(raw))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
		if result.Status == review.StatusCritical {
			return eris.New("review: critical tag issues found")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}
