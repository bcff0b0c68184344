package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List persisted runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		history, err := openHistory(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = history.Close() }()

		metas, err := history.ListRuns(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, meta := range metas {
			line := fmt.Sprintf("%s  %s", meta.RunID, meta.CreatedAt.Format(time.RFC3339))
			if meta.PartialRun {
				line += "  partial"
			}
			fmt.Fprintln(out, line)
		}
		fmt.Fprintf(out, "%d run(s)\n", len(metas))
		return nil
	},
}
