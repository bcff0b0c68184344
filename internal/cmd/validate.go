package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"derivcore/internal/core"
	"derivcore/internal/model"
)

var flagRunID string

var validateCmd = &cobra.Command{
	Use:     "validate-only",
	Aliases: []string{"validate"},
	Short:   "Re-validate a persisted run against current references without recomputation",
	Args:    cobra.NoArgs,
	RunE:    runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&flagRunID, "run", "", "run id to validate (default latest)")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	// The model file supplies the current experimental references; values
	// come from the persisted snapshot, not from recomputation.
	m, err := model.LoadFile(flagModel)
	if err != nil {
		return err
	}

	history, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = history.Close() }()

	var (
		snap  core.Snapshot
		found bool
	)
	if flagRunID != "" {
		snap, found, err = history.Run(ctx, flagRunID)
	} else {
		snap, found, err = history.LatestRun(ctx)
	}
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no persisted run to validate")
	}
	logger.Info("validating persisted run", "run_id", snap.RunID, "partial", snap.PartialRun)

	store := core.NewValueStore()
	store.ImportSnapshot(snap)
	runReport := core.RunReport{
		RunID:      snap.RunID,
		PartialRun: snap.PartialRun,
		States:     snap.States,
		Notes:      snap.Notes,
	}

	validator := core.NewValidator(m.References)
	results := validator.Run(store, runReport)
	summaries := core.Summarize(results)
	printSummary(cmd, runReport, results, summaries, core.MonteCarloResult{})

	if code := exitCodeFor(results); code != exitOK {
		return exitCodeError{code: code}
	}
	return nil
}
