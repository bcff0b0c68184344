package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"derivcore/internal/config"
	"derivcore/internal/core"
	"derivcore/internal/export"
	"derivcore/internal/model"
	"derivcore/internal/report"
	"derivcore/pkg/domain"
)

var (
	flagMonteCarlo int
	flagSeed       uint64
	flagWorkers    int
	flagOut        string
	flagNoReport   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the full derivation pipeline, validate, and export",
	Args:  cobra.NoArgs,
	RunE:  runPipeline,
}

func init() {
	runCmd.Flags().IntVar(&flagMonteCarlo, "montecarlo", 0, "number of Monte Carlo samples (0 disables)")
	runCmd.Flags().Uint64Var(&flagSeed, "seed", 1, "Monte Carlo base seed")
	runCmd.Flags().IntVar(&flagWorkers, "workers", 0, "worker count override (0 uses config)")
	runCmd.Flags().StringVar(&flagOut, "out", "canonical.json", "canonical export output path")
	runCmd.Flags().BoolVar(&flagNoReport, "no-report", false, "skip report artifact rendering")
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	m, err := model.LoadFile(flagModel)
	if err != nil {
		return err
	}

	detector := core.NewDetector(m.Registry)
	checks := detector.Check(m.Store)
	for _, finding := range checks.Findings {
		switch finding.Severity {
		case domain.SeverityBlock:
			logger.Error("graph finding", "code", finding.Code, "message", finding.Message)
		default:
			logger.Warn("graph finding", "code", finding.Code, "message", finding.Message)
		}
	}
	if checks.HasBlocking() {
		return exitCodeError{code: exitInvalidGraph, err: domain.GraphError{Result: checks}}
	}

	lock, err := acquireRunLock(cfg.LockPath)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	workers := cfg.Workers
	if flagWorkers > 0 {
		workers = flagWorkers
	}
	metrics, err := newMetricsRecorder(cfg)
	if err != nil {
		return err
	}
	executor := core.NewExecutor(m.Registry, core.ExecutorConfig{
		Workers: workers,
		Logger:  logger,
		Metrics: metrics,
	})

	runReport, err := executor.ExecutePipeline(ctx, m.Store)
	if err != nil {
		var graphErr domain.GraphError
		if errors.As(err, &graphErr) {
			return exitCodeError{code: exitInvalidGraph, err: err}
		}
		return err
	}

	var mc core.MonteCarloResult
	if flagMonteCarlo > 0 {
		mc, err = executor.RunMonteCarlo(ctx, m.Store, flagMonteCarlo, flagSeed)
		if err != nil {
			return err
		}
	}

	validator := core.NewValidator(m.References)
	results := validator.Run(m.Store, runReport)
	summaries := core.Summarize(results)

	doc := export.Build(m.Store, m.Registry, results)
	payload, err := export.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(flagOut, payload, 0o644); err != nil {
		return fmt.Errorf("write canonical export: %w", err)
	}

	snap := m.Store.ExportSnapshot(runReport.RunID, runReport.PartialRun, results)
	if err := persistRun(ctx, cfg, snap); err != nil {
		return err
	}

	if !flagNoReport {
		if err := renderReport(ctx, cfg, logger, runReport.RunID, doc, results, summaries); err != nil {
			return err
		}
	}

	printSummary(cmd, runReport, results, summaries, mc)

	if code := exitCodeFor(results); code != exitOK {
		return exitCodeError{code: code}
	}
	return nil
}

// persistRun saves the snapshot to the history store. An interrupt cancels
// the run context before this point, so persistence runs detached: a partial
// run still reaches the history store.
func persistRun(ctx context.Context, cfg config.Config, snap core.Snapshot) error {
	ctx = context.WithoutCancel(ctx)
	history, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = history.Close() }()
	if err := history.SaveRun(ctx, snap); err != nil {
		return fmt.Errorf("persist run: %w", err)
	}
	return nil
}

// renderReport enqueues JSON and CSV artifacts and waits for the worker to
// finish them. Like persistRun, it is detached from run cancellation.
func renderReport(ctx context.Context, cfg config.Config, logger *slog.Logger, runID string, doc export.Document, results []domain.ValidationResult, summaries []core.CategorySummary) error {
	ctx = context.WithoutCancel(ctx)
	store, err := openBlob(ctx, cfg)
	if err != nil {
		return err
	}
	worker := report.NewWorker(store, nil, logger)
	worker.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = worker.Stop(stopCtx)
	}()

	record, err := worker.Enqueue(ctx, report.Input{
		RunID:     runID,
		Document:  doc,
		Results:   results,
		Summaries: summaries,
	})
	if err != nil {
		return err
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		current, ok := worker.Get(record.ID)
		if !ok {
			break
		}
		switch current.Status {
		case report.StatusSucceeded:
			for _, artifact := range current.Artifacts {
				logger.Info("report artifact", "key", artifact.Key, "format", artifact.Format, "bytes", artifact.SizeBytes)
			}
			return nil
		case report.StatusFailed:
			return fmt.Errorf("report rendering failed: %s", current.Error)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("report rendering timed out")
}

func printSummary(cmd *cobra.Command, runReport core.RunReport, results []domain.ValidationResult, summaries []core.CategorySummary, mc core.MonteCarloResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s", runReport.RunID)
	if runReport.PartialRun {
		fmt.Fprint(out, " (partial)")
	}
	fmt.Fprintf(out, ": %d parameters validated\n", len(results))
	for _, s := range summaries {
		fmt.Fprintf(out, "  %-12s count=%d pass=%d fail=%d check=%d error=%d pass_rate=%.2f",
			s.Category, s.Count, s.Passed, s.Failed, s.Checked, s.Errored, s.PassRate)
		if s.MeanSigma != nil {
			fmt.Fprintf(out, " mean_sigma=%.3f", *s.MeanSigma)
		}
		fmt.Fprintln(out)
	}
	if mc.Samples > 0 {
		fmt.Fprintf(out, "monte carlo: %d samples, %d parameters tracked\n", mc.Samples, len(mc.Stats))
	}
}
