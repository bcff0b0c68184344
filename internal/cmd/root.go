// Package cmd implements the derivcore command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"derivcore/internal/config"
	"derivcore/pkg/domain"
)

// Exit codes.
const (
	exitOK           = 0
	exitFail         = 1 // at least one validation FAIL
	exitError        = 2 // at least one validation ERROR
	exitInvalidGraph = 3 // unresolved cycle or other blocking graph finding
)

// exitCodeError carries a specific process exit code through cobra.
type exitCodeError struct {
	code int
	err  error
}

func (e exitCodeError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e exitCodeError) Unwrap() error { return e.err }

var (
	flagConfig string
	flagModel  string
)

var rootCmd = &cobra.Command{
	Use:           "derivcore",
	Short:         "Dependency-driven parameter derivation and cross-validation engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "model.json", "path to the model file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(runsCmd)
}

// Execute runs the CLI and returns the process exit code. Interrupts cancel
// the run context; in-flight parameters drain and the run is persisted as
// partial.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var coded exitCodeError
	if errors.As(err, &coded) {
		if coded.err != nil {
			fmt.Fprintln(os.Stderr, "derivcore:", coded.err)
		}
		return coded.code
	}
	var graphErr domain.GraphError
	if errors.As(err, &graphErr) {
		fmt.Fprintln(os.Stderr, "derivcore:", err)
		return exitInvalidGraph
	}
	fmt.Fprintln(os.Stderr, "derivcore:", err)
	return exitError
}

func loadConfig() (config.Config, error) {
	return config.Load(flagConfig)
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitCodeFor maps validation results to the documented exit codes. CHECK
// results are informational and do not affect the code.
func exitCodeFor(results []domain.ValidationResult) int {
	code := exitOK
	for _, r := range results {
		switch r.Status {
		case domain.ValidationError:
			return exitError
		case domain.ValidationFail:
			code = exitFail
		}
	}
	return code
}
