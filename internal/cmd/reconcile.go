package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"derivcore/internal/export"
)

var flagCanonical string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <doc-dir>",
	Short: "Diff tagged literals in generated documents against the canonical export",
	Args:  cobra.ExactArgs(1),
	RunE:  runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVar(&flagCanonical, "canonical", "canonical.json", "path to the canonical export document")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	payload, err := os.ReadFile(flagCanonical)
	if err != nil {
		return fmt.Errorf("read canonical export: %w", err)
	}
	canonical, err := export.Unmarshal(payload)
	if err != nil {
		return fmt.Errorf("parse canonical export: %w", err)
	}

	documents, err := collectDocuments(args[0])
	if err != nil {
		return err
	}
	if len(documents) == 0 {
		return fmt.Errorf("no documents found under %s", args[0])
	}

	findings := export.Reconcile(canonical, documents)
	out := cmd.OutOrStdout()
	clean := true
	for _, f := range findings {
		switch f.Class {
		case export.ClassMatch:
			fmt.Fprintf(out, "MATCH             %s:%d %s\n", f.Document, f.Line, f.ParameterID)
		case export.ClassDrift:
			clean = false
			fmt.Fprintf(out, "DRIFT(%g)         %s:%d %s: %s\n", f.Delta, f.Document, f.Line, f.ParameterID, f.Detail)
		default:
			clean = false
			fmt.Fprintf(out, "%-17s %s:%d %s: %s\n", f.Class, f.Document, f.Line, f.ParameterID, f.Detail)
		}
	}
	fmt.Fprintf(out, "%d citation(s) checked\n", len(findings))

	if !clean {
		return exitCodeError{code: exitFail}
	}
	return nil
}

// collectDocuments reads every regular file under dir, keyed by its path
// relative to dir.
func collectDocuments(dir string) (map[string][]byte, error) {
	documents := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		documents[filepath.ToSlash(rel)] = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	return documents, nil
}
