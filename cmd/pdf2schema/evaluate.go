package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/pdf2schema/internal/export"
	"github.com/joseph-ayodele/pdf2schema/internal/metrics"
	"github.com/joseph-ayodele/pdf2schema/internal/schema"
)

func newEvaluateCmd(root *rootOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "evaluate <output.yaml> <ground_truth.yaml>",
		Short: "Score a generated schema against ground truth",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := root.load("text", slog.LevelWarn); err != nil {
				return err
			}
			report, err := evaluateFiles(args[0], args[1])
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the report as JSON")
	return cmd
}

func evaluateFiles(outputPath, truthPath string) (metrics.Report, error) {
	p, err := schema.NewParser()
	if err != nil {
		return metrics.Report{}, err
	}
	out, err := export.ReadDocument(outputPath, p)
	if err != nil {
		return metrics.Report{}, fmt.Errorf("output %s: %w", outputPath, err)
	}
	truth, err := export.ReadDocument(truthPath, p)
	if err != nil {
		return metrics.Report{}, fmt.Errorf("ground truth %s: %w", truthPath, err)
	}
	return metrics.Evaluate(out, truth), nil
}

func printReport(w io.Writer, r metrics.Report, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	printField(w, "accuracy", fmt.Sprintf("%.2f%% (%d/%d)", r.Accuracy, r.Correct, r.Expected))
	printField(w, "coverage", fmt.Sprintf("%.2f%% (%d/%d)", r.Coverage, r.Described, r.Expected))
	if msg := r.AccuracyMessage(); msg != "" {
		fmt.Fprintln(w, msg)
	}
	if msg := r.CoverageMessage(); msg != "" {
		fmt.Fprintln(w, msg)
	}
	return nil
}
