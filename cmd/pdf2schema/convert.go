package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/pdf2schema/internal/export"
	"github.com/joseph-ayodele/pdf2schema/internal/pipeline"
	"github.com/joseph-ayodele/pdf2schema/internal/workflow"
)

type convertOptions struct {
	groundTruth string
	outDir      string
	jsonOut     bool
	xlsxPath    string
}

func newConvertCmd(root *rootOptions) *cobra.Command {
	opts := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert <pdf>",
		Short: "Convert one PDF into a dataset description YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd.Context(), root, opts, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.groundTruth, "ground-truth", "g", "", "ground truth YAML; adds accuracy and coverage metrics")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "output directory (default from config)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the full response as JSON")
	cmd.Flags().StringVar(&opts.xlsxPath, "xlsx", "", "also write an Excel workbook to this path")
	return cmd
}

func runConvert(ctx context.Context, root *rootOptions, opts *convertOptions, pdf string, stdout io.Writer) error {
	cfg, logger, err := root.load("text", slog.LevelWarn)
	if err != nil {
		return err
	}
	if opts.outDir != "" {
		cfg.Server.OutputDir = opts.outDir
	}

	spin := newSpinner("extracting text from " + filepath.Base(pdf))
	progress := workflow.ObserverFunc(func(_ context.Context, s workflow.Snapshot) {
		spin.Lock()
		spin.Suffix = fmt.Sprintf(" pass %d: %s", s.Iteration, s.Outcome)
		spin.Unlock()
	})
	a, err := newApp(ctx, cfg, logger, appOptions{observers: []workflow.Observer{progress}})
	if err != nil {
		return err
	}
	defer a.Close()

	spin.Start()
	out, err := a.processor.Convert(ctx, pipeline.Request{Path: pdf, GroundTruthPath: opts.groundTruth})
	spin.Stop()
	if err != nil {
		return err
	}

	if opts.xlsxPath != "" {
		data, err := export.NewService(logger).XLSX(out.Result, out.Evaluation)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.xlsxPath, data, 0o644); err != nil {
			return fmt.Errorf("write workbook: %w", err)
		}
	}

	if opts.jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out.Response); err != nil {
			return err
		}
	} else {
		printOutcome(stdout, out, opts.xlsxPath)
	}
	if out.Response.ReturnCode != 0 {
		return exitCode(out.Response.ReturnCode)
	}
	return nil
}

func printOutcome(w io.Writer, out pipeline.Outcome, xlsxPath string) {
	res := out.Result
	printField(w, "run", out.RunID)
	printField(w, "status", statusText(res.Status))
	printField(w, "iterations", res.Iterations)
	if res.ConfidenceScore != nil {
		printField(w, "confidence", fmt.Sprintf("%.2f", *res.ConfidenceScore))
	}
	if res.Document != nil {
		printField(w, "tables", len(res.Document.Tables))
		printField(w, "fields", res.Document.FieldCount())
	}
	if out.YAMLPath != "" {
		printField(w, "yaml", out.YAMLPath)
	}
	if xlsxPath != "" {
		printField(w, "xlsx", xlsxPath)
	}
	if ev := out.Evaluation; ev != nil {
		printField(w, "accuracy", fmt.Sprintf("%.2f%%", ev.Accuracy))
		printField(w, "coverage", fmt.Sprintf("%.2f%%", ev.Coverage))
	}
	tok := out.Stats.Tokens
	printField(w, "tokens", fmt.Sprintf("%d prompt / %d completion (%d calls)", tok.PromptTokens, tok.CompletionTokens, tok.Calls))
	printField(w, "latency", fmt.Sprintf("%dms", out.Stats.LatencyMS))
	if reason := res.FailureReason(); reason != "" {
		fmt.Fprintln(w, warnColor(reason))
	}
}
