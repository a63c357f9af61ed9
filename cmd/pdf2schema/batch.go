package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/pdf2schema/constants"
	"github.com/joseph-ayodele/pdf2schema/internal/async"
	"github.com/joseph-ayodele/pdf2schema/internal/ingest"
)

type batchOptions struct {
	workers    int
	outDir     string
	truthDir   string
	skipHidden bool
}

func newBatchCmd(root *rootOptions) *cobra.Command {
	opts := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Convert every PDF under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), root, opts, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "parallel conversions (default from config)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "output directory (default from config)")
	cmd.Flags().StringVar(&opts.truthDir, "ground-truth-dir", "", "directory of <stem>.yaml ground truth files")
	cmd.Flags().BoolVar(&opts.skipHidden, "skip-hidden", true, "skip dot files and directories")
	return cmd
}

func runBatch(ctx context.Context, root *rootOptions, opts *batchOptions, dir string, stdout io.Writer) error {
	cfg, logger, err := root.load("text", slog.LevelWarn)
	if err != nil {
		return err
	}
	if opts.outDir != "" {
		cfg.Server.OutputDir = opts.outDir
	}
	workers := cfg.Queue.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}

	files, stats, err := ingest.Discover(dir, opts.skipHidden)
	if err != nil {
		return err
	}
	logger.Info("batch.discovered", "root", dir, "scanned", stats.Scanned, "matched", stats.Matched, "skipped", stats.Skipped, "failed", stats.Failed)
	if len(files) == 0 {
		fmt.Fprintln(stdout, warnColor("no PDF files found under "+dir))
		return nil
	}

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	bar := newProgressBar(len(files), "converting")
	var (
		mu      sync.Mutex
		results []async.JobResult
	)
	q := async.NewProcessorQueue(a.processor, logger,
		async.WithWorkers(workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.Timeout),
		async.WithOnDone(func(r async.JobResult) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			_ = bar.Add(1)
		}),
	)

	for _, f := range files {
		job := async.Job{Path: f, OutputDir: cfg.Server.OutputDir, GroundTruthPath: truthFor(opts.truthDir, f)}
		if _, err := q.Enqueue(ctx, job); err != nil {
			q.Shutdown(context.Background())
			return err
		}
	}
	q.Shutdown(ctx)

	mu.Lock()
	defer mu.Unlock()
	return printBatch(stdout, results)
}

// truthFor returns <truthDir>/<stem>.yaml when it exists.
func truthFor(truthDir, pdf string) string {
	if truthDir == "" {
		return ""
	}
	stem := strings.TrimSuffix(filepath.Base(pdf), filepath.Ext(pdf))
	p := filepath.Join(truthDir, stem+".yaml")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

func printBatch(w io.Writer, results []async.JobResult) error {
	sort.Slice(results, func(i, j int) bool { return results[i].Job.Path < results[j].Job.Path })
	failed := 0
	for _, r := range results {
		name := filepath.Base(r.Job.Path)
		switch {
		case r.Status == constants.JobStatusFailed:
			failed++
			fmt.Fprintf(w, "%s %s: %v\n", errorColor("FAILED"), name, r.Err)
		case r.Outcome.YAMLPath != "":
			fmt.Fprintf(w, "%s %s -> %s\n", statusText(r.Outcome.Result.Status), name, r.Outcome.YAMLPath)
		default:
			failed++
			fmt.Fprintf(w, "%s %s: %s\n", statusText(r.Outcome.Result.Status), name, r.Outcome.Result.FailureReason())
		}
	}
	fmt.Fprintf(w, "%d converted, %d failed\n", len(results)-failed, failed)
	if failed > 0 {
		return exitCode(1)
	}
	return nil
}
