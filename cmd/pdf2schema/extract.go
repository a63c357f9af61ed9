package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

func newExtractCmd(root *rootOptions) *cobra.Command {
	var meta bool
	cmd := &cobra.Command{
		Use:   "extract <pdf>",
		Short: "Print the text the converter would see for a PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load("text", slog.LevelWarn)
			if err != nil {
				return err
			}
			res, err := newExtractor(cfg.OCR, logger).Extract(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if meta {
				w := cmd.ErrOrStderr()
				printField(w, "method", res.Method)
				printField(w, "pages", res.Pages)
				printField(w, "quality", fmt.Sprintf("%.2f", res.Quality))
				printField(w, "duration", res.Duration.Round(time.Millisecond))
				for _, warn := range res.Warnings {
					fmt.Fprintln(w, warnColor("warning: "+warn))
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&meta, "meta", false, "print extraction method, page count and quality to stderr")
	return cmd
}
