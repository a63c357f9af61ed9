package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/pdf2schema/internal/common"
)

func newDBHealthCmd(root *rootOptions) *cobra.Command {
	var (
		timeout time.Duration
		recent  int
	)
	cmd := &cobra.Command{
		Use:   "db-health",
		Short: "Ping the run store and list recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load("text", slog.LevelInfo)
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return common.NewAppError(common.CodeConfig, "no database configured (DB_URL)", common.ErrInvalidInput)
			}
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			start := time.Now()
			if err := s.HealthCheck(ctx, timeout); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printField(w, "dialect", s.Dialect())
			printField(w, "ping", successColor(fmt.Sprintf("ok in %dms", time.Since(start).Milliseconds())))

			if recent <= 0 {
				return nil
			}
			runs, err := s.ListRuns(ctx, recent)
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Fprintf(w, "%s  %s  %s  %s\n", r.CreatedAt.Format(time.RFC3339), r.ID, statusText(r.Status), r.SourcePath)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "ping timeout")
	cmd.Flags().IntVar(&recent, "recent", 5, "number of recent runs to list (0 to skip)")
	return cmd
}
