package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/pdf2schema/internal/common"
)

type rootOptions struct {
	configPath string
	logFormat  string
	logLevel   string
	noColor    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "pdf2schema",
		Short: "Turn PDF data dictionaries into validated dataset schemas",
		Long: `pdf2schema extracts text from PDF documents, asks a language model for a
dataset schema, and refines it until it passes validation and confidence
scoring. Results are written as dataset description YAML.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (default $PDF2SCHEMA_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "text or json (default json for serve, text otherwise)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (default info for serve, warn otherwise)")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(
		newConvertCmd(opts),
		newBatchCmd(opts),
		newEvaluateCmd(opts),
		newExtractCmd(opts),
		newServeCmd(opts),
		newDBHealthCmd(opts),
	)
	return cmd
}

// load reads the configuration and installs the process logger.
func (o *rootOptions) load(defaultFormat string, defaultLevel slog.Level) (*common.Config, *slog.Logger, error) {
	cfg, err := common.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	format := o.logFormat
	if format == "" {
		format = defaultFormat
	}
	logger, err := newLogger(os.Stderr, format, o.logLevel, defaultLevel)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newLogger builds a JSON handler or a compact text handler without time and
// level attributes.
func newLogger(w io.Writer, format, level string, defaultLevel slog.Level) (*slog.Logger, error) {
	lvl := defaultLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid --log-level %q", level)
		}
	}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: lvl,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey) {
					return slog.Attr{}
				}
				return a
			},
		})), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}
