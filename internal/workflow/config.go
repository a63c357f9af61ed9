package workflow

import (
	"fmt"
	"time"

	"github.com/joseph-ayodele/pdf2schema/internal/common"
)

// Config is fixed for the lifetime of a Loop.
type Config struct {
	MaxIterations     int
	AcceptThreshold   float64 // inclusive, 0..100
	CompletionTimeout time.Duration
	// ResetFeedback keeps only the latest pass's feedback instead of the full history.
	ResetFeedback bool
}

func DefaultConfig() Config {
	return Config{
		MaxIterations:     3,
		AcceptThreshold:   80,
		CompletionTimeout: 60 * time.Second,
	}
}

// FromCommon maps the workflow section of the application config.
func FromCommon(c common.WorkflowConfig) Config {
	return Config{
		MaxIterations:     c.MaxIterations,
		AcceptThreshold:   c.AcceptThreshold,
		CompletionTimeout: c.CompletionTimeout,
		ResetFeedback:     c.ResetFeedback,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MaxIterations < 1:
		return common.NewAppError(common.CodeConfig, fmt.Sprintf("max iterations must be at least 1, got %d", c.MaxIterations), nil)
	case c.AcceptThreshold < 0 || c.AcceptThreshold > 100:
		return common.NewAppError(common.CodeConfig, fmt.Sprintf("accept threshold must be within [0,100], got %g", c.AcceptThreshold), nil)
	case c.CompletionTimeout < 0:
		return common.NewAppError(common.CodeConfig, "completion timeout must not be negative", nil)
	}
	return nil
}
