package common

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Workflow.MaxIterations)
	assert.Equal(t, 80.0, cfg.Workflow.AcceptThreshold)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, []string{"schema", "table", "database", "dataset"}, cfg.Template.DomainKeywords)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pdf2schema.yaml")
	content := `
workflow:
  max_iterations: 5
  accept_threshold: 72.5
  completion_timeout: 15s
template:
  min_keywords: 2
  domain_keywords: [schema, column]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("OPENAI_MODEL", "gpt-test")
	t.Setenv("WORKFLOW_RESET_FEEDBACK", "true")
	t.Setenv("TEMPLATE_KEYWORDS", "schema, table ,")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Workflow.MaxIterations)
	assert.Equal(t, 72.5, cfg.Workflow.AcceptThreshold)
	assert.Equal(t, 15*time.Second, cfg.Workflow.CompletionTimeout)
	assert.True(t, cfg.Workflow.ResetFeedback)
	assert.Equal(t, "gpt-test", cfg.LLM.Model)
	assert.Equal(t, 2, cfg.Template.MinKeywords)
	assert.Equal(t, []string{"schema", "table"}, cfg.Template.DomainKeywords)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workflow.MaxIterations = 0
	cfg.Workflow.AcceptThreshold = 120
	cfg.Template.RequiredPattern = "(["

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, CodeConfig, CodeOf(err))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "MaxIterations")
	assert.Contains(t, err.Error(), "AcceptThreshold")
	assert.Contains(t, err.Error(), "valid regular expression")
}

func TestRequireLLM(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = ""
	assert.ErrorIs(t, cfg.RequireLLM(), ErrInvalidInput)
	cfg.LLM.APIKey = "sk-test"
	assert.NoError(t, cfg.RequireLLM())
}
