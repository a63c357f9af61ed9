package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf2schema/constants"
)

// Run represents one conversion for data transfer between layers.
type Run struct {
	ID           uuid.UUID           `json:"id"`
	SourcePath   string              `json:"source_path"`
	Status       constants.RunStatus `json:"status"`
	Iterations   int                 `json:"iterations"`
	Confidence   *float64            `json:"confidence,omitempty"`
	ErrorCode    *string             `json:"error_code,omitempty"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	Document     json.RawMessage     `json:"document,omitempty"`
	YAMLPath     *string             `json:"yaml_path,omitempty"`
	Metrics      json.RawMessage     `json:"metrics,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}

// Iteration is one refinement pass of a Run.
type Iteration struct {
	RunID       uuid.UUID       `json:"run_id"`
	Iteration   int             `json:"iteration"`
	Outcome     string          `json:"outcome"`
	Feedback    []string        `json:"feedback"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
	Confidence  *float64        `json:"confidence,omitempty"`
	PromptBytes int             `json:"prompt_bytes"`
	ElapsedMS   int64           `json:"elapsed_ms"`
	CreatedAt   time.Time       `json:"created_at"`
}
