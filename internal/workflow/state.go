package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/joseph-ayodele/pdf2schema/constants"
	"github.com/joseph-ayodele/pdf2schema/internal/common"
	"github.com/joseph-ayodele/pdf2schema/internal/extract"
	"github.com/joseph-ayodele/pdf2schema/internal/schema"
	"github.com/joseph-ayodele/pdf2schema/internal/scoring"
	"github.com/joseph-ayodele/pdf2schema/internal/validate"
)

// State is owned by one run of the loop and never shared.
type State struct {
	SourceText      string
	Iteration       int
	Candidate       *schema.Document
	ConfidenceScore *float64
	Feedback        []string
	Status          constants.RunStatus
	ErrorDetail     *common.AppError

	History []schema.Document // every candidate, oldest first
	Reports []validate.Report
}

// Result is what callers see once the loop stops.
type Result struct {
	Status          constants.RunStatus
	Document        *schema.Document
	ConfidenceScore *float64
	ErrorDetail     *common.AppError
	Iteration       int // value of the iteration counter at exit
	Iterations      int // passes started
	Feedback        []string
	FieldScores     []scoring.FieldScore
	History         []schema.Document
	Extraction      *extract.Result
	Elapsed         time.Duration
}

// Delivered reports whether the run produced a document worth returning.
func (r Result) Delivered() bool {
	return r.Document != nil && r.Status != constants.RunStatusFatalError
}

type Outcome string

const (
	OutcomeCompletionError  Outcome = "completion_error"
	OutcomeParseError       Outcome = "parse_error"
	OutcomeValidationFailed Outcome = "validation_failed"
	OutcomeLowConfidence    Outcome = "low_confidence"
	OutcomeAccepted         Outcome = "accepted"
)

// Snapshot describes one finished pass.
type Snapshot struct {
	Iteration   int
	Outcome     Outcome
	Feedback    []string // entries added by this pass
	Candidate   *schema.Document
	Confidence  *float64
	PromptBytes int
	Elapsed     time.Duration
}

type Observer interface {
	OnIteration(ctx context.Context, s Snapshot)
}

type ObserverFunc func(ctx context.Context, s Snapshot)

func (f ObserverFunc) OnIteration(ctx context.Context, s Snapshot) { f(ctx, s) }

// FailureReason is the user-visible explanation of a run that did not end
// in ACCEPTED, or "" when there is nothing to report.
func (r Result) FailureReason() string {
	switch r.Status {
	case constants.RunStatusAccepted:
		return ""
	case constants.RunStatusExhausted:
		if r.Document != nil {
			return fmt.Sprintf("refinement budget exhausted after %d iterations; returning the last candidate", r.Iterations)
		}
		reason := fmt.Sprintf("no valid schema after %d iterations", r.Iterations)
		if n := len(r.Feedback); n > 0 {
			reason += ": " + r.Feedback[n-1]
		}
		return reason
	case constants.RunStatusFatalError:
		if r.ErrorDetail == nil {
			return "conversion failed"
		}
		switch r.ErrorDetail.Code {
		case common.CodeExtractionFailed:
			return "could not extract text from the PDF: " + causeText(r.ErrorDetail)
		case common.CodeCompletionFailed:
			return "language model request failed: " + causeText(r.ErrorDetail)
		case common.CodeCanceled:
			return "conversion canceled"
		default:
			return "internal error: " + causeText(r.ErrorDetail)
		}
	default:
		return "conversion did not finish"
	}
}

func causeText(e *common.AppError) string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}
