package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf2schema/internal/common"
	"github.com/joseph-ayodele/pdf2schema/internal/entity"
	"github.com/joseph-ayodele/pdf2schema/internal/repository"
	"github.com/joseph-ayodele/pdf2schema/internal/workflow"
)

const persistTimeout = 5 * time.Second

// IterationRecorder is a workflow observer that stores every pass of the run
// named in the context. Storage failures are logged and never reach the loop.
type IterationRecorder struct {
	store  repository.Store
	logger *slog.Logger
}

var _ workflow.Observer = (*IterationRecorder)(nil)

func NewIterationRecorder(store repository.Store, logger *slog.Logger) *IterationRecorder {
	if store == nil {
		store = repository.NopStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IterationRecorder{store: store, logger: logger}
}

func (r *IterationRecorder) OnIteration(ctx context.Context, s workflow.Snapshot) {
	runID, err := uuid.Parse(common.RunIDFromContext(ctx))
	if err != nil {
		return
	}
	it := entity.Iteration{
		RunID:       runID,
		Iteration:   s.Iteration,
		Outcome:     string(s.Outcome),
		Feedback:    s.Feedback,
		Confidence:  s.Confidence,
		PromptBytes: s.PromptBytes,
		ElapsedMS:   s.Elapsed.Milliseconds(),
	}
	if s.Candidate != nil {
		if b, err := json.Marshal(s.Candidate); err == nil {
			it.Candidate = b
		}
	}

	// the pass is recorded even when the run is being canceled
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.store.RecordIteration(pctx, it); err != nil {
		r.logger.Warn("pipeline.iteration.record_failed", "run_id", runID, "iteration", s.Iteration, "error", err)
	}
}
