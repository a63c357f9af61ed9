package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf2schema/internal/common"
	"github.com/joseph-ayodele/pdf2schema/internal/entity"
)

// NopStore discards writes. It lets the pipeline run without a database.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) CreateRun(context.Context, entity.Run) error             { return nil }
func (NopStore) RecordIteration(context.Context, entity.Iteration) error { return nil }
func (NopStore) FinishRun(context.Context, entity.Run) error             { return nil }

func (NopStore) GetRun(_ context.Context, id uuid.UUID) (entity.Run, error) {
	return entity.Run{}, common.ErrNotFound
}

func (NopStore) ListIterations(context.Context, uuid.UUID) ([]entity.Iteration, error) {
	return nil, nil
}

func (NopStore) ListRuns(context.Context, int) ([]entity.Run, error) { return nil, nil }
