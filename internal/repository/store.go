package repository

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf2schema/constants"
	"github.com/joseph-ayodele/pdf2schema/internal/common"
	"github.com/joseph-ayodele/pdf2schema/internal/entity"
)

// Store records conversion runs and their refinement passes.
type Store interface {
	CreateRun(ctx context.Context, run entity.Run) error
	RecordIteration(ctx context.Context, it entity.Iteration) error
	// FinishRun updates the mutable columns of a run created earlier.
	FinishRun(ctx context.Context, run entity.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (entity.Run, error)
	ListIterations(ctx context.Context, runID uuid.UUID) ([]entity.Iteration, error)
	ListRuns(ctx context.Context, limit int) ([]entity.Run, error)
}

var _ Store = (*SQLStore)(nil)

var runColumns = []string{
	"id", "source_path", "status", "iterations", "confidence", "error_code",
	"error_message", "document", "yaml_path", "metrics", "created_at", "finished_at",
}

var iterationColumns = []string{
	"run_id", "iteration", "outcome", "feedback", "candidate", "confidence",
	"prompt_bytes", "elapsed_ms", "created_at",
}

func (s *SQLStore) CreateRun(ctx context.Context, run entity.Run) error {
	if run.ID == uuid.Nil {
		return fmt.Errorf("create run: %w: missing id", common.ErrInvalidInput)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = constants.RunStatusPending
	}
	query, args := entsql.Dialect(s.dialect).Insert(tableRuns).
		Columns(runColumns...).
		Values(
			run.ID.String(), run.SourcePath, string(run.Status), run.Iterations,
			nullFloat(run.Confidence), nullString(run.ErrorCode), nullString(run.ErrorMessage),
			nullJSON(run.Document), nullString(run.YAMLPath), nullJSON(run.Metrics),
			formatTime(run.CreatedAt), nullTime(run.FinishedAt),
		).Query()
	if err := s.drv.Exec(ctx, query, args, nil); err != nil {
		s.logger.Error("db.run.create.failed", "run_id", run.ID, "error", err)
		return fmt.Errorf("%w: create run: %v", common.ErrDatabase, err)
	}
	s.logger.Debug("db.run.created", "run_id", run.ID, "source", run.SourcePath)
	return nil
}

func (s *SQLStore) RecordIteration(ctx context.Context, it entity.Iteration) error {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now()
	}
	feedback := it.Feedback
	if feedback == nil {
		feedback = []string{}
	}
	fb, err := json.Marshal(feedback)
	if err != nil {
		return fmt.Errorf("encode feedback: %w", err)
	}
	query, args := entsql.Dialect(s.dialect).Insert(tableIterations).
		Columns(iterationColumns...).
		Values(
			it.RunID.String(), it.Iteration, it.Outcome, string(fb), nullJSON(it.Candidate),
			nullFloat(it.Confidence), it.PromptBytes, it.ElapsedMS, formatTime(it.CreatedAt),
		).Query()
	if err := s.drv.Exec(ctx, query, args, nil); err != nil {
		s.logger.Error("db.iteration.record.failed", "run_id", it.RunID, "iteration", it.Iteration, "error", err)
		return fmt.Errorf("%w: record iteration: %v", common.ErrDatabase, err)
	}
	return nil
}

func (s *SQLStore) FinishRun(ctx context.Context, run entity.Run) error {
	finished := run.FinishedAt
	if finished == nil {
		now := time.Now()
		finished = &now
	}
	query, args := entsql.Dialect(s.dialect).Update(tableRuns).
		Set("status", string(run.Status)).
		Set("iterations", run.Iterations).
		Set("confidence", nullFloat(run.Confidence)).
		Set("error_code", nullString(run.ErrorCode)).
		Set("error_message", nullString(run.ErrorMessage)).
		Set("document", nullJSON(run.Document)).
		Set("yaml_path", nullString(run.YAMLPath)).
		Set("metrics", nullJSON(run.Metrics)).
		Set("finished_at", formatTime(*finished)).
		Where(entsql.EQ("id", run.ID.String())).
		Query()
	var res stdsql.Result
	if err := s.drv.Exec(ctx, query, args, &res); err != nil {
		s.logger.Error("db.run.finish.failed", "run_id", run.ID, "error", err)
		return fmt.Errorf("%w: finish run: %v", common.ErrDatabase, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, common.ErrNotFound)
	}
	s.logger.Info("db.run.finished", "run_id", run.ID, "status", run.Status, "iterations", run.Iterations)
	return nil
}

func (s *SQLStore) GetRun(ctx context.Context, id uuid.UUID) (entity.Run, error) {
	b := entsql.Dialect(s.dialect)
	query, args := b.Select(runColumns...).
		From(b.Table(tableRuns)).
		Where(entsql.EQ("id", id.String())).
		Query()
	runs, err := s.queryRuns(ctx, query, args)
	if err != nil {
		return entity.Run{}, err
	}
	if len(runs) == 0 {
		return entity.Run{}, fmt.Errorf("run %s: %w", id, common.ErrNotFound)
	}
	return runs[0], nil
}

// ListRuns returns the most recent runs first. A non-positive limit means 50.
func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]entity.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	b := entsql.Dialect(s.dialect)
	query, args := b.Select(runColumns...).
		From(b.Table(tableRuns)).
		OrderExpr(entsql.Expr("created_at DESC, id DESC")).
		Limit(limit).
		Query()
	return s.queryRuns(ctx, query, args)
}

func (s *SQLStore) ListIterations(ctx context.Context, runID uuid.UUID) ([]entity.Iteration, error) {
	b := entsql.Dialect(s.dialect)
	query, args := b.Select(iterationColumns...).
		From(b.Table(tableIterations)).
		Where(entsql.EQ("run_id", runID.String())).
		OrderExpr(entsql.Expr("iteration ASC")).
		Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("%w: list iterations: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.Iteration
	for rows.Next() {
		var (
			it         entity.Iteration
			runIDText  string
			fb         string
			candidate  stdsql.NullString
			confidence stdsql.NullFloat64
			createdAt  string
		)
		if err := rows.Scan(&runIDText, &it.Iteration, &it.Outcome, &fb, &candidate,
			&confidence, &it.PromptBytes, &it.ElapsedMS, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan iteration: %v", common.ErrDatabase, err)
		}
		it.RunID = runID
		if err := json.Unmarshal([]byte(fb), &it.Feedback); err != nil {
			return nil, fmt.Errorf("decode feedback: %w", err)
		}
		if candidate.Valid {
			it.Candidate = json.RawMessage(candidate.String)
		}
		if confidence.Valid {
			v := confidence.Float64
			it.Confidence = &v
		}
		it.CreatedAt = parseTime(createdAt)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLStore) queryRuns(ctx context.Context, query string, args []any) ([]entity.Run, error) {
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("%w: query runs: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.Run
	for rows.Next() {
		run, err := scanRun(&rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(rows *entsql.Rows) (entity.Run, error) {
	var (
		run        entity.Run
		id         string
		status     string
		confidence stdsql.NullFloat64
		errCode    stdsql.NullString
		errMsg     stdsql.NullString
		document   stdsql.NullString
		yamlPath   stdsql.NullString
		metrics    stdsql.NullString
		createdAt  string
		finishedAt stdsql.NullString
	)
	if err := rows.Scan(&id, &run.SourcePath, &status, &run.Iterations, &confidence, &errCode,
		&errMsg, &document, &yamlPath, &metrics, &createdAt, &finishedAt); err != nil {
		return entity.Run{}, fmt.Errorf("%w: scan run: %v", common.ErrDatabase, err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return entity.Run{}, fmt.Errorf("%w: bad run id %q", common.ErrDatabase, id)
	}
	run.ID = parsed
	run.Status = constants.RunStatus(status)
	if confidence.Valid {
		v := confidence.Float64
		run.Confidence = &v
	}
	run.ErrorCode = fromNull(errCode)
	run.ErrorMessage = fromNull(errMsg)
	run.YAMLPath = fromNull(yamlPath)
	if document.Valid {
		run.Document = json.RawMessage(document.String)
	}
	if metrics.Valid {
		run.Metrics = json.RawMessage(metrics.String)
	}
	run.CreatedAt = parseTime(createdAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	return run, nil
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool { return errors.Is(err, common.ErrNotFound) }

// fixed-width so text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullJSON(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}

func fromNull(v stdsql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
