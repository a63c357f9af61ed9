package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/joseph-ayodele/pdf2schema/constants"
	"github.com/joseph-ayodele/pdf2schema/internal/common"
	"github.com/joseph-ayodele/pdf2schema/internal/extract"
	"github.com/joseph-ayodele/pdf2schema/internal/llm"
	"github.com/joseph-ayodele/pdf2schema/internal/schema"
	"github.com/joseph-ayodele/pdf2schema/internal/scoring"
	"github.com/joseph-ayodele/pdf2schema/internal/validate"
)

// maxLowConfidenceLines caps per-field lines added after a weak score.
const maxLowConfidenceLines = 20

type Parser interface {
	Parse(raw string) schema.ParseResult
}

type Validator interface {
	Validate(doc schema.Document) validate.Report
}

type Scorer interface {
	Score(ctx context.Context, doc schema.Document) (scoring.Result, error)
}

type PromptBuilder interface {
	Build(sourceText string, prior *schema.Document, feedback []string) string
}

type Option func(*Loop)

// WithObserver registers o to receive a Snapshot after every pass.
func WithObserver(o Observer) Option {
	return func(l *Loop) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}

// Loop drives generate -> parse -> validate -> score over a bounded number of
// passes. A Loop holds no per-run state and may run conversions concurrently.
type Loop struct {
	cfg       Config
	extractor extract.TextExtractor
	completer llm.Completer
	parser    Parser
	validator Validator
	scorer    Scorer
	builder   PromptBuilder
	gates     scoring.Gates
	observers []Observer
	logger    *slog.Logger
}

func New(
	cfg Config,
	extractor extract.TextExtractor,
	completer llm.Completer,
	parser Parser,
	validator Validator,
	scorer Scorer,
	builder PromptBuilder,
	logger *slog.Logger,
	opts ...Option,
) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil || completer == nil || parser == nil || validator == nil || scorer == nil || builder == nil {
		return nil, common.NewAppError(common.CodeConfig, "workflow: every collaborator is required", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		cfg:       cfg,
		extractor: extractor,
		completer: completer,
		parser:    parser,
		validator: validator,
		scorer:    scorer,
		builder:   builder,
		gates:     scoring.DefaultGates,
		logger:    logger,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

func (l *Loop) Config() Config { return l.cfg }

// Run extracts text from the document at path and refines a schema from it.
// Extraction failures end the run before any completion is requested.
func (l *Loop) Run(ctx context.Context, path string) (res Result) {
	start := time.Now()
	log := l.logger.With("run_id", common.RunIDFromContext(ctx))
	defer func() {
		if p := recover(); p != nil {
			res = l.panicked(p, &State{}, 0, nil, start, log)
		}
	}()

	if err := ctx.Err(); err != nil {
		return l.finish(&State{}, 0, nil, start, fatalCanceled(err), log)
	}

	log.Info("workflow.extract.start", "path", path)
	ext, err := l.extractor.Extract(ctx, path)
	if err == nil && strings.TrimSpace(ext.Text) == "" {
		err = &extract.ExtractionError{Path: path, Cause: errors.New("no text extracted")}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return l.finish(&State{}, 0, nil, start, fatalCanceled(ctxErr), log)
		}
		log.Error("workflow.extract.failed", "path", path, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		detail := common.NewAppError(common.CodeExtractionFailed, "extraction failed", errors.Join(common.ErrExtraction, err))
		return l.finish(&State{}, 0, nil, start, detail, log)
	}
	log.Info("workflow.extract.ok", "path", path, "method", ext.Method, "pages", ext.Pages, "chars", len(ext.Text),
		"elapsed_ms", ext.Duration.Milliseconds())

	res = l.RunText(ctx, ext.Text)
	res.Extraction = &ext
	res.Elapsed = time.Since(start)
	return res
}

// RunText refines a schema from already extracted text. Every exit carries
// one of the terminal statuses; collaborator panics end in FATAL_ERROR.
func (l *Loop) RunText(ctx context.Context, sourceText string) (res Result) {
	start := time.Now()
	log := l.logger.With("run_id", common.RunIDFromContext(ctx))
	st := &State{SourceText: sourceText, Status: constants.RunStatusPending}
	passes := 0
	var fieldScores []scoring.FieldScore
	defer func() {
		if p := recover(); p != nil {
			res = l.panicked(p, st, passes, fieldScores, start, log)
		}
	}()

	log.Info("workflow.run.start",
		"max_iterations", l.cfg.MaxIterations,
		"accept_threshold", l.cfg.AcceptThreshold,
		"source_chars", len(sourceText),
	)

	for st.Iteration < l.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return l.finish(st, passes, fieldScores, start, fatalCanceled(err), log)
		}
		passes++
		passStart := time.Now()
		log.Info("workflow.iteration.start", "iteration", st.Iteration, "feedback", len(st.Feedback))

		prompt := l.builder.Build(st.SourceText, st.Candidate, st.Feedback)
		snap := Snapshot{Iteration: st.Iteration, PromptBytes: len(prompt)}

		raw, err := l.completer.Complete(llm.WithoutCache(ctx), prompt, l.cfg.CompletionTimeout)
		if err != nil {
			// a per-call timeout leaves ctx intact; only the caller's cancellation is fatal here
			if ctxErr := ctx.Err(); ctxErr != nil {
				return l.finish(st, passes, fieldScores, start, fatalCanceled(ctxErr), log)
			}
			ce := llm.AsCompletionError(err)
			l.addFeedback(st, &snap, []string{"completion failed: " + ce.Error()})
			snap.Outcome = OutcomeCompletionError
			l.emit(ctx, st, snap, passStart)
			if !ce.Retryable() {
				log.Error("workflow.iteration.completion_fatal", "iteration", st.Iteration, "kind", ce.Kind, "error", ce)
				detail := common.NewAppError(common.CodeCompletionFailed, "completion failed", errors.Join(common.ErrCompletion, ce))
				return l.finish(st, passes, fieldScores, start, detail, log)
			}
			log.Warn("workflow.iteration.completion_error", "iteration", st.Iteration, "kind", ce.Kind, "error", ce)
			st.Iteration++
			continue
		}

		var doc schema.Document
		switch pr := l.parser.Parse(raw).(type) {
		case schema.ParseSuccess:
			doc = pr.Document
		case schema.ParseFailure:
			log.Warn("workflow.iteration.parse_error", "iteration", st.Iteration, "reason", pr.Reason)
			l.addFeedback(st, &snap, []string{"parse error: " + pr.Reason})
			snap.Outcome = OutcomeParseError
			l.emit(ctx, st, snap, passStart)
			st.Iteration++
			continue
		default:
			panic(fmt.Sprintf("workflow: unexpected parse result %T", pr))
		}

		report := l.validator.Validate(doc)
		st.Reports = append(st.Reports, report)
		if !report.Passed {
			log.Info("workflow.iteration.validation_failed", "iteration", st.Iteration, "defects", len(report.Defects))
			st.Candidate = &doc
			st.ConfidenceScore = nil // the new candidate has not been scored
			st.History = append(st.History, doc)
			l.addFeedback(st, &snap, slices.Clone(report.Defects))
			snap.Outcome = OutcomeValidationFailed
			l.emit(ctx, st, snap, passStart)
			st.Iteration++
			continue
		}

		scored, err := l.scorer.Score(ctx, doc)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return l.finish(st, passes, fieldScores, start, fatalCanceled(ctxErr), log)
			}
			return l.finish(st, passes, fieldScores, start, common.NewAppError(common.CodeInternal, "scoring failed", errors.Join(common.ErrInternal, err)), log)
		}
		scoredDoc := scored.Document
		confidence := scored.Confidence
		st.Candidate = &scoredDoc
		st.ConfidenceScore = &confidence
		st.History = append(st.History, scoredDoc)
		fieldScores = scored.Fields

		if confidence >= l.cfg.AcceptThreshold || st.Iteration == l.cfg.MaxIterations-1 {
			st.Status = constants.RunStatusAccepted
			snap.Outcome = OutcomeAccepted
			l.emit(ctx, st, snap, passStart)
			log.Info("workflow.run.accepted", "iteration", st.Iteration, "confidence", confidence,
				"forced", confidence < l.cfg.AcceptThreshold, "elapsed_ms", time.Since(start).Milliseconds())
			return l.finish(st, passes, fieldScores, start, nil, log)
		}

		log.Info("workflow.iteration.low_confidence", "iteration", st.Iteration, "confidence", confidence)
		l.addFeedback(st, &snap, l.lowConfidenceFeedback(scored))
		snap.Outcome = OutcomeLowConfidence
		l.emit(ctx, st, snap, passStart)
		st.Iteration++
	}

	st.Status = constants.RunStatusExhausted
	log.Warn("workflow.run.exhausted", "iterations", st.Iteration, "has_candidate", st.Candidate != nil,
		"elapsed_ms", time.Since(start).Milliseconds())
	return l.finish(st, passes, fieldScores, start, nil, log)
}

func (l *Loop) addFeedback(st *State, snap *Snapshot, items []string) {
	snap.Feedback = items
	if l.cfg.ResetFeedback {
		st.Feedback = slices.Clone(items)
		return
	}
	st.Feedback = append(st.Feedback, items...)
}

func (l *Loop) emit(ctx context.Context, st *State, snap Snapshot, passStart time.Time) {
	if len(l.observers) == 0 {
		return
	}
	if st.Candidate != nil {
		c := st.Candidate.Clone()
		snap.Candidate = &c
	}
	if st.ConfidenceScore != nil {
		v := *st.ConfidenceScore
		snap.Confidence = &v
	}
	snap.Elapsed = time.Since(passStart)
	for _, o := range l.observers {
		o.OnIteration(ctx, snap)
	}
}

func (l *Loop) lowConfidenceFeedback(scored scoring.Result) []string {
	lines := []string{fmt.Sprintf("confidence %.2f is below the acceptance threshold %.2f", scored.Confidence, l.cfg.AcceptThreshold)}
	omitted := 0
	for _, fs := range scored.Fields {
		failing := fs.Failing(l.gates)
		if len(failing) == 0 {
			continue
		}
		if len(lines) > maxLowConfidenceLines {
			omitted++
			continue
		}
		names := make([]string, len(failing))
		for i, a := range failing {
			names[i] = string(a)
		}
		lines = append(lines, fmt.Sprintf("low confidence for %s.%s (%.2f): improve %s",
			fs.Table, fs.Field, fs.Score, strings.Join(names, ", ")))
	}
	if omitted > 0 {
		lines = append(lines, fmt.Sprintf("%d more fields are below the confidence gates", omitted))
	}
	return lines
}

func (l *Loop) finish(st *State, passes int, fieldScores []scoring.FieldScore, start time.Time, detail *common.AppError, log *slog.Logger) Result {
	if detail != nil {
		st.Status = constants.RunStatusFatalError
		st.ErrorDetail = detail
		log.Error("workflow.run.fatal", "code", detail.Code, "iteration", st.Iteration, "error", detail,
			"elapsed_ms", time.Since(start).Milliseconds())
	}
	return Result{
		Status:          st.Status,
		Document:        st.Candidate,
		ConfidenceScore: st.ConfidenceScore,
		ErrorDetail:     st.ErrorDetail,
		Iteration:       st.Iteration,
		Iterations:      passes,
		Feedback:        slices.Clone(st.Feedback),
		FieldScores:     fieldScores,
		History:         st.History,
		Elapsed:         time.Since(start),
	}
}

func (l *Loop) panicked(p any, st *State, passes int, fieldScores []scoring.FieldScore, start time.Time, log *slog.Logger) Result {
	log.Error("workflow.panic", "panic", p, "stack", string(debug.Stack()))
	detail := common.NewAppError(common.CodeInternal, fmt.Sprintf("unexpected failure: %v", p), common.ErrInternal)
	return l.finish(st, passes, fieldScores, start, detail, log)
}

func fatalCanceled(err error) *common.AppError {
	return common.NewAppError(common.CodeCanceled, "workflow canceled", errors.Join(common.ErrCanceled, err))
}
