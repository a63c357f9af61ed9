package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf2schema/constants"
	"github.com/joseph-ayodele/pdf2schema/internal/common"
	"github.com/joseph-ayodele/pdf2schema/internal/entity"
	"github.com/joseph-ayodele/pdf2schema/internal/export"
	"github.com/joseph-ayodele/pdf2schema/internal/metrics"
	"github.com/joseph-ayodele/pdf2schema/internal/repository"
	"github.com/joseph-ayodele/pdf2schema/internal/schema"
	"github.com/joseph-ayodele/pdf2schema/internal/workflow"
)

// Converter runs the refinement loop for one PDF. *workflow.Loop satisfies it.
type Converter interface {
	Run(ctx context.Context, path string) workflow.Result
}

type Request struct {
	Path            string
	GroundTruthPath string // optional
	OutputDir       string
	RunID           uuid.UUID // generated when zero
	// PerRunOutput names the YAML after the run as well as the PDF, so
	// concurrent requests for same-named PDFs never share a file.
	PerRunOutput bool
}

type Outcome struct {
	RunID      uuid.UUID
	Result     workflow.Result
	YAMLPath   string
	Evaluation *metrics.Report
	Stats      metrics.RunStats
	Response   export.Response
}

// Processor chains conversion, YAML export, evaluation and run bookkeeping.
type Processor struct {
	Logger    *slog.Logger
	Converter Converter
	Store     repository.Store
	Writer    *export.YAMLWriter
	Parser    *schema.Parser
	OutputDir string
}

func NewProcessor(conv Converter, store repository.Store, writer *export.YAMLWriter, parser *schema.Parser, outputDir string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = repository.NopStore{}
	}
	if writer == nil {
		writer = export.NewYAMLWriter(logger)
	}
	return &Processor{Logger: logger, Converter: conv, Store: store, Writer: writer, Parser: parser, OutputDir: outputDir}
}

// Convert runs one PDF end to end. The returned error covers failures outside
// the workflow (bad input, storage, writing output); workflow failures are
// reported through Outcome.Result and Outcome.Response.
func (p *Processor) Convert(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()
	if !constants.IsPDF(filepath.Ext(req.Path)) {
		return Outcome{}, fmt.Errorf("%w: %s is not a PDF", common.ErrInvalidInput, filepath.Base(req.Path))
	}
	outDir := req.OutputDir
	if outDir == "" {
		outDir = p.OutputDir
	}

	var truth *schema.Document
	if req.GroundTruthPath != "" {
		if p.Parser == nil {
			return Outcome{}, errors.New("ground truth given but no parser configured")
		}
		gt, err := export.ReadDocument(req.GroundTruthPath, p.Parser)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: ground truth: %v", common.ErrInvalidInput, err)
		}
		truth = &gt
	}

	runID := req.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	ctx = common.WithRunID(ctx, runID.String())
	log := p.Logger.With("run_id", runID, "path", req.Path)
	if rid := common.RequestIDFromContext(ctx); rid != "" {
		log = log.With("request_id", rid)
	}

	if err := p.Store.CreateRun(ctx, entity.Run{ID: runID, SourcePath: req.Path, CreatedAt: start}); err != nil {
		log.Error("pipeline.run.create_failed", "error", err)
		return Outcome{}, err
	}
	log.Info("pipeline.convert.start")

	mctx, rec := metrics.Start(ctx)
	res := p.Converter.Run(mctx, req.Path)
	stats := rec.Stop()

	out := Outcome{RunID: runID, Result: res, Stats: stats}
	var convErr error
	if res.Delivered() {
		name := export.OutputName(req.Path)
		if req.PerRunOutput {
			name = export.RunOutputName(req.Path, runID.String())
		}
		path, err := p.Writer.WriteNamed(*res.Document, name, outDir)
		if err != nil {
			log.Error("pipeline.yaml.failed", "error", err)
			convErr = err
		}
		out.YAMLPath = path
	}
	if truth != nil {
		var produced schema.Document
		if res.Delivered() {
			produced = *res.Document
		}
		eval := metrics.Evaluate(produced, *truth)
		out.Evaluation = &eval
	}

	out.Response = export.BuildResponse(res, out.YAMLPath, out.Evaluation)
	out.Response.RunID = runID.String()
	out.Response.Stats = &out.Stats

	if err := p.finish(ctx, runID, out); err != nil {
		log.Error("pipeline.run.finish_failed", "error", err)
		convErr = errors.Join(convErr, err)
	}

	log.Info("pipeline.convert.done",
		"status", res.Status,
		"iterations", res.Iterations,
		"yaml", out.YAMLPath,
		"tokens", stats.Tokens.Total(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, convErr
}

func (p *Processor) finish(ctx context.Context, runID uuid.UUID, out Outcome) error {
	res := out.Result
	run := entity.Run{
		ID:         runID,
		Status:     res.Status,
		Iterations: res.Iterations,
		Confidence: res.ConfidenceScore,
	}
	if res.Document != nil {
		if b, err := json.Marshal(res.Document); err == nil {
			run.Document = b
		}
	}
	if res.ErrorDetail != nil {
		code, msg := res.ErrorDetail.Code, res.FailureReason()
		run.ErrorCode, run.ErrorMessage = &code, &msg
	}
	if out.YAMLPath != "" {
		path := out.YAMLPath
		run.YAMLPath = &path
	}
	if b, err := json.Marshal(struct {
		Stats      metrics.RunStats `json:"stats"`
		Evaluation *metrics.Report  `json:"evaluation,omitempty"`
	}{out.Stats, out.Evaluation}); err == nil {
		run.Metrics = b
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return p.Store.FinishRun(pctx, run)
}

// FailureReason is the text shown to users for a run that was not accepted.
func FailureReason(res workflow.Result) string { return res.FailureReason() }
