package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/pdf2schema/internal/common"
	"github.com/joseph-ayodele/pdf2schema/internal/export"
	"github.com/joseph-ayodele/pdf2schema/internal/extract"
	"github.com/joseph-ayodele/pdf2schema/internal/llm"
	"github.com/joseph-ayodele/pdf2schema/internal/llm/openai"
	"github.com/joseph-ayodele/pdf2schema/internal/metrics"
	"github.com/joseph-ayodele/pdf2schema/internal/ocr"
	"github.com/joseph-ayodele/pdf2schema/internal/pipeline"
	"github.com/joseph-ayodele/pdf2schema/internal/repository"
	"github.com/joseph-ayodele/pdf2schema/internal/schema"
	"github.com/joseph-ayodele/pdf2schema/internal/scoring"
	"github.com/joseph-ayodele/pdf2schema/internal/validate"
	"github.com/joseph-ayodele/pdf2schema/internal/workflow"
)

type appOptions struct {
	// requireStore fails startup when the configured database is unreachable
	// instead of falling back to no persistence.
	requireStore bool
	observers    []workflow.Observer
}

// app holds everything a command needs to run conversions.
type app struct {
	cfg       *common.Config
	logger    *slog.Logger
	store     repository.Store
	sqlStore  *repository.SQLStore // nil when persistence is off
	redis     *redis.Client
	completer *metrics.CountingCompleter
	parser    *schema.Parser
	loop      *workflow.Loop
	processor *pipeline.Processor
}

func newApp(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: repository.NopStore{}}

	if err := a.openStore(ctx, opts.requireStore); err != nil {
		return nil, err
	}

	parser, err := schema.NewParser()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.parser = parser

	rules, err := validate.NewRules(cfg.Template)
	if err != nil {
		a.Close()
		return nil, err
	}

	client := openai.NewClient(openai.Config{
		APIKey:           cfg.LLM.APIKey,
		BaseURL:          cfg.LLM.BaseURL,
		Model:            cfg.LLM.Model,
		Temperature:      cfg.LLM.Temperature,
		Timeout:          cfg.LLM.Timeout,
		StructuredOutput: true,
	}, logger)
	// Cache hits never reach the counter, so token figures reflect API use.
	// Only rubric calls are cached; generation passes always reach the model.
	a.completer = metrics.NewCountingCompleter(client)
	rubric := llm.NewCachedCompleter(a.completer, a.cache(ctx), client.Model(), cfg.LLM.CacheTTL, logger)

	scorer := scoring.NewScorer(rubric, scoring.Config{
		Concurrency: cfg.Workflow.ScoringConcurrency,
		Timeout:     cfg.Workflow.CompletionTimeout,
	}, logger)

	loopOpts := []workflow.Option{workflow.WithObserver(pipeline.NewIterationRecorder(a.store, logger))}
	for _, o := range opts.observers {
		loopOpts = append(loopOpts, workflow.WithObserver(o))
	}
	loop, err := workflow.New(
		workflow.FromCommon(cfg.Workflow),
		newExtractor(cfg.OCR, logger),
		a.completer,
		parser,
		validate.New(rules, logger),
		scorer,
		llm.PromptBuilder{MaxBytes: cfg.Workflow.MaxPromptBytes, Logger: logger},
		logger,
		loopOpts...,
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.loop = loop
	a.processor = pipeline.NewProcessor(loop, a.store, export.NewYAMLWriter(logger), parser, cfg.Server.OutputDir, logger)
	return a, nil
}

func newExtractor(c common.OCRConfig, logger *slog.Logger) *extract.OCRAdapter {
	e := ocr.NewExtractor(ocr.Config{
		Pdftoppm:      c.Pdftoppm,
		Tesseract:     c.Tesseract,
		TesseractLang: c.TesseractLang,
		TessdataDir:   c.TessdataDir,
		DPI:           c.DPI,
		MaxPages:      c.MaxPages,
		MinTextChars:  c.MinTextChars,
		PSM:           6,
		OEM:           1,
	}, logger)
	return extract.NewOCRAdapter(e, logger)
}

func (a *app) openStore(ctx context.Context, required bool) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Info("db.disabled")
		return nil
	}
	s, err := openStore(ctx, a.cfg.Database, a.logger)
	if err != nil {
		if required {
			return err
		}
		a.logger.Warn("db.unavailable; runs will not be recorded", "err", err)
		return nil
	}
	a.sqlStore = s
	a.store = s
	return nil
}

func openStore(ctx context.Context, c common.DatabaseConfig, logger *slog.Logger) (*repository.SQLStore, error) {
	s, err := repository.Open(ctx, repository.Config{
		DSN:              c.DSN,
		MaxConns:         c.MaxConns,
		MinConns:         c.MinConns,
		MaxConnLifetime:  c.MaxConnLifetime,
		MaxConnIdleTime:  c.MaxConnIdleTime,
		DialTimeout:      c.DialTimeout,
		StatementTimeout: c.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// cache prefers Redis when configured and reachable.
func (a *app) cache(ctx context.Context) llm.Cache {
	if a.cfg.Redis.Addr == "" {
		return llm.NewMemoryCache()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.logger.Warn("redis.unavailable; using in-memory cache", "addr", a.cfg.Redis.Addr, "err", err)
		_ = client.Close()
		return llm.NewMemoryCache()
	}
	a.redis = client
	a.logger.Info("redis.connected", "addr", a.cfg.Redis.Addr)
	return llm.NewRedisCache(client, "")
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.sqlStore != nil {
		if err := a.sqlStore.Close(); err != nil {
			a.logger.Warn("db.close.failed", "err", err)
		}
	}
}
