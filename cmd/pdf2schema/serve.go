package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/pdf2schema/internal/async"
	"github.com/joseph-ayodele/pdf2schema/internal/export"
	"github.com/joseph-ayodele/pdf2schema/internal/ingest"
	"github.com/joseph-ayodele/pdf2schema/internal/server"
)

const shutdownTimeout = 30 * time.Second

type serveOptions struct {
	httpAddr   string
	grpcAddr   string
	outDir     string
	watchDirs  []string
	noScan     bool
	reqTimeout time.Duration
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC conversion servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "HTTP listen address (default from config)")
	cmd.Flags().StringVar(&opts.grpcAddr, "grpc-addr", "", "gRPC listen address (default from config)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "output directory (default from config)")
	cmd.Flags().StringSliceVar(&opts.watchDirs, "watch", nil, "inbox directory to watch for new PDFs (repeatable)")
	cmd.Flags().BoolVar(&opts.noScan, "no-initial-scan", false, "ignore PDFs already in watched directories")
	cmd.Flags().DurationVar(&opts.reqTimeout, "request-timeout", 10*time.Minute, "per-request timeout for HTTP conversions")
	return cmd
}

func runServe(parent context.Context, root *rootOptions, opts *serveOptions) error {
	cfg, logger, err := root.load("json", slog.LevelInfo)
	if err != nil {
		return err
	}
	if opts.httpAddr != "" {
		cfg.Server.HTTPAddr = opts.httpAddr
	}
	if opts.grpcAddr != "" {
		cfg.Server.GRPCAddr = opts.grpcAddr
	}
	if opts.outDir != "" {
		cfg.Server.OutputDir = opts.outDir
	}
	if err := os.MkdirAll(cfg.Server.OutputDir, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{requireStore: true})
	if err != nil {
		return err
	}
	defer a.Close()

	httpSrv := &http.Server{
		Addr: cfg.Server.HTTPAddr,
		Handler: server.NewRouter(server.Deps{
			Converter:      a.processor,
			Store:          a.store,
			XLSX:           export.NewService(logger),
			OutputDir:      cfg.Server.OutputDir,
			MaxUploadMB:    cfg.Server.MaxUploadMB,
			RequestTimeout: opts.reqTimeout,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	server.RegisterSchemaConverter(grpcSrv, server.NewConverterService(a.processor, a.store, logger), hs)
	reflection.Register(grpcSrv)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http.serve", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc.serve", "addr", cfg.Server.GRPCAddr)
		return grpcSrv.Serve(lis)
	})
	if len(opts.watchDirs) > 0 {
		q := async.NewProcessorQueue(a.processor, logger,
			async.WithWorkers(cfg.Queue.Workers),
			async.WithQueueSize(cfg.Queue.Size),
			async.WithProcessTimeout(cfg.Queue.Timeout),
		)
		g.Go(func() error {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				q.Shutdown(sctx)
			}()
			return watchInbox(gctx, opts, cfg.Server.OutputDir, q, logger)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server.shutdown.start")
		hs.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(sctx)
		grpcSrv.GracefulStop()
		logger.Info("server.shutdown.ok")
		return err
	})
	return g.Wait()
}

// watchInbox feeds new PDFs from the watched directories into the queue.
func watchInbox(ctx context.Context, opts *serveOptions, outDir string, q async.Queue, logger *slog.Logger) error {
	files, errs, err := ingest.Watch(ctx, ingest.WatchConfig{
		Roots:       opts.watchDirs,
		InitialScan: !opts.noScan,
		SkipHidden:  true,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("watch.error", "err", err)
		case path, ok := <-files:
			if !ok {
				return nil
			}
			if _, err := q.Enqueue(ctx, async.Job{Path: path, OutputDir: outDir, TraceID: "watch"}); err != nil {
				if errors.Is(err, async.ErrQueueClosed) || ctx.Err() != nil {
					return nil
				}
				logger.Error("watch.enqueue.failed", "path", path, "err", err)
			}
		}
	}
}
