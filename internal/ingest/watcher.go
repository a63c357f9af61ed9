package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Roots       []string      // directories to watch (recursive)
	InitialScan bool          // emit PDFs already present under the roots
	SkipHidden  bool
	Debounce    time.Duration // coalesce rapid create/write bursts; default 500ms
	Logger      *slog.Logger
}

// Watch emits the paths of new or rewritten PDFs under cfg.Roots. A file is
// emitted again only when its content hash changed. Both channels close when
// ctx is done.
func Watch(ctx context.Context, cfg WatchConfig) (<-chan string, <-chan error, error) {
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("ingest.watch.create_failed", "error", err)
		return nil, nil, err
	}

	var initial []string
	for _, root := range cfg.Roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if cfg.SkipHidden && path != root && IsHidden(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return w.Add(path)
			}
			if cfg.InitialScan && AllowedExt(filepath.Ext(path)) {
				initial = append(initial, path)
			}
			return nil
		})
		if err != nil {
			logger.Error("ingest.watch.add_root_failed", "root", root, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	evCh := make(chan string, 64)
	errCh := make(chan error, 1)
	lw := &loopState{cfg: cfg, w: w, logger: logger, seen: map[string]string{}, pending: map[string]struct{}{}}
	go lw.run(ctx, initial, evCh, errCh)

	logger.Info("ingest.watch.started", "roots", cfg.Roots, "initial", len(initial))
	return evCh, errCh, nil
}

type loopState struct {
	cfg     WatchConfig
	w       *fsnotify.Watcher
	logger  *slog.Logger
	seen    map[string]string // path -> last emitted hash
	pending map[string]struct{}
}

func (s *loopState) run(ctx context.Context, initial []string, evCh chan<- string, errCh chan<- error) {
	defer close(evCh)
	defer close(errCh)
	defer func() { _ = s.w.Close() }()

	for _, p := range initial {
		if !s.emit(ctx, p, evCh) {
			return
		}
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.w.Events:
			if !ok {
				return
			}
			if e.Op&fsnotify.Create != 0 {
				s.maybeAddDir(e.Name)
			}
			if !AllowedExt(filepath.Ext(e.Name)) || e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if s.cfg.SkipHidden && IsHidden(e.Name) {
				continue
			}
			s.pending[e.Name] = struct{}{}
			timer.Reset(s.cfg.Debounce)
		case <-timer.C:
			for p := range s.pending {
				delete(s.pending, p)
				if !s.emit(ctx, p, evCh) {
					return
				}
			}
		case err, ok := <-s.w.Errors:
			if !ok {
				return
			}
			s.logger.Error("ingest.watch.error", "error", err)
			select {
			case errCh <- err:
			default:
			}
		}
	}
}

// emit sends p unless it vanished or its content was already emitted. It
// returns false when ctx ended first.
func (s *loopState) emit(ctx context.Context, p string, evCh chan<- string) bool {
	sum, err := HashFile(p)
	if err != nil {
		// renamed away or deleted before the debounce fired
		s.logger.Debug("ingest.watch.skip", "path", p, "error", err)
		return true
	}
	if s.seen[p] == sum {
		return true
	}
	select {
	case evCh <- p:
		s.seen[p] = sum
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *loopState) maybeAddDir(path string) {
	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		return
	}
	if s.cfg.SkipHidden && IsHidden(path) {
		return
	}
	if err := s.w.Add(path); err != nil {
		s.logger.Warn("ingest.watch.add_dir_failed", "path", path, "error", err)
	}
}
