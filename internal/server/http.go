package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf2schema/constants"
	"github.com/joseph-ayodele/pdf2schema/internal/common"
	"github.com/joseph-ayodele/pdf2schema/internal/entity"
	"github.com/joseph-ayodele/pdf2schema/internal/export"
	"github.com/joseph-ayodele/pdf2schema/internal/pipeline"
	"github.com/joseph-ayodele/pdf2schema/internal/repository"
)

// Converter is the part of *pipeline.Processor the servers need.
type Converter interface {
	Convert(ctx context.Context, req pipeline.Request) (pipeline.Outcome, error)
}

// HealthChecker is implemented by stores that can be pinged.
type HealthChecker interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

type Deps struct {
	Converter      Converter
	Store          repository.Store
	XLSX           *export.Service
	OutputDir      string
	MaxUploadMB    int
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type handler struct {
	Deps
	maxUpload int64
}

// RunView is a stored run with its passes.
type RunView struct {
	Run        entity.Run         `json:"run"`
	Iterations []entity.Iteration `json:"iterations"`
}

// NewRouter returns the REST surface.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Store == nil {
		d.Store = repository.NopStore{}
	}
	if d.XLSX == nil {
		d.XLSX = export.NewService(d.Logger)
	}
	if d.MaxUploadMB <= 0 {
		d.MaxUploadMB = 32
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 10 * time.Minute
	}
	h := &handler{Deps: d, maxUpload: int64(d.MaxUploadMB) << 20}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(d.RequestTimeout))

	r.Get("/healthz", h.health)
	r.Post("/convert", h.convert(false))
	r.Post("/convert-with-metrics", h.convert(true))
	r.Get("/runs", h.listRuns)
	r.Get("/runs/{id}", h.getRun)
	r.Get("/output/{name}", h.download)
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if hc, ok := h.Store.(HealthChecker); ok {
		if err := hc.HealthCheck(r.Context(), 2*time.Second); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// convert handles multipart uploads: "file" always, "ground_truth" when
// withTruth. ?format=xlsx returns a workbook instead of JSON.
func (h *handler) convert(withTruth bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := h.Logger.With("request_id", chimiddleware.GetReqID(r.Context()))
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
		if err := r.ParseMultipartForm(h.maxUpload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		dir, err := os.MkdirTemp("", "p2s-upload-*")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not stage upload")
			return
		}
		defer func() { _ = os.RemoveAll(dir) }()

		pdfPath, status, err := saveUpload(r, "file", dir, true)
		if err != nil {
			writeError(w, status, err.Error())
			return
		}
		req := pipeline.Request{Path: pdfPath, OutputDir: h.OutputDir, PerRunOutput: true}
		if withTruth {
			gtPath, status, err := saveUpload(r, "ground_truth", dir, false)
			if err != nil {
				writeError(w, status, err.Error())
				return
			}
			req.GroundTruthPath = gtPath
		}

		ctx := common.WithRequestID(r.Context(), chimiddleware.GetReqID(r.Context()))
		out, err := h.Converter.Convert(ctx, req)
		if err != nil && out.RunID == uuid.Nil {
			if errors.Is(err, common.ErrInvalidInput) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Error("http.convert.failed", "error", err)
			writeError(w, http.StatusInternalServerError, "conversion failed")
			return
		}
		if err != nil {
			// the run finished but bookkeeping or output writing failed
			log.Warn("http.convert.partial", "run_id", out.RunID, "error", err)
		}

		if r.URL.Query().Get("format") == "xlsx" {
			b, err := h.XLSX.XLSX(out.Result, out.Evaluation)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "xlsx export failed")
				return
			}
			name := strings.TrimSuffix(export.OutputName(pdfPath), ".yaml") + ".xlsx"
			w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
			_, _ = w.Write(b)
			return
		}

		resp := out.Response
		if out.YAMLPath != "" {
			resp.YAMLDownloadPath = "/output/" + filepath.Base(out.YAMLPath)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// saveUpload copies one multipart file into dir under its base name.
func saveUpload(r *http.Request, field, dir string, pdf bool) (string, int, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return "", http.StatusBadRequest, fmt.Errorf("missing %q file", field)
	}
	defer func(f multipart.File) { _ = f.Close() }(f)

	name := filepath.Base(filepath.Clean("/" + hdr.Filename))
	if name == "/" || name == "." {
		return "", http.StatusBadRequest, fmt.Errorf("%q has no file name", field)
	}
	if pdf && !constants.IsPDF(filepath.Ext(name)) {
		return "", http.StatusBadRequest, fmt.Errorf("%s is not a PDF", name)
	}
	if !pdf {
		name = "truth-" + name
	}

	dst := filepath.Join(dir, name)
	out, err := os.Create(dst)
	if err != nil {
		return "", http.StatusInternalServerError, errors.New("could not stage upload")
	}
	defer func() { _ = out.Close() }()
	if _, err := io.Copy(out, f); err != nil {
		return "", http.StatusInternalServerError, errors.New("could not stage upload")
	}
	return dst, 0, nil
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		h.Logger.Error("http.runs.list_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []entity.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	view, err := loadRun(r.Context(), h.Store, id)
	if err != nil {
		if repository.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.Logger.Error("http.runs.get_failed", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func loadRun(ctx context.Context, store repository.Store, id uuid.UUID) (RunView, error) {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return RunView{}, err
	}
	its, err := store.ListIterations(ctx, id)
	if err != nil {
		return RunView{}, err
	}
	if its == nil {
		its = []entity.Iteration{}
	}
	return RunView{Run: run, Iterations: its}, nil
}

// download serves generated YAML files by bare name only.
func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name != filepath.Base(name) || !strings.HasPrefix(name, constants.OutputFilePrefix) || filepath.Ext(name) != ".yaml" {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	path := filepath.Join(h.OutputDir, name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http.request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"request_id", chimiddleware.GetReqID(r.Context()),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
