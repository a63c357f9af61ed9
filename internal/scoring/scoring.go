package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/pdf2schema/internal/llm"
	"github.com/joseph-ayodele/pdf2schema/internal/schema"
)

// Aspect is one of the three things rated per field.
type Aspect string

const (
	AspectName        Aspect = "name"
	AspectType        Aspect = "type"
	AspectDescription Aspect = "description"
)

var aspects = [3]Aspect{AspectName, AspectType, AspectDescription}

type Config struct {
	Concurrency int           // sub-requests in flight, default 8
	Timeout     time.Duration // per sub-request; 0 = none beyond ctx
}

// Gates are the per-aspect minimums a field must reach to be left alone on refinement.
type Gates struct {
	Name        float64
	Type        float64
	Description float64
}

var DefaultGates = Gates{Name: 90, Type: 75, Description: 75}

type FieldScore struct {
	Table       string  `json:"table"`
	Field       string  `json:"field"`
	Name        float64 `json:"name_score"`
	Type        float64 `json:"type_score"`
	Description float64 `json:"description_score"`
	Score       float64 `json:"score"`
}

// Failing lists the aspects below their gate.
func (f FieldScore) Failing(g Gates) []Aspect {
	var out []Aspect
	if f.Name < g.Name {
		out = append(out, AspectName)
	}
	if f.Type < g.Type {
		out = append(out, AspectType)
	}
	if f.Description < g.Description {
		out = append(out, AspectDescription)
	}
	return out
}

type Result struct {
	Document   schema.Document // copy of the input with scores filled in
	Confidence float64
	Fields     []FieldScore
	Failures   int // sub-requests that errored or gave no usable number
}

type Scorer struct {
	completer llm.Completer
	cfg       Config
	logger    *slog.Logger
}

func NewScorer(c llm.Completer, cfg Config, logger *slog.Logger) *Scorer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{completer: c, cfg: cfg, logger: logger}
}

type job struct {
	table, field int
	aspect       int
}

// Score rates every field on name, type and description through a bounded
// pool of completion calls. A failed sub-request counts as 0 and never stops
// the others; the only error returned is the context's.
func (s *Scorer) Score(ctx context.Context, doc schema.Document) (Result, error) {
	start := time.Now()
	out := doc.Clone()

	var jobs []job
	for ti, t := range out.Tables {
		for fi := range t.Fields {
			for a := range aspects {
				jobs = append(jobs, job{table: ti, field: fi, aspect: a})
			}
		}
	}

	// results[i] is written only by the goroutine owning job i
	results := make([]float64, len(jobs))
	var failures atomic.Int32

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.Concurrency)
	for i, j := range jobs {
		eg.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			t := out.Tables[j.table]
			v, ok := s.rate(gctx, out.Description, t.Name, t.Fields[j.field], aspects[j.aspect])
			if !ok {
				failures.Add(1)
			}
			results[i] = v
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		s.logger.Warn("scoring.canceled", "jobs", len(jobs), "error", err)
		return Result{}, err
	}

	res := Result{Failures: int(failures.Load())}
	var tableScores []float64
	k := 0
	for ti := range out.Tables {
		t := &out.Tables[ti]
		var fieldScores []float64
		for fi := range t.Fields {
			f := &t.Fields[fi]
			fs := FieldScore{
				Table:       t.Name,
				Field:       f.Name,
				Name:        results[k],
				Type:        results[k+1],
				Description: results[k+2],
			}
			k += 3
			fs.Score = round2(clamp(mean([]float64{fs.Name, fs.Type, fs.Description})))
			f.ConfidenceScore = schema.Score(fs.Score)
			fieldScores = append(fieldScores, fs.Score)
			res.Fields = append(res.Fields, fs)
		}
		ts := round2(clamp(mean(fieldScores)))
		t.ConfidenceScore = schema.Score(ts)
		// a table without fields has nothing rated and must not lift the document
		if len(t.Fields) > 0 {
			tableScores = append(tableScores, ts)
		}
	}
	res.Confidence = round2(clamp(mean(tableScores)))
	out.ConfidenceScore = schema.Score(res.Confidence)
	res.Document = out

	s.logger.Info("scoring.done",
		"fields", len(res.Fields),
		"requests", len(jobs),
		"failures", res.Failures,
		"confidence", res.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *Scorer) rate(ctx context.Context, datasetDesc, table string, f schema.Field, aspect Aspect) (float64, bool) {
	reply, err := s.completer.Complete(ctx, RubricPrompt(datasetDesc, table, f, aspect), s.cfg.Timeout)
	if err != nil {
		s.logger.Warn("scoring.field.failed", "table", table, "field", f.Name, "aspect", aspect, "error", err)
		return 0, false
	}
	v, ok := llm.ExtractNumber(reply)
	if !ok || v < 0 || v > 100 {
		s.logger.Warn("scoring.field.unusable", "table", table, "field", f.Name, "aspect", aspect, "reply", truncate(reply, 80))
		return 0, false
	}
	return v, true
}

// RubricPrompt asks for a 0-100 rating of one aspect of one field.
func RubricPrompt(datasetDesc, table string, f schema.Field, aspect Aspect) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rate the %s of the following dataset field on a scale from 0 to 100.\n\n", aspect)
	if datasetDesc != "" {
		fmt.Fprintf(&b, "Dataset: %s\n", datasetDesc)
	}
	fmt.Fprintf(&b, "Table: %s\n", table)
	fmt.Fprintf(&b, "Field name: %s\n", f.Name)
	fmt.Fprintf(&b, "Field type: %s\n", f.Type)
	fmt.Fprintf(&b, "Field description: %s\n\n", f.Description)
	fmt.Fprintf(&b, "Aspect: %s\n", aspect)
	b.WriteString("90-100: accurate and specific\n")
	b.WriteString("75-89: semantically aligned but could be more precise\n")
	b.WriteString("60-74: vague\n")
	b.WriteString("40-59: inaccurate\n")
	b.WriteString("0-39: missing or irrelevant\n\n")
	b.WriteString("Only respond with a number from 0 to 100")
	return b.String()
}

// mean of no children is 100: nothing in an empty scope falls short.
func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 100
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp(v float64) float64 { return math.Max(0, math.Min(100, v)) }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
