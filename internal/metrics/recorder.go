package metrics

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/pdf2schema/internal/llm"
)

// EstimateTokens approximates a token count at about four bytes per token.
func EstimateTokens(s string) int64 {
	if s == "" {
		return 0
	}
	return int64((len(s) + 3) / 4)
}

type TokenCounts struct {
	Calls            int64 `json:"calls"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

func (t TokenCounts) Total() int64 { return t.PromptTokens + t.CompletionTokens }

// Counter accumulates TokenCounts; safe for concurrent use.
type Counter struct {
	calls, prompt, completion atomic.Int64
}

func (c *Counter) add(prompt, completion string) {
	c.calls.Add(1)
	c.prompt.Add(EstimateTokens(prompt))
	c.completion.Add(EstimateTokens(completion))
}

func (c *Counter) Snapshot() TokenCounts {
	return TokenCounts{
		Calls:            c.calls.Load(),
		PromptTokens:     c.prompt.Load(),
		CompletionTokens: c.completion.Load(),
	}
}

type counterKey struct{}

// WithCounter attaches a per-run Counter that CountingCompleter also feeds.
func WithCounter(ctx context.Context, c *Counter) context.Context {
	return context.WithValue(ctx, counterKey{}, c)
}

func CounterFrom(ctx context.Context) *Counter {
	c, _ := ctx.Value(counterKey{}).(*Counter)
	return c
}

// CountingCompleter estimates the tokens that flow through a Completer. It
// keeps a process-wide total and feeds the run Counter found in ctx, if any.
type CountingCompleter struct {
	next  llm.Completer
	total Counter
}

func NewCountingCompleter(next llm.Completer) *CountingCompleter {
	return &CountingCompleter{next: next}
}

func (c *CountingCompleter) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	out, err := c.next.Complete(ctx, prompt, timeout)
	c.total.add(prompt, out)
	if rc := CounterFrom(ctx); rc != nil {
		rc.add(prompt, out)
	}
	return out, err
}

func (c *CountingCompleter) Totals() TokenCounts { return c.total.Snapshot() }

// RunStats are the resource figures captured around one conversion.
type RunStats struct {
	LatencyMS       int64       `json:"latency_ms"`
	AllocatedBytes  uint64      `json:"allocated_bytes"`
	HeapInUseBytes  uint64      `json:"heap_in_use_bytes"`
	Tokens          TokenCounts `json:"tokens"`
	EstimatedTokens int64       `json:"estimated_tokens"`
}

// Recorder measures wall clock, allocation and token use between Start and Stop.
// Allocation figures are process-wide, so concurrent runs inflate each other.
type Recorder struct {
	start      time.Time
	startAlloc uint64
	counter    *Counter
}

// Start returns a context carrying a fresh Counter and the Recorder reading it.
func Start(ctx context.Context) (context.Context, *Recorder) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r := &Recorder{start: time.Now(), startAlloc: ms.TotalAlloc, counter: &Counter{}}
	return WithCounter(ctx, r.counter), r
}

func (r *Recorder) Stop() RunStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	tokens := r.counter.Snapshot()
	return RunStats{
		LatencyMS:       time.Since(r.start).Milliseconds(),
		AllocatedBytes:  ms.TotalAlloc - r.startAlloc,
		HeapInUseBytes:  ms.HeapAlloc,
		Tokens:          tokens,
		EstimatedTokens: tokens.Total(),
	}
}
