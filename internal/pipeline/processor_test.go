package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/pdf2schema/constants"
	"github.com/joseph-ayodele/pdf2schema/internal/common"
	"github.com/joseph-ayodele/pdf2schema/internal/entity"
	"github.com/joseph-ayodele/pdf2schema/internal/extract"
	"github.com/joseph-ayodele/pdf2schema/internal/llm"
	"github.com/joseph-ayodele/pdf2schema/internal/metrics"
	"github.com/joseph-ayodele/pdf2schema/internal/repository"
	"github.com/joseph-ayodele/pdf2schema/internal/schema"
	"github.com/joseph-ayodele/pdf2schema/internal/scoring"
	"github.com/joseph-ayodele/pdf2schema/internal/validate"
	"github.com/joseph-ayodele/pdf2schema/internal/workflow"
)

const ordersYAML = `dataset_description: Orders placed in the shop database.
tables:
  - name: orders
    fields:
      - name: order_id
        type: integer
        description: Primary key of the orders table
      - name: amount
        type: float
        description: Order total in the dataset currency
`

type convFunc func(ctx context.Context, path string) workflow.Result

func (f convFunc) Run(ctx context.Context, path string) workflow.Result { return f(ctx, path) }

func openStore(t *testing.T) *repository.SQLStore {
	t.Helper()
	s, err := repository.Open(context.Background(), repository.Config{DSN: "sqlite://" + filepath.Join(t.TempDir(), "p.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newParser(t *testing.T) *schema.Parser {
	t.Helper()
	p, err := schema.NewParser()
	require.NoError(t, err)
	return p
}

// newLoop wires the real loop with a scripted model: schema prompts get
// ordersYAML, rubric prompts get "95".
func newLoop(t *testing.T, obs workflow.Observer) *workflow.Loop {
	t.Helper()
	completer := metrics.NewCountingCompleter(llm.CompleterFunc(func(_ context.Context, prompt string, _ time.Duration) (string, error) {
		if strings.Contains(prompt, "Only respond with a number") {
			return "95", nil
		}
		return ordersYAML, nil
	}))
	extractor := extract.ExtractorFunc(func(context.Context, string) (extract.Result, error) {
		return extract.Result{Text: "orders table: order_id, amount", Pages: 1, Method: "pdf-text"}, nil
	})
	loop, err := workflow.New(workflow.DefaultConfig(), extractor, completer, newParser(t),
		validate.New(validate.DefaultRules(), nil),
		scoring.NewScorer(completer, scoring.Config{Concurrency: 2}, nil),
		llm.PromptBuilder{MaxBytes: 48000}, nil, workflow.WithObserver(obs))
	require.NoError(t, err)
	return loop
}

func TestConvert_EndToEnd(t *testing.T) {
	store := openStore(t)
	out := t.TempDir()
	truthPath := filepath.Join(t.TempDir(), "truth.yaml")
	require.NoError(t, os.WriteFile(truthPath, []byte(ordersYAML), 0o644))

	p := NewProcessor(newLoop(t, NewIterationRecorder(store, nil)), store, nil, newParser(t), out, nil)
	o, err := p.Convert(context.Background(), Request{Path: "/in/orders.pdf", GroundTruthPath: truthPath})
	require.NoError(t, err)

	assert.Equal(t, constants.RunStatusAccepted, o.Result.Status)
	assert.Equal(t, filepath.Join(out, "dataset_descriptions_from_orders.yaml"), o.YAMLPath)
	assert.FileExists(t, o.YAMLPath)
	require.NotNil(t, o.Evaluation)
	assert.InDelta(t, 100.0, o.Evaluation.Accuracy, 1e-9)
	assert.Equal(t, 0, o.Response.ReturnCode)
	assert.Equal(t, o.RunID.String(), o.Response.RunID)
	assert.Greater(t, o.Stats.Tokens.Calls, int64(0))

	run, err := store.GetRun(context.Background(), o.RunID)
	require.NoError(t, err)
	assert.Equal(t, constants.RunStatusAccepted, run.Status)
	assert.Equal(t, 1, run.Iterations)
	require.NotNil(t, run.YAMLPath)
	assert.Equal(t, o.YAMLPath, *run.YAMLPath)
	assert.Contains(t, string(run.Metrics), `"evaluation"`)

	its, err := store.ListIterations(context.Background(), o.RunID)
	require.NoError(t, err)
	require.Len(t, its, 1)
	assert.Equal(t, string(workflow.OutcomeAccepted), its[0].Outcome)
	assert.NotEmpty(t, its[0].Candidate)
}

func TestConvert_FatalResultWritesNothing(t *testing.T) {
	store := openStore(t)
	out := t.TempDir()
	conv := convFunc(func(context.Context, string) workflow.Result {
		return workflow.Result{
			Status:      constants.RunStatusFatalError,
			ErrorDetail: common.NewAppError(common.CodeExtractionFailed, "extraction failed", nil),
		}
	})
	p := NewProcessor(conv, store, nil, nil, out, nil)
	id := uuid.New()

	o, err := p.Convert(context.Background(), Request{Path: "scan.pdf", RunID: id})
	require.NoError(t, err)
	assert.Equal(t, id, o.RunID)
	assert.Empty(t, o.YAMLPath)
	assert.Equal(t, 1, o.Response.ReturnCode)
	assert.Equal(t, "could not extract text from the PDF: extraction failed", o.Response.Stderr)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)

	run, err := store.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.RunStatusFatalError, run.Status)
	require.NotNil(t, run.ErrorCode)
	assert.Equal(t, common.CodeExtractionFailed, *run.ErrorCode)
}

func TestConvert_PerRunOutputKeepsSameNamedUploadsApart(t *testing.T) {
	out := t.TempDir()
	base, err := newParser(t).ParseDocument(ordersYAML)
	require.NoError(t, err)
	conv := convFunc(func(_ context.Context, path string) workflow.Result {
		doc := base.Clone()
		doc.Description = "Orders from " + filepath.Dir(path)
		return workflow.Result{Status: constants.RunStatusAccepted, Document: &doc, Iterations: 1}
	})
	p := NewProcessor(conv, nil, nil, nil, out, nil)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i, dir := range []string{"/a", "/b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := p.Convert(context.Background(), Request{Path: dir + "/report.pdf", PerRunOutput: true})
			assert.NoError(t, err)
			outcomes[i] = o
		}()
	}
	wg.Wait()

	require.NotEqual(t, outcomes[0].YAMLPath, outcomes[1].YAMLPath)
	for i, dir := range []string{"/a", "/b"} {
		o := outcomes[i]
		assert.Equal(t, filepath.Join(out, "dataset_descriptions_from_report_"+o.RunID.String()+".yaml"), o.YAMLPath)
		raw, err := os.ReadFile(o.YAMLPath)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "Orders from "+dir)
	}
}

func TestConvert_RunIDReachesConverter(t *testing.T) {
	var seen string
	conv := convFunc(func(ctx context.Context, _ string) workflow.Result {
		seen = common.RunIDFromContext(ctx)
		return workflow.Result{Status: constants.RunStatusExhausted, Iterations: 3}
	})
	o, err := NewProcessor(conv, nil, nil, nil, t.TempDir(), nil).Convert(context.Background(), Request{Path: "a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, o.RunID.String(), seen)
	assert.Equal(t, "no valid schema after 3 iterations", FailureReason(o.Result))
}

func TestConvert_RejectsBadInput(t *testing.T) {
	called := false
	conv := convFunc(func(context.Context, string) workflow.Result { called = true; return workflow.Result{} })
	p := NewProcessor(conv, nil, nil, newParser(t), t.TempDir(), nil)

	_, err := p.Convert(context.Background(), Request{Path: "notes.txt"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = p.Convert(context.Background(), Request{Path: "a.pdf", GroundTruthPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.False(t, called)
}

func TestIterationRecorder_NeedsRunID(t *testing.T) {
	store := openStore(t)
	r := NewIterationRecorder(store, nil)
	id := uuid.New()
	require.NoError(t, store.CreateRun(context.Background(), entity.Run{ID: id, SourcePath: "x.pdf"}))

	r.OnIteration(context.Background(), workflow.Snapshot{Iteration: 0, Outcome: workflow.OutcomeParseError})
	ctx, cancel := context.WithCancel(common.WithRunID(context.Background(), id.String()))
	cancel()
	r.OnIteration(ctx, workflow.Snapshot{Iteration: 0, Outcome: workflow.OutcomeParseError, Feedback: []string{"parse error: x"}})

	its, err := store.ListIterations(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, its, 1)
	assert.Equal(t, []string{"parse error: x"}, its[0].Feedback)
}
