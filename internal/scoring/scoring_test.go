package scoring

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/pdf2schema/internal/llm"
	"github.com/joseph-ayodele/pdf2schema/internal/schema"
)

func twoTableDoc() schema.Document {
	return schema.Document{
		Description: "Shop data",
		Tables: []schema.Table{
			{Name: "orders", Fields: []schema.Field{
				{Name: "order_id", Type: "integer", Description: "Order key"},
				{Name: "total", Type: "float", Description: "Order total"},
			}},
			{Name: "customers", Fields: []schema.Field{
				{Name: "email", Type: "string", Description: "Contact email"},
			}},
		},
	}
}

// byAspect replies with a fixed number per aspect line of the rubric prompt.
func byAspect(name, typ, desc string) llm.CompleterFunc {
	return func(_ context.Context, prompt string, _ time.Duration) (string, error) {
		switch {
		case strings.Contains(prompt, "Aspect: name"):
			return name, nil
		case strings.Contains(prompt, "Aspect: type"):
			return typ, nil
		default:
			return desc, nil
		}
	}
}

func TestScore_AllPerfect(t *testing.T) {
	s := NewScorer(byAspect("100", "100", "100"), Config{Concurrency: 2}, nil)
	res, err := s.Score(context.Background(), twoTableDoc())
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Confidence)
	assert.Zero(t, res.Failures)
	assert.Len(t, res.Fields, 3)
	require.NotNil(t, res.Document.ConfidenceScore)
	assert.Equal(t, 100.0, *res.Document.Tables[1].Fields[0].ConfidenceScore)
}

func TestScore_AllFailed(t *testing.T) {
	fail := llm.CompleterFunc(func(context.Context, string, time.Duration) (string, error) {
		return "", &llm.CompletionError{Kind: llm.KindOther, Message: "down"}
	})
	s := NewScorer(fail, Config{}, nil)
	res, err := s.Score(context.Background(), twoTableDoc())
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, 9, res.Failures)
}

func TestScore_Aggregation(t *testing.T) {
	s := NewScorer(byAspect("Score: 90", "80", "71"), Config{Concurrency: 4}, nil)
	doc := twoTableDoc()
	res, err := s.Score(context.Background(), doc)
	require.NoError(t, err)

	// (90+80+71)/3 = 80.333...
	for _, fs := range res.Fields {
		assert.Equal(t, 80.33, fs.Score)
		assert.Equal(t, 90.0, fs.Name)
		assert.Equal(t, 80.0, fs.Type)
		assert.Equal(t, 71.0, fs.Description)
	}
	assert.Equal(t, 80.33, *res.Document.Tables[0].ConfidenceScore)
	assert.Equal(t, 80.33, res.Confidence)
	assert.Nil(t, doc.ConfidenceScore, "input document is not modified")
	assert.Nil(t, doc.Tables[0].Fields[0].ConfidenceScore)
}

func TestScore_UnusableRepliesCountAsZero(t *testing.T) {
	s := NewScorer(byAspect("150", "n/a", "60"), Config{}, nil)
	res, err := s.Score(context.Background(), twoTableDoc())
	require.NoError(t, err)
	assert.Equal(t, 6, res.Failures)
	assert.Equal(t, 20.0, res.Fields[0].Score)
	assert.Equal(t, 20.0, res.Confidence)
}

func TestScore_TableMeansThenDocumentMean(t *testing.T) {
	c := llm.CompleterFunc(func(_ context.Context, prompt string, _ time.Duration) (string, error) {
		if strings.Contains(prompt, "Table: customers") {
			return "40", nil
		}
		return "100", nil
	})
	res, err := NewScorer(c, Config{}, nil).Score(context.Background(), twoTableDoc())
	require.NoError(t, err)
	assert.Equal(t, 100.0, *res.Document.Tables[0].ConfidenceScore)
	assert.Equal(t, 40.0, *res.Document.Tables[1].ConfidenceScore)
	assert.Equal(t, 70.0, res.Confidence)
}

func TestScore_EmptyDocument(t *testing.T) {
	var calls atomic.Int32
	c := llm.CompleterFunc(func(context.Context, string, time.Duration) (string, error) {
		calls.Add(1)
		return "0", nil
	})
	res, err := NewScorer(c, Config{}, nil).Score(context.Background(), schema.Document{Tables: []schema.Table{}})
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Confidence)
	assert.Zero(t, calls.Load())
}

func TestScore_EmptyTableDoesNotLiftFailedDocument(t *testing.T) {
	fail := llm.CompleterFunc(func(context.Context, string, time.Duration) (string, error) {
		return "", &llm.CompletionError{Kind: llm.KindOther, Message: "down"}
	})
	doc := schema.Document{
		Description: "Shop data",
		Tables: []schema.Table{
			{Name: "orders", Fields: []schema.Field{{Name: "id", Type: "integer", Description: "Order key"}}},
			{Name: "staging", Fields: []schema.Field{}},
		},
	}
	res, err := NewScorer(fail, Config{}, nil).Score(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Failures)
	assert.Equal(t, 0.0, res.Confidence)
	require.NotNil(t, res.Document.Tables[1].ConfidenceScore)
	assert.Equal(t, 100.0, *res.Document.Tables[1].ConfidenceScore)
}

func TestScore_OnlyEmptyTables(t *testing.T) {
	doc := schema.Document{Tables: []schema.Table{{Name: "a"}, {Name: "b"}}}
	res, err := NewScorer(byAspect("0", "0", "0"), Config{}, nil).Score(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Confidence)
}

func TestScore_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	c := llm.CompleterFunc(func(context.Context, string, time.Duration) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "80", nil
	})
	_, err := NewScorer(c, Config{Concurrency: 2}, nil).Score(context.Background(), twoTableDoc())
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestScore_PassesTimeout(t *testing.T) {
	var got atomic.Int64
	c := llm.CompleterFunc(func(_ context.Context, _ string, timeout time.Duration) (string, error) {
		got.Store(int64(timeout))
		return "50", nil
	})
	_, err := NewScorer(c, Config{Timeout: 3 * time.Second}, nil).Score(context.Background(), twoTableDoc())
	require.NoError(t, err)
	assert.Equal(t, int64(3*time.Second), got.Load())
}

func TestScore_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := llm.CompleterFunc(func(ctx context.Context, _ string, _ time.Duration) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})
	_, err := NewScorer(c, Config{Concurrency: 1}, nil).Score(ctx, twoTableDoc())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFailing(t *testing.T) {
	fs := FieldScore{Name: 89.99, Type: 75, Description: 74}
	assert.Equal(t, []Aspect{AspectName, AspectDescription}, fs.Failing(DefaultGates))
	assert.Empty(t, FieldScore{Name: 90, Type: 75, Description: 75}.Failing(DefaultGates))
}

func TestRubricPrompt(t *testing.T) {
	p := RubricPrompt("Shop data", "orders", schema.Field{Name: "id", Type: "integer", Description: "key"}, AspectType)
	assert.Contains(t, p, "Rate the type")
	assert.Contains(t, p, "Field name: id")
	assert.True(t, strings.HasSuffix(p, "Only respond with a number from 0 to 100"))
}
