package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/pdf2schema/constants"
	"github.com/joseph-ayodele/pdf2schema/internal/pipeline"
	"github.com/joseph-ayodele/pdf2schema/internal/workflow"
)

type procFunc func(ctx context.Context, req pipeline.Request) (pipeline.Outcome, error)

func (f procFunc) Convert(ctx context.Context, req pipeline.Request) (pipeline.Outcome, error) {
	return f(ctx, req)
}

func TestQueue_ProcessesAndReports(t *testing.T) {
	var mu sync.Mutex
	var results []JobResult
	proc := procFunc(func(_ context.Context, req pipeline.Request) (pipeline.Outcome, error) {
		if req.Path == "bad.pdf" {
			return pipeline.Outcome{}, errors.New("disk full")
		}
		return pipeline.Outcome{RunID: req.RunID, Result: workflow.Result{Status: constants.RunStatusAccepted}}, nil
	})
	q := NewProcessorQueue(proc, nil, WithWorkers(2), WithQueueSize(4), WithOnDone(func(r JobResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	}))

	id, err := q.Enqueue(context.Background(), Job{Path: "good.pdf"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	_, err = q.Enqueue(context.Background(), Job{Path: "bad.pdf"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 2)
	byPath := map[string]JobResult{}
	for _, r := range results {
		byPath[r.Job.Path] = r
	}
	assert.Equal(t, constants.JobStatusDone, byPath["good.pdf"].Status)
	assert.Equal(t, id, byPath["good.pdf"].Outcome.RunID)
	assert.Equal(t, constants.JobStatusFailed, byPath["bad.pdf"].Status)
	assert.EqualError(t, byPath["bad.pdf"].Err, "disk full")
}

func TestQueue_EnqueueAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(procFunc(func(context.Context, pipeline.Request) (pipeline.Outcome, error) {
		return pipeline.Outcome{}, nil
	}), nil)
	q.Shutdown(context.Background())
	_, err := q.Enqueue(context.Background(), Job{Path: "a.pdf"})
	assert.ErrorIs(t, err, ErrQueueClosed)
	q.Shutdown(context.Background()) // second call is a no-op
}

func TestQueue_EnqueueHonoursContextWhenFull(t *testing.T) {
	release := make(chan struct{})
	q := NewProcessorQueue(procFunc(func(context.Context, pipeline.Request) (pipeline.Outcome, error) {
		<-release
		return pipeline.Outcome{}, nil
	}), nil, WithWorkers(1), WithQueueSize(1))

	_, err := q.Enqueue(context.Background(), Job{Path: "1.pdf"}) // picked up by the worker
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := q.Enqueue(ctx, Job{Path: "2.pdf"})
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = q.Enqueue(ctx, Job{Path: "3.pdf"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	q.Shutdown(context.Background())
}

func TestQueue_ProcessTimeoutReachesProcessor(t *testing.T) {
	done := make(chan error, 1)
	q := NewProcessorQueue(procFunc(func(ctx context.Context, _ pipeline.Request) (pipeline.Outcome, error) {
		<-ctx.Done()
		done <- ctx.Err()
		return pipeline.Outcome{}, ctx.Err()
	}), nil, WithProcessTimeout(20*time.Millisecond))
	_, err := q.Enqueue(context.Background(), Job{Path: "slow.pdf"})
	require.NoError(t, err)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("processor never saw its deadline")
	}
	q.Shutdown(context.Background())
}
