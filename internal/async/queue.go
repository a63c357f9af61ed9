package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf2schema/constants"
	"github.com/joseph-ayodele/pdf2schema/internal/pipeline"
)

var ErrQueueClosed = errors.New("queue is shut down")

// Job is one PDF waiting for conversion. ID becomes the run id.
type Job struct {
	ID              uuid.UUID
	Path            string
	GroundTruthPath string
	OutputDir       string
	SubmittedAt     time.Time
	TraceID         string
}

// JobResult is handed to the OnDone callback once a job leaves a worker.
type JobResult struct {
	Job     Job
	Status  constants.JobStatus
	Outcome pipeline.Outcome
	Err     error
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) (uuid.UUID, error)
	Shutdown(ctx context.Context)
}

// Processor is the part of *pipeline.Processor the queue needs.
type Processor interface {
	Convert(ctx context.Context, req pipeline.Request) (pipeline.Outcome, error)
}

type ProcessorQueue struct {
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration
	onDone  func(JobResult)

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*ProcessorQueue)(nil)

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithOnDone registers a callback run on the worker goroutine after each job.
func WithOnDone(fn func(JobResult)) Option {
	return func(q *ProcessorQueue) { q.onDone = fn }
}

func NewProcessorQueue(proc Processor, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 10 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("queue.worker.started", "worker_id", workerID)
				for job := range q.ch {
					q.process(workerID, job)
				}
				q.logger.Debug("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) process(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	q.logger.Debug("queue.job.start", "worker_id", workerID, "job_id", job.ID, "status", constants.JobStatusRunning)
	req := pipeline.Request{Path: job.Path, GroundTruthPath: job.GroundTruthPath, OutputDir: job.OutputDir, RunID: job.ID}
	out, err := q.proc.Convert(ctx, req)

	res := JobResult{Job: job, Outcome: out, Err: err, Status: constants.JobStatusDone}
	if err != nil {
		res.Status = constants.JobStatusFailed
		q.logger.Error("queue.job.failed", "worker_id", workerID, "job_id", job.ID, "path", job.Path, "error", err)
	} else {
		q.logger.Info("queue.job.done", "worker_id", workerID, "job_id", job.ID, "path", job.Path,
			"status", out.Result.Status, "wait_ms", time.Since(job.SubmittedAt).Milliseconds())
	}
	if q.onDone != nil {
		q.onDone(res)
	}
}

// Enqueue blocks while the queue is full until ctx is done. It returns the
// job id, generating one when the job has none.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) (uuid.UUID, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("queue.enqueue.closed", "path", job.Path)
		return uuid.Nil, ErrQueueClosed
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
	default:
		q.logger.Warn("queue.enqueue.backpressure", "job_id", job.ID, "path", job.Path)
		select {
		case q.ch <- job:
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		}
	}
	q.logger.Info("queue.enqueue.ok", "job_id", job.ID, "path", job.Path, "trace_id", job.TraceID, "status", constants.JobStatusQueued)
	return job.ID, nil
}

// Shutdown stops intake and waits for queued jobs to drain or ctx to end.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.ok")
	}
}
