// Package queue is an in-process task queue with named handlers, worker
// goroutines, optional delay and job-ID deduplication. Delivery is
// at-least-once within the process lifetime; handlers must be idempotent.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/korulabs/lead-engine/internal/infra/resilience"
	"github.com/korulabs/lead-engine/internal/port"

	"go.uber.org/zap"
)

// Handler processes one job payload. A returned error triggers a retry.
type Handler func(ctx context.Context, payload map[string]any) error

type job struct {
	name    string
	payload map[string]any
	jobID   string
}

// Queue dispatches jobs to registered handlers on a pool of workers.
type Queue struct {
	jobs     chan job
	handlers map[string]Handler
	retry    resilience.Config
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]bool // jobID dedup set

	wg      sync.WaitGroup
	started bool
}

// New creates a queue with the given buffer size.
func New(buffer int, retry resilience.Config, logger *zap.Logger) *Queue {
	return &Queue{
		jobs:     make(chan job, buffer),
		handlers: make(map[string]Handler),
		retry:    retry,
		logger:   logger,
		inflight: make(map[string]bool),
	}
}

// Register binds a handler to a job name. Must happen before Start.
func (q *Queue) Register(name string, h Handler) {
	if q.started {
		panic("queue: Register after Start")
	}
	q.handlers[name] = h
}

// Start launches the worker pool. Workers drain until ctx is cancelled.
func (q *Queue) Start(ctx context.Context, workers int) {
	q.started = true
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Wait blocks until all workers have exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Add enqueues a job. A non-empty JobID deduplicates against jobs still in
// flight; Delay defers the enqueue without blocking the caller.
func (q *Queue) Add(ctx context.Context, jobName string, payload map[string]any, opts port.QueueOptions) error {
	if _, ok := q.handlers[jobName]; !ok {
		return fmt.Errorf("queue: no handler registered for %q", jobName)
	}

	if opts.JobID != "" {
		q.mu.Lock()
		if q.inflight[opts.JobID] {
			q.mu.Unlock()
			return nil
		}
		q.inflight[opts.JobID] = true
		q.mu.Unlock()
	}

	j := job{name: jobName, payload: payload, jobID: opts.JobID}

	if opts.Delay > 0 {
		time.AfterFunc(opts.Delay, func() {
			select {
			case q.jobs <- j:
			default:
				q.release(j.jobID)
				q.logger.Warn("queue full, dropping delayed job", zap.String("job", jobName))
			}
		})
		return nil
	}

	select {
	case q.jobs <- j:
		return nil
	case <-ctx.Done():
		q.release(j.jobID)
		return ctx.Err()
	default:
		q.release(j.jobID)
		return fmt.Errorf("queue: full, rejected %q", jobName)
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q.jobs:
			q.process(ctx, j)
		}
	}
}

func (q *Queue) process(ctx context.Context, j job) {
	defer q.release(j.jobID)
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queue handler panicked",
				zap.String("job", j.name), zap.Any("panic", r))
		}
	}()

	handler := q.handlers[j.name]
	err := resilience.RetryWithBackoff(ctx, q.retry, func() error {
		return handler(ctx, j.payload)
	})
	if err != nil {
		q.logger.Error("queue job failed after retries",
			zap.String("job", j.name), zap.Error(err))
	}
}

func (q *Queue) release(jobID string) {
	if jobID == "" {
		return
	}
	q.mu.Lock()
	delete(q.inflight, jobID)
	q.mu.Unlock()
}
