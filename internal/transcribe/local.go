package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var ErrQueueFull = errors.New("local transcription queue is full")

// LocalQueue runs jobs in-process for the local workflow driver. Each job
// gets a fixed number of attempts before it is marked FAILED.
type LocalQueue struct {
	ctx      context.Context
	runner   *Runner
	attempts int
	delay    time.Duration

	mu      sync.Mutex
	pending map[string]bool
	group   errgroup.Group
}

func NewLocalQueue(ctx context.Context, runner *Runner, concurrency, attempts int) *LocalQueue {
	if attempts <= 0 {
		attempts = 1
	}
	q := &LocalQueue{
		ctx:      ctx,
		runner:   runner,
		attempts: attempts,
		delay:    2 * time.Second,
		pending:  make(map[string]bool),
	}
	if concurrency > 0 {
		q.group.SetLimit(concurrency)
	}
	return q
}

// EnqueueTranscription starts the job unless it is already running here.
func (q *LocalQueue) EnqueueTranscription(_ context.Context, jobName string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending[jobName] {
		return nil
	}
	if !q.group.TryGo(func() error {
		q.process(jobName)
		return nil
	}) {
		return ErrQueueFull
	}
	q.pending[jobName] = true
	return nil
}

// Owns reports whether the job is queued or running in this process.
func (q *LocalQueue) Owns(jobName string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[jobName]
}

func (q *LocalQueue) process(jobName string) {
	defer func() {
		q.mu.Lock()
		delete(q.pending, jobName)
		q.mu.Unlock()
	}()

	var err error
	for attempt := 1; attempt <= q.attempts; attempt++ {
		if err = q.runner.Run(q.ctx, jobName); err == nil {
			return
		}
		if q.ctx.Err() != nil {
			return
		}
		slog.Warn("transcription attempt failed", "job", jobName, "attempt", attempt, "error", err)
		if attempt == q.attempts {
			break
		}
		select {
		case <-q.ctx.Done():
			return
		case <-time.After(q.delay * time.Duration(attempt)):
		}
	}
	if ferr := q.runner.Fail(q.ctx, jobName, "The recording could not be transcribed."); ferr != nil {
		slog.Error("mark transcription failed", "job", jobName, "error", ferr)
	}
}

// Wait blocks until every started job has finished.
func (q *LocalQueue) Wait() {
	q.group.Wait()
}
