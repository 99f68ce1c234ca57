package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/nikhilbhutani/speechmentor/internal/execution"
	"github.com/nikhilbhutani/speechmentor/internal/observe"
)

// call runs fn with a per-attempt timeout, retrying transient errors with
// exponential backoff. Exhausted retries become an InfrastructureError.
// Cancellation of ctx is returned as is.
func (e *Engine) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		err = fn(cctx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var perm permanent
		if errors.As(err, &perm) {
			return &StageError{Kind: execution.InfrastructureError, Op: op, Err: perm.err}
		}
		if attempt >= e.cfg.RetryAttempts {
			break
		}

		delay := e.backoff(attempt)
		observe.Logger(ctx).Warn("retrying call", "op", op, "attempt", attempt, "delay", delay, "error", err)
		if e.metrics != nil {
			e.metrics.RecordRetry(ctx, op)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return &StageError{Kind: execution.InfrastructureError, Op: op, Err: err}
}

// backoff returns base·2^(attempt-1), capped at RetryMaxDelay.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.cfg.RetryMaxDelay > 0 && d >= e.cfg.RetryMaxDelay {
			return e.cfg.RetryMaxDelay
		}
	}
	return d
}
