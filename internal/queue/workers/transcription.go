package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/speechmentor/internal/queue"
)

// JobRunner executes and fails transcription jobs.
type JobRunner interface {
	Run(ctx context.Context, name string) error
	Fail(ctx context.Context, name, reason string) error
}

type TranscriptionWorker struct {
	runner JobRunner
}

func NewTranscriptionWorker(r JobRunner) *TranscriptionWorker {
	return &TranscriptionWorker{runner: r}
}

// ProcessTask runs the job. On the final attempt a failure marks the job
// FAILED so pollers stop waiting for it.
func (w *TranscriptionWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.TranscriptionRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	err := w.runner.Run(ctx, payload.JobName)
	if err == nil {
		return nil
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried >= maxRetry {
		slog.Error("transcription retries exhausted", "job", payload.JobName, "error", err)
		if ferr := w.runner.Fail(ctx, payload.JobName, "The recording could not be transcribed."); ferr != nil {
			return fmt.Errorf("mark job failed: %w", ferr)
		}
		return nil
	}
	return err
}
