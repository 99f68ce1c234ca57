package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/speechmentor/internal/execution"
	"github.com/nikhilbhutani/speechmentor/internal/queue"
)

// Driver advances one execution and schedules its next wake-up.
type Driver interface {
	Drive(ctx context.Context, id string) error
}

type WorkflowWorker struct {
	driver Driver
}

func NewWorkflowWorker(d Driver) *WorkflowWorker {
	return &WorkflowWorker{driver: d}
}

func (w *WorkflowWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.WorkflowAdvancePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	err := w.driver.Drive(ctx, payload.ExecutionID)
	if errors.Is(err, execution.ErrNotFound) {
		return fmt.Errorf("execution %s: %w: %w", payload.ExecutionID, err, asynq.SkipRetry)
	}
	return err
}
