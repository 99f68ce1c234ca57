package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/speechmentor/internal/config"
)

type Client struct {
	client *asynq.Client
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(RedisOpt(cfg)),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Schedule enqueues a workflow:advance task for id at the given time. The
// task id is derived from the execution and the wake-up second, so repeated
// scheduling of the same wake-up collapses into one task.
func (c *Client) Schedule(ctx context.Context, id string, at time.Time) error {
	current, _ := asynq.GetTaskID(ctx)
	taskID, processAt := wakeup(id, at, current)
	return c.enqueue(ctx, TypeWorkflowAdvance, WorkflowAdvancePayload{ExecutionID: id},
		asynq.TaskID(taskID),
		asynq.ProcessAt(processAt),
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(10),
		asynq.Timeout(30*time.Minute),
	)
}

// wakeup returns the task id and process time for a wake-up at at. asynq
// schedules with whole-second precision, so at is rounded up to keep the task
// from firing before the execution's resume time. A task rescheduling itself
// for the same second would collide with its own id and leave nothing
// queued; that case moves to the next second.
func wakeup(id string, at time.Time, current string) (string, time.Time) {
	sec := at.Unix()
	if at.Nanosecond() > 0 {
		sec++
	}
	taskID := fmt.Sprintf("%s@%d", id, sec)
	if taskID == current {
		sec++
		taskID = fmt.Sprintf("%s@%d", id, sec)
	}
	return taskID, time.Unix(sec, 0)
}

// EnqueueTranscription queues a transcription job run. While the job's task
// is pending, re-enqueueing it is a no-op.
func (c *Client) EnqueueTranscription(ctx context.Context, jobName string) error {
	return c.enqueue(ctx, TypeTranscriptionRun, TranscriptionRunPayload{JobName: jobName},
		asynq.TaskID("transcription:"+jobName),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Timeout(20*time.Minute),
	)
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
