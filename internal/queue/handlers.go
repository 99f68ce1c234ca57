package queue

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/speechmentor/internal/config"
)

// Queue weights: workflow wake-ups outrank transcription runs.
var queueWeights = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

func NewServer(redis config.RedisConfig, concurrency int) *asynq.Server {
	return asynq.NewServer(RedisOpt(redis), asynq.Config{
		Concurrency: concurrency,
		Queues:      queueWeights,
		Logger:      slogAdapter{},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			slog.Error("task failed", "type", t.Type(), "retried", retried, "error", err)
		}),
	})
}

type HandlersRegistry struct {
	mux *asynq.ServeMux
}

func NewHandlersRegistry() *HandlersRegistry {
	mux := asynq.NewServeMux()
	mux.Use(logTask)
	return &HandlersRegistry{mux: mux}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

func logTask(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		id, _ := asynq.GetTaskID(ctx)
		err := next.ProcessTask(ctx, t)
		slog.Debug("task processed", "type", t.Type(), "task_id", id,
			"duration", time.Since(start), "ok", err == nil)
		return err
	})
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct{}

func (slogAdapter) Debug(args ...interface{}) { slog.Debug("asynq", "msg", args) }
func (slogAdapter) Info(args ...interface{})  { slog.Info("asynq", "msg", args) }
func (slogAdapter) Warn(args ...interface{})  { slog.Warn("asynq", "msg", args) }
func (slogAdapter) Error(args ...interface{}) { slog.Error("asynq", "msg", args) }
func (slogAdapter) Fatal(args ...interface{}) {
	slog.Error("asynq fatal", "msg", args)
	os.Exit(1)
}
