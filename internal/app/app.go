// Package app wires the speech-mentor subsystems from configuration.
//
// New picks concrete backends for every port of the workflow engine:
// Postgres or in-memory execution store, Supabase or in-memory blobs, asynq
// or in-process scheduling. Tests inject doubles with the With* options.
package app

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/speechmentor/internal/api"
	"github.com/nikhilbhutani/speechmentor/internal/api/handlers"
	"github.com/nikhilbhutani/speechmentor/internal/audit"
	"github.com/nikhilbhutani/speechmentor/internal/cache"
	"github.com/nikhilbhutani/speechmentor/internal/config"
	"github.com/nikhilbhutani/speechmentor/internal/database"
	"github.com/nikhilbhutani/speechmentor/internal/execution"
	"github.com/nikhilbhutani/speechmentor/internal/guardrails"
	"github.com/nikhilbhutani/speechmentor/internal/llm"
	"github.com/nikhilbhutani/speechmentor/internal/notify"
	"github.com/nikhilbhutani/speechmentor/internal/observe"
	"github.com/nikhilbhutani/speechmentor/internal/queue"
	"github.com/nikhilbhutani/speechmentor/internal/queue/workers"
	"github.com/nikhilbhutani/speechmentor/internal/storage"
	"github.com/nikhilbhutani/speechmentor/internal/transcribe"
	"github.com/nikhilbhutani/speechmentor/internal/trigger"
	"github.com/nikhilbhutani/speechmentor/internal/workflow"
	"github.com/nikhilbhutani/speechmentor/migrations"
)

const (
	redisKeyPrefix = "speechmentor:"
	jobRecordTTL   = 7 * 24 * time.Hour
	localAttempts  = 3
)

type App struct {
	cfg *config.Config

	db      *pgxpool.Pool
	redis   *redis.Client
	cache   *cache.Cache
	store   execution.Store
	blobs   storage.Storage
	jobs    transcribe.JobStore
	stt     transcribe.Transcriber
	model   workflow.ModelClient
	pub     workflow.Publisher
	runner  *transcribe.Runner
	history auditLog

	engine   *workflow.Engine
	listener *trigger.Listener
	queue    *queue.Client
	local    *workflow.LocalScheduler
	localQ   *transcribe.LocalQueue
	metrics  *observe.Metrics

	closers []func()
}

// auditLog is both the execution history and the model usage sink.
type auditLog interface {
	audit.Log
	llm.UsageRecorder
}

type Option func(*App)

func WithStore(s execution.Store) Option              { return func(a *App) { a.store = s } }
func WithBlobs(b storage.Storage) Option              { return func(a *App) { a.blobs = b } }
func WithTranscriber(t transcribe.Transcriber) Option { return func(a *App) { a.stt = t } }
func WithModel(m workflow.ModelClient) Option         { return func(a *App) { a.model = m } }
func WithPublisher(p workflow.Publisher) Option       { return func(a *App) { a.pub = p } }

// New connects to every configured backend. ctx bounds background work
// started here (local timers and jobs); cancel it before Close.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, metrics: observe.DefaultMetrics()}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.cfg

	if a.store == nil {
		if cfg.Database.URL == "" {
			slog.Warn("DATABASE_URL not set, executions are kept in memory")
			a.store = execution.NewMemoryStore()
		} else {
			db, err := database.NewPool(ctx, cfg.Database)
			if err != nil {
				return err
			}
			a.db = db
			a.closers = append(a.closers, db.Close)
			if err := database.RunMigrations(ctx, db, migrationFS(cfg.Database.MigrationsPath)); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			a.store = execution.NewPostgresStore(db)
		}
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			if cfg.Workflow.Driver == "asynq" {
				return fmt.Errorf("redis required by asynq driver: %w", err)
			}
			slog.Warn("redis unavailable, running without cache", "error", err)
		} else {
			a.redis = rdb
			a.cache = cache.NewCache(rdb, redisKeyPrefix)
			a.closers = append(a.closers, func() { rdb.Close() })
		}
	} else if cfg.Workflow.Driver == "asynq" {
		return fmt.Errorf("REDIS_ADDR is required by the asynq driver")
	}

	if a.blobs == nil {
		switch cfg.Storage.Backend {
		case "memory":
			a.blobs = storage.NewMemoryStorage()
		default:
			a.blobs = storage.NewSupabaseStorage(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey)
		}
	}
	return nil
}

func migrationFS(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	if a.db != nil {
		a.history = audit.NewService(a.db)
	} else {
		a.history = audit.NewMemoryLog()
	}

	if a.cache != nil {
		a.jobs = transcribe.NewRedisJobStore(a.cache, jobRecordTTL)
	} else {
		a.jobs = transcribe.NewMemoryJobStore()
	}
	if a.stt == nil {
		a.stt = transcribe.NewWhisperTranscriber(cfg.STT)
	}
	a.runner = transcribe.NewRunner(a.jobs, a.blobs, a.stt)

	var (
		scheduler workflow.Scheduler
		enqueuer  transcribe.Enqueuer
	)
	switch cfg.Workflow.Driver {
	case "local":
		a.local = workflow.NewLocalScheduler(ctx)
		a.localQ = transcribe.NewLocalQueue(ctx, a.runner, cfg.Workflow.Concurrency, localAttempts)
		scheduler, enqueuer = a.local, a.localQ
	default:
		a.queue = queue.NewClient(cfg.Redis)
		a.closers = append(a.closers, func() { a.queue.Close() })
		scheduler, enqueuer = a.queue, a.queue
	}

	if a.model == nil {
		var model llm.Invoker = llm.NewClient(llm.NewGateway(cfg.LLM)).WithUsageRecorder(a.history)
		if cfg.LLM.StagePrompts {
			model = llm.NewStagedClient(model, a.blobs, a.stagingBucket())
		}
		a.model = model
	}
	if a.pub == nil {
		a.pub = a.publishers()
	}

	deps := workflow.Deps{
		Store:         a.store,
		Blobs:         a.blobs,
		Transcription: transcribe.NewService(a.jobs, enqueuer),
		Model:         a.model,
		Publisher:     a.pub,
		Scanner:       guardrails.DefaultPipeline(),
		Scheduler:     scheduler,
		Journal:       a.history,
		Metrics:       a.metrics,
	}
	var marker trigger.Marker
	if a.cache != nil {
		deps.Locker = cache.NewLeaser(a.cache)
		marker = cache.NewMarker(a.cache, cfg.Trigger.DedupTTL)
	}

	a.engine = workflow.New(workflow.ConfigFrom(cfg), deps)
	if a.local != nil {
		a.local.Handle(a.engine.Drive)
	}
	a.listener = trigger.NewListener(cfg.Trigger.Prefix, a.engine, marker)
	return nil
}

func (a *App) stagingBucket() string {
	if a.cfg.Workflow.OutputBucket != "" {
		return a.cfg.Workflow.OutputBucket
	}
	return a.cfg.Storage.Bucket
}

// publishers fans out to every configured channel and always logs.
func (a *App) publishers() notify.Multi {
	pubs := notify.Multi{notify.LogPublisher{}}
	if a.redis != nil && a.cfg.Notify.RedisChannel != "" {
		pubs = append(pubs, notify.NewRedisPublisher(a.redis, a.cfg.Notify.RedisChannel))
	}
	if a.cfg.Notify.WebhookURL != "" {
		var log notify.DeliveryLog
		if a.db != nil {
			log = notify.NewPostgresDeliveryLog(a.db)
		}
		pubs = append(pubs, notify.NewWebhookPublisher(a.cfg.Notify.WebhookURL, a.cfg.Notify.WebhookSecret, log))
	}
	return pubs
}

func (a *App) Engine() *workflow.Engine    { return a.engine }
func (a *App) Listener() *trigger.Listener { return a.listener }
func (a *App) Store() execution.Store      { return a.store }
func (a *App) Blobs() storage.Storage      { return a.blobs }
func (a *App) Local() bool                 { return a.local != nil }

// Handler builds the HTTP API.
func (a *App) Handler(ctx context.Context) http.Handler {
	ready := map[string]handlers.Pinger{}
	if a.db != nil {
		ready["database"] = a.db
	}
	if a.cache != nil {
		ready["redis"] = a.cache
	}
	rt := api.NewRouter(a.cfg, api.Deps{
		Executions: a.store,
		History:    a.history,
		Blobs:      a.blobs,
		Listener:   a.listener,
		Ready:      ready,
		Metrics:    a.metrics,
	})
	return rt.Setup(ctx)
}

// WorkerMux routes asynq tasks to the workflow and transcription workers.
func (a *App) WorkerMux() *asynq.ServeMux {
	reg := queue.NewHandlersRegistry()
	reg.Register(queue.TypeWorkflowAdvance, asynq.HandlerFunc(workers.NewWorkflowWorker(a.engine).ProcessTask))
	reg.Register(queue.TypeTranscriptionRun, asynq.HandlerFunc(workers.NewTranscriptionWorker(a.runner).ProcessTask))
	return reg.Mux()
}

// Resume reschedules executions left RUNNING by a previous process.
func (a *App) Resume(ctx context.Context) error {
	n, err := a.engine.ResumeAll(ctx)
	if err != nil {
		return fmt.Errorf("resume executions: %w", err)
	}
	slog.Info("executions resumed", "count", n)
	return nil
}

// Wait blocks until in-process timers and jobs have drained. Only meaningful
// for the local driver after its context is cancelled.
func (a *App) Wait() {
	if a.local != nil {
		a.local.Stop()
		a.local.Wait()
	}
	if a.localQ != nil {
		a.localQ.Wait()
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
