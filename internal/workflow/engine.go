// Package workflow drives a speech-mentor execution through its state
// machine: start a transcription job, wait and poll until it finishes, then
// fork into transcript storage and the feedback/rewrite chain, and join on
// the combined result.
//
// Every transition is checkpointed to the execution store, so any process
// can pick an execution up again with Advance.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nikhilbhutani/speechmentor/internal/audit"
	"github.com/nikhilbhutani/speechmentor/internal/config"
	"github.com/nikhilbhutani/speechmentor/internal/execution"
	"github.com/nikhilbhutani/speechmentor/internal/guardrails"
	"github.com/nikhilbhutani/speechmentor/internal/llm"
	"github.com/nikhilbhutani/speechmentor/internal/notify"
	"github.com/nikhilbhutani/speechmentor/internal/observe"
	"github.com/nikhilbhutani/speechmentor/internal/prompt"
	"github.com/nikhilbhutani/speechmentor/internal/transcribe"
)

type BlobStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

type TranscriptionClient interface {
	Start(ctx context.Context, req transcribe.StartRequest) (string, error)
	Status(ctx context.Context, jobID string) (transcribe.JobStatus, error)
}

type ModelClient interface {
	Invoke(ctx context.Context, req llm.ChatRequest) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, msg notify.Message) error
}

// Scanner inspects a transcript and returns flags. It never blocks a run.
type Scanner interface {
	Scan(ctx context.Context, text string) (*guardrails.Result, error)
}

// Journal keeps the execution history. Failures to record are logged only.
type Journal interface {
	Record(ctx context.Context, e audit.Event) error
}

// Scheduler arranges for Drive(id) to be called at or after at.
type Scheduler interface {
	Schedule(ctx context.Context, id string, at time.Time) error
}

// Locker grants exclusive leases; release must be called when done.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type Config struct {
	PollInterval     time.Duration
	ExecutionTimeout time.Duration
	CallTimeout      time.Duration
	RetryAttempts    int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	LeaseTTL         time.Duration

	// OutputBucket receives transcripts; empty means the trigger's bucket.
	OutputBucket string
	LanguageCode string
	Model        string
	MaxTokens    int
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		PollInterval:     cfg.Workflow.PollInterval,
		ExecutionTimeout: cfg.Workflow.ExecutionTimeout,
		CallTimeout:      cfg.Workflow.CallTimeout,
		RetryAttempts:    cfg.Workflow.RetryAttempts,
		RetryBaseDelay:   cfg.Workflow.RetryBaseDelay,
		RetryMaxDelay:    cfg.Workflow.RetryMaxDelay,
		LeaseTTL:         cfg.Workflow.LeaseTTL,
		OutputBucket:     cfg.Workflow.OutputBucket,
		LanguageCode:     cfg.STT.LanguageCode,
		Model:            cfg.LLM.DefaultModel,
		MaxTokens:        cfg.LLM.MaxTokens,
	}
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = 2 * time.Hour
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 2 * time.Minute
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 1
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = time.Minute
	}
}

// Deps are the engine's collaborators. Scanner, Scheduler, Locker, Journal
// and Metrics are optional.
type Deps struct {
	Store         execution.Store
	Blobs         BlobStore
	Transcription TranscriptionClient
	Model         ModelClient
	Publisher     Publisher
	Scanner       Scanner
	Scheduler     Scheduler
	Locker        Locker
	Journal       Journal
	Metrics       *observe.Metrics
}

type Engine struct {
	cfg       Config
	store     execution.Store
	blobs     BlobStore
	stt       TranscriptionClient
	model     ModelClient
	publisher Publisher
	scanner   Scanner
	scheduler Scheduler
	locker    Locker
	journal   Journal
	metrics   *observe.Metrics
	prompts   prompt.Builder
	now       func() time.Time
}

func New(cfg Config, deps Deps) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:       cfg,
		store:     deps.Store,
		blobs:     deps.Blobs,
		stt:       deps.Transcription,
		model:     deps.Model,
		publisher: deps.Publisher,
		scanner:   deps.Scanner,
		scheduler: deps.Scheduler,
		locker:    deps.Locker,
		journal:   deps.Journal,
		metrics:   deps.Metrics,
		prompts:   prompt.Builder{Model: cfg.Model, MaxTokens: cfg.MaxTokens},
		now:       time.Now,
	}
}

// Outcome reports where Advance stopped.
type Outcome struct {
	Status execution.Status
	// ResumeAt is set when the execution is suspended in WAIT.
	ResumeAt time.Time
	// Busy means another worker holds the execution's lease.
	Busy bool
}

func (o Outcome) Done() bool { return o.Status.Terminal() }

// Start creates the execution for an uploaded object and schedules its first
// step. A second trigger for the same object returns the existing execution
// with created=false.
func (e *Engine) Start(ctx context.Context, bucket, objectKey string) (*execution.Execution, bool, error) {
	id := ExecutionID(bucket, objectKey)
	exec := &execution.Execution{
		ID:         id,
		SessionKey: SessionKey(objectKey),
		Status:     execution.StatusRunning,
		State:      string(StateStartTranscription),
		Context: execution.Context{
			Trigger: &execution.Trigger{Bucket: bucket, ObjectKey: objectKey},
		},
		StartedAt: e.now().UTC(),
	}

	created, err := e.store.Create(ctx, exec)
	if err != nil {
		return nil, false, fmt.Errorf("create execution: %w", err)
	}
	if !created {
		existing, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("load existing execution: %w", err)
		}
		slog.Info("duplicate trigger ignored", "execution_id", id, "status", existing.Status)
		// An execution that never took its first step may have lost its
		// initial wake-up; re-arm it.
		if e.scheduler != nil && existing.Status == execution.StatusRunning && State(existing.State) == StateStartTranscription {
			if err := e.scheduler.Schedule(ctx, id, e.now()); err != nil {
				return existing, false, fmt.Errorf("schedule execution: %w", err)
			}
		}
		return existing, false, nil
	}

	if e.metrics != nil {
		e.metrics.ExecutionsStarted.Add(ctx, 1)
	}
	slog.Info("execution started", "execution_id", id, "bucket", bucket, "object_key", objectKey)

	if e.scheduler != nil {
		if err := e.scheduler.Schedule(ctx, id, e.now()); err != nil {
			return exec, true, fmt.Errorf("schedule execution: %w", err)
		}
	}
	return exec, true, nil
}

// Advance runs transitions until the execution suspends or finishes. It is
// safe to call at any time; a WAIT that has not elapsed returns immediately.
// If ctx is cancelled the execution is left as last checkpointed and ctx's
// error is returned.
func (e *Engine) Advance(ctx context.Context, id string) (Outcome, error) {
	if e.locker != nil {
		release, ok, err := e.locker.Acquire(ctx, "execution:"+id, e.cfg.LeaseTTL)
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			return Outcome{Status: execution.StatusRunning, Busy: true}, nil
		}
		defer release()
	}

	exec, err := e.store.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if exec.Status.Terminal() {
		return Outcome{Status: exec.Status}, nil
	}
	// The output is already checkpointed; only the status write is missing.
	if State(exec.State) == StateSucceeded {
		return e.succeed(ctx, exec)
	}
	now := e.now()
	if State(exec.State) == StateWait && exec.ResumeAt != nil && now.Before(*exec.ResumeAt) {
		return Outcome{Status: exec.Status, ResumeAt: *exec.ResumeAt}, nil
	}

	deadline := exec.StartedAt.Add(e.cfg.ExecutionTimeout)
	if !now.Before(deadline) {
		return e.fail(ctx, exec, &StageError{Kind: execution.Timeout, Op: exec.State,
			Err: fmt.Errorf("budget of %s exceeded", e.cfg.ExecutionTimeout)})
	}

	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	r := &run{exec: exec}
	log := slog.With("execution_id", id)

	for {
		state := State(exec.State)
		stageCtx, span := observe.StartSpan(runCtx, "workflow."+string(state))
		started := time.Now()
		tr, err := e.step(stageCtx, r)
		span.End()
		if e.metrics != nil {
			e.metrics.RecordStage(ctx, string(state), time.Since(started))
		}

		if err != nil {
			if ctx.Err() != nil {
				log.Info("execution interrupted", "state", state, "error", ctx.Err())
				return Outcome{}, ctx.Err()
			}
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				err = &StageError{Kind: execution.Timeout, Op: string(state), Err: err}
			}
			return e.fail(ctx, exec, err)
		}

		log.Debug("transition", "from", state, "to", tr.Next, "delay", tr.Delay)

		switch tr.Next {
		case StateWait:
			resumeAt := e.now().Add(tr.Delay)
			if resumeAt.After(deadline) {
				resumeAt = deadline
			}
			if err := e.checkpoint(ctx, r, StateWait, &resumeAt); err != nil {
				return Outcome{}, err
			}
			return Outcome{Status: execution.StatusRunning, ResumeAt: resumeAt}, nil

		case StateSucceeded:
			if err := e.checkpoint(ctx, r, StateSucceeded, nil); err != nil {
				return Outcome{}, err
			}
			return e.succeed(ctx, exec)

		default:
			if err := e.checkpoint(ctx, r, tr.Next, nil); err != nil {
				return Outcome{}, err
			}
		}
	}
}

func (e *Engine) succeed(ctx context.Context, exec *execution.Execution) (Outcome, error) {
	if err := e.store.SetStatus(ctx, exec.ID, execution.StatusSucceeded, nil); err != nil {
		return Outcome{}, fmt.Errorf("mark succeeded: %w", err)
	}
	slog.Info("execution succeeded", "execution_id", exec.ID)
	e.journalEvent(ctx, exec.ID, audit.ActionSucceeded, string(StateSucceeded), nil)
	if e.metrics != nil {
		e.metrics.RecordFinished(ctx, string(execution.StatusSucceeded), "", time.Since(exec.StartedAt))
	}
	return Outcome{Status: execution.StatusSucceeded}, nil
}

func (e *Engine) checkpoint(ctx context.Context, r *run, next State, resumeAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exec.State = string(next)
	r.exec.ResumeAt = resumeAt
	if err := e.store.UpdateContext(ctx, r.exec.ID, r.exec.State, resumeAt, r.exec.Context); err != nil {
		return fmt.Errorf("checkpoint %s: %w", next, err)
	}
	var details map[string]interface{}
	if resumeAt != nil {
		details = map[string]interface{}{"resume_at": resumeAt.UTC().Format(time.RFC3339Nano)}
	}
	e.journalEvent(ctx, r.exec.ID, audit.ActionTransition, string(next), details)
	return nil
}

func (e *Engine) journalEvent(ctx context.Context, id, action, state string, details map[string]interface{}) {
	if e.journal == nil {
		return
	}
	ev := audit.Event{ExecutionID: id, Action: action, State: state, Details: details, CreatedAt: e.now().UTC()}
	if err := e.journal.Record(ctx, ev); err != nil {
		slog.Warn("failed to record execution event", "execution_id", id, "action", action, "error", err)
	}
}

func (e *Engine) fail(ctx context.Context, exec *execution.Execution, cause error) (Outcome, error) {
	kind := execution.InfrastructureError
	var se *StageError
	if errors.As(cause, &se) {
		kind = se.Kind
	}

	slog.Error("execution failed", "execution_id", exec.ID, "state", exec.State, "kind", kind, "error", cause)
	failure := &execution.Failure{Kind: kind, Message: FailureMessage(kind)}
	if err := e.store.SetStatus(ctx, exec.ID, execution.StatusFailed, failure); err != nil {
		return Outcome{}, fmt.Errorf("mark failed: %w", err)
	}
	e.journalEvent(ctx, exec.ID, audit.ActionFailed, exec.State, map[string]interface{}{"kind": string(kind)})
	if e.metrics != nil {
		e.metrics.RecordFinished(ctx, string(execution.StatusFailed), string(kind), time.Since(exec.StartedAt))
	}
	return Outcome{Status: execution.StatusFailed}, nil
}

// Drive advances the execution and schedules the next wake-up. This is what
// schedulers call.
func (e *Engine) Drive(ctx context.Context, id string) error {
	out, err := e.Advance(ctx, id)
	if err != nil {
		return err
	}
	if out.Done() || e.scheduler == nil {
		return nil
	}
	at := out.ResumeAt
	if out.Busy {
		at = e.now().Add(e.cfg.PollInterval)
	}
	return e.scheduler.Schedule(ctx, id, at)
}

// Run drives the execution in-process until it finishes, sleeping on a timer
// through each WAIT.
func (e *Engine) Run(ctx context.Context, id string) (*execution.Execution, error) {
	for {
		out, err := e.Advance(ctx, id)
		if err != nil {
			return nil, err
		}
		if out.Done() {
			return e.store.Get(ctx, id)
		}

		wait := e.cfg.PollInterval
		if !out.Busy {
			wait = time.Until(out.ResumeAt)
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// ResumeAll reschedules every RUNNING execution. Called at worker start so
// executions whose wake-ups were lost continue.
func (e *Engine) ResumeAll(ctx context.Context) (int, error) {
	if e.scheduler == nil {
		return 0, errors.New("resume: no scheduler configured")
	}
	ids, err := e.store.ListRunning(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		exec, err := e.store.Get(ctx, id)
		if err != nil {
			return 0, err
		}
		at := e.now()
		if exec.ResumeAt != nil && exec.ResumeAt.After(at) {
			at = *exec.ResumeAt
		}
		if err := e.scheduler.Schedule(ctx, id, at); err != nil {
			return 0, fmt.Errorf("resume %s: %w", id, err)
		}
	}
	if len(ids) > 0 {
		slog.Info("resumed running executions", "count", len(ids))
	}
	return len(ids), nil
}

// run is the in-memory view of one execution while it advances. mu guards
// exec against concurrent fork branches.
type run struct {
	mu   sync.Mutex
	exec *execution.Execution
}

// view returns a copy of the context for reading.
func (r *run) view() execution.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.Context
}
