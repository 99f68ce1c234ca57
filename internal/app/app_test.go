package app

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nikhilbhutani/speechmentor/internal/config"
	"github.com/nikhilbhutani/speechmentor/internal/execution"
	"github.com/nikhilbhutani/speechmentor/internal/llm"
	"github.com/nikhilbhutani/speechmentor/internal/notify"
	"github.com/nikhilbhutani/speechmentor/internal/trigger"
)

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(_ context.Context, media io.Reader, _, _ string) (string, error) {
	io.Copy(io.Discard, media)
	return "Good morning everyone, umm, today I want to talk about habits.", nil
}

type stubModel struct {
	mu    sync.Mutex
	calls int
}

func (m *stubModel) Invoke(_ context.Context, req llm.ChatRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(req.Messages) > 1 {
		return "A tighter version of the speech.", nil
	}
	return "Clear structure; cut the filler words", nil
}

type capturePublisher struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (p *capturePublisher) Publish(_ context.Context, msg notify.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func localConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Backend: "memory", Bucket: "speech"},
		Workflow: config.WorkflowConfig{
			Driver:           "local",
			PollInterval:     10 * time.Millisecond,
			ExecutionTimeout: time.Minute,
			CallTimeout:      time.Second,
			RetryAttempts:    2,
			RetryBaseDelay:   time.Millisecond,
			RetryMaxDelay:    time.Millisecond,
			Concurrency:      4,
		},
		Trigger: config.TriggerConfig{Prefix: "raw-audio-files/", DedupTTL: time.Hour},
		STT:     config.STTConfig{LanguageCode: "en-US"},
		LLM:     config.LLMConfig{DefaultModel: "claude-3-5-sonnet-20240620", MaxTokens: 4000},
	}
}

func TestApp_LocalDriverEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &stubModel{}
	pub := &capturePublisher{}
	a, err := New(ctx, localConfig(), WithTranscriber(stubTranscriber{}), WithModel(model), WithPublisher(pub))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		cancel()
		a.Wait()
		a.Close()
	}()

	key := "raw-audio-files/sess/talk.mp3"
	if err := a.Blobs().Put(ctx, "speech", key, []byte("audio"), "audio/mpeg"); err != nil {
		t.Fatal(err)
	}
	res, err := a.Listener().Handle(ctx, trigger.Event{Bucket: "speech", ObjectKey: key})
	if err != nil || !res.Created {
		t.Fatalf("Handle = %+v, %v", res, err)
	}

	var got *execution.Execution
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err = a.Store().Get(ctx, res.ExecutionID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("execution stuck in %s", got.State)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got.Status != execution.StatusSucceeded {
		t.Fatalf("status = %s, failure = %+v", got.Status, got.Failure)
	}
	if got.Context.FinalOutput == nil || !strings.Contains(*got.Context.FinalOutput, "A tighter version") {
		t.Errorf("final output = %v", got.Context.FinalOutput)
	}
	if model.calls != 2 {
		t.Errorf("model calls = %d, want 2", model.calls)
	}
	// The SUCCEEDED transition is journaled before the status flips.
	events, _ := a.history.History(ctx, got.ID)
	found := false
	for _, ev := range events {
		found = found || ev.State == "SUCCEEDED"
	}
	if !found {
		t.Errorf("history = %+v", events)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.msgs) != 1 || pub.msgs[0].SessionKey != "sess" {
		t.Errorf("published = %+v", pub.msgs)
	}
}

func TestApp_AsynqDriverNeedsRedis(t *testing.T) {
	cfg := localConfig()
	cfg.Workflow.Driver = "asynq"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected error without REDIS_ADDR")
	}
}

func TestApp_ModelStagingWrapsClient(t *testing.T) {
	cfg := localConfig()
	cfg.LLM.StagePrompts = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, cfg, WithTranscriber(stubTranscriber{}))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if _, ok := a.model.(*llm.StagedClient); !ok {
		t.Errorf("model = %T, want *llm.StagedClient", a.model)
	}
}
