package execution

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	e := &Execution{ID: "a", SessionKey: "s1", State: "START_TRANSCRIPTION",
		Context: Context{Trigger: &Trigger{Bucket: "b", ObjectKey: "raw-audio-files/s1/x.mp3"}}}
	created, err := s.Create(ctx, e)
	if err != nil || !created {
		t.Fatalf("Create = %v, %v", created, err)
	}

	dup := &Execution{ID: "a", SessionKey: "other", State: "WAIT"}
	created, err = s.Create(ctx, dup)
	if err != nil || created {
		t.Fatalf("duplicate Create = %v, %v", created, err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionKey != "s1" || got.State != "START_TRANSCRIPTION" || got.Status != StatusRunning {
		t.Errorf("stored row changed by duplicate: %+v", got)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Create(ctx, &Execution{ID: "a", Context: Context{Transcript: &Transcript{Text: "hi"}}})

	got, _ := s.Get(ctx, "a")
	got.Context.Transcript.Text = "mutated"

	again, _ := s.Get(ctx, "a")
	if again.Context.Transcript.Text != "hi" {
		t.Errorf("store shares memory with caller")
	}
}

func TestMemoryStore_TerminalIsFinal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Create(ctx, &Execution{ID: "a"})

	if err := s.SetStatus(ctx, "a", StatusFailed, &Failure{Kind: Timeout, Message: "m"}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "a")
	if got.EndedAt == nil || got.Failure == nil || got.Failure.Kind != Timeout {
		t.Errorf("terminal row = %+v", got)
	}

	if err := s.SetStatus(ctx, "a", StatusSucceeded, nil); !errors.Is(err, ErrTerminal) {
		t.Errorf("SetStatus after terminal = %v, want ErrTerminal", err)
	}
	if err := s.UpdateContext(ctx, "a", "WAIT", nil, Context{}); !errors.Is(err, ErrTerminal) {
		t.Errorf("UpdateContext after terminal = %v, want ErrTerminal", err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v", err)
	}
}

func TestMemoryStore_RunningForSession(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()
	_, _ = s.Create(ctx, &Execution{ID: "old", SessionKey: "s", StartedAt: base})
	_, _ = s.Create(ctx, &Execution{ID: "new", SessionKey: "s", StartedAt: base.Add(time.Minute)})
	_, _ = s.Create(ctx, &Execution{ID: "other", SessionKey: "t", StartedAt: base})

	id, ok, err := s.RunningForSession(ctx, "s")
	if err != nil || !ok || id != "new" {
		t.Fatalf("RunningForSession = %q, %v, %v", id, ok, err)
	}

	_ = s.SetStatus(ctx, "new", StatusSucceeded, nil)
	id, ok, _ = s.RunningForSession(ctx, "s")
	if !ok || id != "old" {
		t.Errorf("after finish = %q, %v", id, ok)
	}

	running, _ := s.ListRunning(ctx)
	if len(running) != 2 || running[0] != "old" || running[1] != "other" {
		t.Errorf("ListRunning = %v", running)
	}

	if _, ok, _ := s.RunningForSession(ctx, "nobody"); ok {
		t.Error("expected no running execution")
	}
}

func TestStatus_DisplayStatus(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusRunning, "Running"},
		{StatusSucceeded, "Succeeded"},
		{StatusFailed, "Failed"},
		{"", "Not started"},
	}
	for _, tt := range tests {
		if got := tt.status.DisplayStatus(); got != tt.want {
			t.Errorf("%q.DisplayStatus() = %q, want %q", tt.status, got, tt.want)
		}
	}
}
