package queue

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/speechmentor/internal/config"
)

func TestWakeup(t *testing.T) {
	base := time.Unix(1700000000, 0)
	tests := []struct {
		name    string
		at      time.Time
		current string
		wantID  string
		wantAt  time.Time
	}{
		{"whole second", base, "", "exec-1@1700000000", base},
		{"rounds up", base.Add(250 * time.Millisecond), "", "exec-1@1700000001", base.Add(time.Second)},
		{"other task running", base, "exec-1@1699999990", "exec-1@1700000000", base},
		{"self reschedule", base.Add(10 * time.Millisecond), "exec-1@1700000001", "exec-1@1700000002", base.Add(2 * time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, at := wakeup("exec-1", tt.at, tt.current)
			if id != tt.wantID {
				t.Errorf("id = %q, want %q", id, tt.wantID)
			}
			if !at.Equal(tt.wantAt) {
				t.Errorf("at = %v, want %v", at, tt.wantAt)
			}
			if at.Before(tt.at) {
				t.Errorf("process time %v precedes requested %v", at, tt.at)
			}
		})
	}
}

func TestClient_RescheduleFromActiveTask(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	redisCfg := config.RedisConfig{Addr: addr}
	c := NewClient(redisCfg)
	defer c.Close()
	inspector := asynq.NewInspector(RedisOpt(redisCfg))
	defer inspector.Close()

	id := "exec-" + uuid.NewString()
	at := time.Now()
	done := make(chan error, 1)
	var runs atomic.Int32

	reg := NewHandlersRegistry()
	reg.Register(TypeWorkflowAdvance, asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		var p WorkflowAdvancePayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil || p.ExecutionID != id {
			return nil
		}
		if runs.Add(1) > 1 {
			return nil
		}
		// Same wake-up as the running task, as after an early delivery.
		done <- c.Schedule(ctx, id, at)
		return nil
	}))
	srv := NewServer(redisCfg, 1)
	if err := srv.Start(reg.Mux()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Shutdown()

	if err := c.Schedule(context.Background(), id, at); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("reschedule: %v", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("task never ran")
	}

	scheduled, err := inspector.ListScheduledTasks(QueueCritical)
	if err != nil {
		t.Fatal(err)
	}
	pending, err := inspector.ListPendingTasks(QueueCritical)
	if err != nil {
		t.Fatal(err)
	}
	found := 0
	tasks := append(scheduled, pending...)
	for _, ti := range tasks {
		if strings.HasPrefix(ti.ID, id+"@") {
			found++
			_ = inspector.DeleteTask(QueueCritical, ti.ID)
		}
	}
	if found != 1 && runs.Load() < 2 {
		t.Errorf("scheduled wake-ups for %s = %d, want 1", id, found)
	}
}
