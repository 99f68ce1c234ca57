package execution

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/speechmentor/internal/database"
	"github.com/nikhilbhutani/speechmentor/migrations"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := database.RunMigrations(ctx, pool, migrations.FS); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func TestPostgresStore_Lifecycle(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	s := NewPostgresStore(pool)

	id := uuid.NewString()
	session := "session-" + id
	created, err := s.Create(ctx, &Execution{ID: id, SessionKey: session, State: "START_TRANSCRIPTION",
		Context: Context{Trigger: &Trigger{Bucket: "b", ObjectKey: "raw-audio-files/x.mp3"}}})
	if err != nil || !created {
		t.Fatalf("Create = %v, %v", created, err)
	}
	if created, _ := s.Create(ctx, &Execution{ID: id}); created {
		t.Fatal("duplicate Create reported created")
	}

	resume := time.Now().Add(10 * time.Second).UTC().Truncate(time.Microsecond)
	c := Context{
		Trigger:       &Trigger{Bucket: "b", ObjectKey: "raw-audio-files/x.mp3"},
		Transcription: &Transcription{JobID: "j", Status: "IN_PROGRESS", Polls: 1},
	}
	if err := s.UpdateContext(ctx, id, "WAIT", &resume, c); err != nil {
		t.Fatalf("UpdateContext: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != "WAIT" || got.ResumeAt == nil || !got.ResumeAt.Equal(resume) {
		t.Errorf("state/resume = %s %v", got.State, got.ResumeAt)
	}
	if got.Context.Transcription == nil || got.Context.Transcription.Polls != 1 {
		t.Errorf("context = %+v", got.Context)
	}

	if rid, ok, _ := s.RunningForSession(ctx, session); !ok || rid != id {
		t.Errorf("RunningForSession = %q, %v", rid, ok)
	}

	if err := s.SetStatus(ctx, id, StatusFailed, &Failure{Kind: TranscriptionFailed, Message: "m"}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, id)
	if got.Status != StatusFailed || got.Failure == nil || got.Failure.Kind != TranscriptionFailed || got.EndedAt == nil {
		t.Errorf("terminal row = %+v", got)
	}
	if err := s.UpdateContext(ctx, id, "POLL_STATUS", nil, c); !errors.Is(err, ErrTerminal) {
		t.Errorf("update after terminal = %v", err)
	}
	if _, err := s.Get(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v", err)
	}
}
