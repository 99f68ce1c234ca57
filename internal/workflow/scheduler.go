package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LocalScheduler wakes executions with in-process timers. Pending wake-ups
// are lost on restart; ResumeAll recovers them.
type LocalScheduler struct {
	mu      sync.Mutex
	ctx     context.Context
	handler func(ctx context.Context, id string) error
	timers  map[string]*time.Timer
	wg      sync.WaitGroup
}

// NewLocalScheduler creates a scheduler whose callbacks run under ctx.
func NewLocalScheduler(ctx context.Context) *LocalScheduler {
	return &LocalScheduler{ctx: ctx, timers: make(map[string]*time.Timer)}
}

// Handle sets the function called when a wake-up fires, usually Engine.Drive.
func (s *LocalScheduler) Handle(fn func(ctx context.Context, id string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// Schedule replaces any pending wake-up for id.
func (s *LocalScheduler) Schedule(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		if t.Stop() {
			s.wg.Done()
		}
	}
	s.wg.Add(1)
	s.timers[id] = time.AfterFunc(time.Until(at), func() {
		defer s.wg.Done()
		s.fire(id)
	})
	return nil
}

func (s *LocalScheduler) fire(id string) {
	s.mu.Lock()
	handler := s.handler
	delete(s.timers, id)
	s.mu.Unlock()

	if handler == nil || s.ctx.Err() != nil {
		return
	}
	if err := handler(s.ctx, id); err != nil && s.ctx.Err() == nil {
		slog.Error("scheduled advance failed", "execution_id", id, "error", err)
	}
}

// Stop cancels every pending wake-up. Wake-ups already running finish.
func (s *LocalScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
}

// Wait blocks until no wake-ups are pending or running.
func (s *LocalScheduler) Wait() {
	s.wg.Wait()
}
