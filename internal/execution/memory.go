package execution

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*Execution
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Execution)}
}

func (s *MemoryStore) Create(_ context.Context, e *Execution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[e.ID]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	if e.StartedAt.IsZero() {
		e.StartedAt = now
	}
	if e.Status == "" {
		e.Status = StatusRunning
	}
	e.UpdatedAt = now
	s.rows[e.ID] = copyExecution(e)
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyExecution(e), nil
}

func (s *MemoryStore) UpdateContext(_ context.Context, id, state string, resumeAt *time.Time, c Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status.Terminal() {
		return ErrTerminal
	}
	e.State = state
	e.ResumeAt = copyTime(resumeAt)
	e.Context = c.Clone()
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, status Status, failure *Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status.Terminal() {
		return ErrTerminal
	}
	now := time.Now().UTC()
	e.Status = status
	e.ResumeAt = nil
	if failure != nil {
		f := *failure
		e.Failure = &f
	}
	if status.Terminal() {
		e.EndedAt = &now
	}
	e.UpdatedAt = now
	return nil
}

// RunningForSession returns the most recently started RUNNING execution for
// the session.
func (s *MemoryStore) RunningForSession(_ context.Context, sessionKey string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Execution
	for _, e := range s.rows {
		if e.SessionKey != sessionKey || e.Status != StatusRunning {
			continue
		}
		if best == nil || e.StartedAt.After(best.StartedAt) {
			best = e
		}
	}
	if best == nil {
		return "", false, nil
	}
	return best.ID, true, nil
}

func (s *MemoryStore) ListRunning(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, e := range s.rows {
		if e.Status == StatusRunning {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func copyExecution(e *Execution) *Execution {
	out := *e
	out.Context = e.Context.Clone()
	out.ResumeAt = copyTime(e.ResumeAt)
	out.EndedAt = copyTime(e.EndedAt)
	if e.Failure != nil {
		f := *e.Failure
		out.Failure = &f
	}
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
