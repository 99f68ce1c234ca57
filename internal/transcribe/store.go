package transcribe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nikhilbhutani/speechmentor/internal/cache"
)

// RedisJobStore keeps job records in Redis with a retention TTL.
type RedisJobStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewRedisJobStore(c *cache.Cache, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{cache: c, ttl: ttl}
}

func jobKey(name string) string { return "transcribe:job:" + name }

func (s *RedisJobStore) Create(ctx context.Context, job *Job) (bool, error) {
	return s.cache.SetNX(ctx, jobKey(job.Name), job, s.ttl)
}

func (s *RedisJobStore) Get(ctx context.Context, name string) (*Job, error) {
	var job Job
	if err := s.cache.Get(ctx, jobKey(name), &job); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *RedisJobStore) Put(ctx context.Context, job *Job) error {
	return s.cache.Set(ctx, jobKey(job.Name), job, s.ttl)
}

type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]Job)}
}

func (s *MemoryJobStore) Create(_ context.Context, job *Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return false, nil
	}
	s.jobs[job.Name] = *job
	return true, nil
}

func (s *MemoryJobStore) Get(_ context.Context, name string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[name]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (s *MemoryJobStore) Put(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = *job
	return nil
}
