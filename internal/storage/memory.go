package storage

import (
	"context"
	"sync"
)

// MemoryStorage keeps objects in process memory. It backs local development
// and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
	puts    map[string]int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string][]byte),
		puts:    make(map[string]int),
	}
}

func (m *MemoryStorage) Put(_ context.Context, bucket, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[bucket+"/"+key] = cp
	m.puts[bucket+"/"+key]++
	return nil
}

func (m *MemoryStorage) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// PutCount reports how many times bucket/key was written.
func (m *MemoryStorage) PutCount(bucket, key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts[bucket+"/"+key]
}
