package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key does not exist.
var ErrMiss = errors.New("cache miss")

type Cache struct {
	client *redis.Client
	prefix string
}

func NewCache(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	return json.Unmarshal(val, dest)
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Del(ctx, full...).Err()
}

func (c *Cache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal value: %w", err)
	}
	ok, err := c.client.SetNX(ctx, c.key(key), data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache setnx %s: %w", key, err)
	}
	return ok, nil
}

// Marker records "seen" keys for a bounded time. The trigger listener uses it
// to drop re-delivered object-created events before they reach Postgres.
type Marker struct {
	cache *Cache
	ttl   time.Duration
}

func NewMarker(c *Cache, ttl time.Duration) *Marker {
	return &Marker{cache: c, ttl: ttl}
}

// Mark returns true when key had not been marked before.
func (m *Marker) Mark(ctx context.Context, key string) (bool, error) {
	return m.cache.SetNX(ctx, "seen:"+key, time.Now().Unix(), m.ttl)
}

func (m *Marker) Unmark(ctx context.Context, key string) error {
	return m.cache.Delete(ctx, "seen:"+key)
}

// releaseScript deletes the lease only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only when it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Leaser hands out exclusive leases so two workers never advance the same
// execution at once. A held lease is renewed every ttl/3 until released, so
// ttl bounds how long a crashed holder blocks others, not how long work may
// take.
type Leaser struct {
	cache *Cache
}

func NewLeaser(c *Cache) *Leaser {
	return &Leaser{cache: c}
}

func (l *Leaser) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	full := l.cache.key("lease:" + key)
	ok, err := l.cache.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(full, token, ttl, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's ctx may already be cancelled on shutdown.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.cache.client, []string{full}, token).Err()
		})
	}
	return release, true, nil
}

func (l *Leaser) renew(full, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := ttl / 3
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		rctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := renewScript.Run(rctx, l.cache.client, []string{full}, token, ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			slog.Warn("lease renewal failed", "key", full, "error", err)
			continue
		}
		if n == 0 {
			slog.Warn("lease lost", "key", full)
			return
		}
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
