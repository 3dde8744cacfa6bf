package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupeTTL bounds how long a delivered-payload marker survives in Redis —
// long enough to cover the reconciliation job's rescue window, short enough
// not to grow unbounded.
const DedupeTTL = 7 * 24 * time.Hour

// RedisDeduper implements Deduper against a Redis SET NX, giving delivery
// dedupe that survives a process restart (the in-process queue does not).
type RedisDeduper struct {
	client *redis.Client
}

// NewRedisDeduper builds a RedisDeduper from an address (host:port), the
// same connection convention internal/config.Config.RedisAddr carries.
func NewRedisDeduper(addr string) *RedisDeduper {
	return &RedisDeduper{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *RedisDeduper) MarkDelivered(ctx context.Context, id string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(id), 1, DedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark webhook delivery in redis: %w", err)
	}
	// SetNX reports whether the key was newly set; it was already delivered
	// when it was NOT newly set.
	return !ok, nil
}

func (r *RedisDeduper) IsDelivered(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check webhook delivery in redis: %w", err)
	}
	return n > 0, nil
}

func (r *RedisDeduper) key(id string) string {
	return "controlplane:webhook:delivered:" + id
}

// Close releases the underlying Redis connection pool.
func (r *RedisDeduper) Close() error {
	return r.client.Close()
}

// memoryDeduper is a process-local Deduper for tests and for running
// without Redis configured (at the cost of losing dedupe across restarts).
type memoryDeduper struct {
	seen map[string]struct{}
}

// NewMemoryDeduper builds a Deduper with no cross-restart persistence.
func NewMemoryDeduper() Deduper {
	return &memoryDeduper{seen: make(map[string]struct{})}
}

func (m *memoryDeduper) MarkDelivered(_ context.Context, id string) (bool, error) {
	if _, ok := m.seen[id]; ok {
		return true, nil
	}
	m.seen[id] = struct{}{}
	return false, nil
}

func (m *memoryDeduper) IsDelivered(_ context.Context, id string) (bool, error) {
	_, ok := m.seen[id]
	return ok, nil
}
