package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/taxiroutes/internal/booking/domain"
)

// DefaultIdempotencyTTL bounds how long a retried submission is recognised.
const DefaultIdempotencyTTL = 24 * time.Hour

type idemEntry struct {
	id      uuid.UUID
	expires time.Time
}

// MemoryIdempotency keeps idempotency keys in process.
type MemoryIdempotency struct {
	mu      sync.Mutex
	clock   domain.Clock
	ttl     time.Duration
	entries map[string]idemEntry
}

// NewMemoryIdempotency constructs the store.
func NewMemoryIdempotency(clock domain.Clock, ttl time.Duration) *MemoryIdempotency {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &MemoryIdempotency{clock: clock, ttl: ttl, entries: make(map[string]idemEntry)}
}

// Lookup returns the booking id stored for key.
func (m *MemoryIdempotency) Lookup(_ context.Context, key string) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return uuid.Nil, false, nil
	}
	if !m.clock.Now().Before(e.expires) {
		delete(m.entries, key)
		return uuid.Nil, false, nil
	}
	return e.id, true, nil
}

// Remember stores id under key. The first id wins.
func (m *MemoryIdempotency) Remember(_ context.Context, key string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	if _, ok := m.entries[key]; ok {
		return nil
	}
	m.entries[key] = idemEntry{id: id, expires: now.Add(m.ttl)}
	return nil
}

// RedisIdempotency shares idempotency keys across instances.
type RedisIdempotency struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotency constructs the store.
func NewRedisIdempotency(client redis.Cmdable, ttl time.Duration) *RedisIdempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotency{client: client, prefix: "idem:booking:", ttl: ttl}
}

func (r *RedisIdempotency) Lookup(ctx context.Context, key string) (uuid.UUID, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis get: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("idempotency value %q: %w", raw, err)
	}
	return id, true, nil
}

func (r *RedisIdempotency) Remember(ctx context.Context, key string, id uuid.UUID) error {
	if err := r.client.SetNX(ctx, r.prefix+key, id.String(), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	return nil
}
