package throttle

import (
	"context"
	"sync"
	"time"
)

// MemoryThrottle keeps cooldowns in process memory, for single-instance runs and tests.
type MemoryThrottle struct {
	mu       sync.Mutex
	last     map[string]time.Time
	cooldown time.Duration
	now      func() time.Time
}

// NewMemoryThrottle constructs the throttle. now defaults to time.Now.
func NewMemoryThrottle(cooldown time.Duration, now func() time.Time) *MemoryThrottle {
	if now == nil {
		now = time.Now
	}
	return &MemoryThrottle{last: make(map[string]time.Time), cooldown: cooldown, now: now}
}

// CheckAndRecord implements Throttle.
func (m *MemoryThrottle) CheckAndRecord(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if last, ok := m.last[key]; ok {
		if elapsed := now.Sub(last); elapsed < m.cooldown {
			return Decision{Remaining: m.cooldown - elapsed}, nil
		}
	}
	m.last[key] = now
	m.evictExpired(now)
	return Decision{Allowed: true}, nil
}

// Reset implements Throttle.
func (m *MemoryThrottle) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.last, key)
	return nil
}

func (m *MemoryThrottle) evictExpired(now time.Time) {
	if len(m.last) < 1024 {
		return
	}
	for k, t := range m.last {
		if now.Sub(t) >= m.cooldown {
			delete(m.last, k)
		}
	}
}
