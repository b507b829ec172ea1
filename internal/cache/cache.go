// Package cache provides the read-side cache used to serve ticket lists and
// details without a store round-trip. Entries are namespaced by a generation
// counter: every successful mutation bumps the generation, which makes all
// earlier entries unreachable at once. Mutations never read from the cache.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Store is the byte-level backend of the cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Close() error
}

type entry struct {
	val     []byte
	expires time.Time // zero means no expiry
}

// Memory is an in-process Store. It is the default when no Redis address is
// configured and the backend used in tests.
type Memory struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.data, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.val))
	copy(out, e.val)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.data[key] = e
	m.sweepLocked()
	return nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if e, ok := m.data[key]; ok {
		n, _ = strconv.ParseInt(string(e.val), 10, 64)
	}
	n++
	m.data[key] = entry{val: []byte(strconv.FormatInt(n, 10))}
	return n, nil
}

func (m *Memory) Close() error { return nil }

// sweepLocked drops expired entries once the map grows past a soft bound.
func (m *Memory) sweepLocked() {
	if len(m.data) < 1024 {
		return
	}
	now := m.now()
	for k, e := range m.data {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(m.data, k)
		}
	}
}
