package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryKV provides an in-memory KV for development and testing.
type MemoryKV struct {
	mu        sync.RWMutex
	clock     func() time.Time
	values    map[string][]byte
	deadlines map[string]time.Time
}

// NewMemoryKV initializes an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		clock:     time.Now,
		values:    make(map[string][]byte),
		deadlines: make(map[string]time.Time),
	}
}

// SetClock replaces the time source, for tests driving TTL expiry.
func (m *MemoryKV) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.values[key]
	if !ok {
		return nil, &NotFoundError{Resource: "key", Key: key}
	}
	if deadline, ok := m.deadlines[key]; ok && !m.clock().Before(deadline) {
		delete(m.values, key)
		delete(m.deadlines, key)
		return nil, &NotFoundError{Resource: "key", Key: key}
	}
	return append([]byte{}, value...), nil
}

func (m *MemoryKV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = append([]byte{}, value...)
	if ttl > 0 {
		m.deadlines[key] = m.clock().Add(ttl)
	} else {
		delete(m.deadlines, key)
	}
	return nil
}

func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	delete(m.deadlines, key)
	return nil
}

// Len reports the number of live keys, for tests.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
