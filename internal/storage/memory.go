package storage

import (
	"context"
	"sync"

	"github.com/beaconkit/beacon-go/event"
)

// Memory is an in-memory Store for tests and ephemeral clients.
// It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	kv     map[string][]byte
	queue  []event.Event
	closed bool
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{kv: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.kv[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.kv[key] = v
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.kv, key)
	return nil
}

func (m *Memory) AppendEvent(ctx context.Context, e event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.queue = append(m.queue, e)
	return nil
}

func (m *Memory) Events(ctx context.Context) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if len(m.queue) == 0 {
		return nil, nil
	}
	return append([]event.Event(nil), m.queue...), nil
}

func (m *Memory) RemoveEvents(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if len(ids) == 0 {
		return nil
	}

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	kept := m.queue[:0]
	for _, e := range m.queue {
		if _, ok := drop[e.ID]; !ok {
			kept = append(kept, e)
		}
	}
	m.queue = kept
	return nil
}

func (m *Memory) CountEvents(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.queue), nil
}

func (m *Memory) PruneEvents(ctx context.Context, max int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if max < 0 {
		max = 0
	}
	if len(m.queue) <= max {
		return 0, nil
	}
	evicted := len(m.queue) - max
	m.queue = append([]event.Event(nil), m.queue[evicted:]...)
	return evicted, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
