// Package session owns the session lifecycle: one active session at a time,
// renewed after an inactivity timeout, persisted so it survives restarts.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beaconkit/beacon-go/internal/storage"
)

// Record is the persisted session state. Exactly one record exists at a
// time; it is replaced wholesale when the session renews.
type Record struct {
	ID             string    `json:"sessionId"`
	StartedAt      time.Time `json:"startTime"`
	LastActivityAt time.Time `json:"lastActivityTime"`
}

// Duration returns the session length as observed so far.
func (r Record) Duration() time.Duration {
	return r.LastActivityAt.Sub(r.StartedAt)
}

// StartFunc is invoked after a new session has been persisted.
type StartFunc func(rec Record)

// EndFunc is invoked when a session ends, with its total duration.
type EndFunc func(rec Record, duration time.Duration)

// Manager is the session state machine. All methods are safe for
// concurrent use. Storage failures are logged and degrade to in-memory
// state; they never propagate.
type Manager struct {
	kv      storage.KV
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	current *Record
	onStart []StartFunc
	onEnd   []EndFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock sets the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager over the given key/value store.
// Call Initialize before stamping events.
func NewManager(kv storage.KV, timeout time.Duration, opts ...Option) *Manager {
	m := &Manager{
		kv:      kv,
		timeout: timeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnStart registers a session-start callback. Register before Initialize.
func (m *Manager) OnStart(fn StartFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStart = append(m.onStart, fn)
}

// OnEnd registers a session-end callback. Register before Initialize.
func (m *Manager) OnEnd(fn EndFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = append(m.onEnd, fn)
}

// Initialize loads the persisted session record. A fresh record is started
// when none exists; a stale one is ended (emitting the end callback) and
// replaced; a live one is resumed with its activity timestamp updated.
func (m *Manager) Initialize(ctx context.Context) Record {
	m.mu.Lock()
	persisted := m.load(ctx)
	now := m.now()

	var fire []func()
	var rec Record

	switch {
	case persisted == nil:
		rec = m.startLocked(ctx, now, &fire)
	case now.Sub(persisted.LastActivityAt) < m.timeout:
		persisted.LastActivityAt = now
		m.current = persisted
		m.persist(ctx, *persisted)
		rec = *persisted
	default:
		m.endLocked(*persisted, &fire)
		rec = m.startLocked(ctx, now, &fire)
	}
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
	return rec
}

// Touch records activity. A session stale past the timeout is ended and a
// new one started before the activity is recorded, so the returned record
// always reflects the session the caller must stamp with.
func (m *Manager) Touch(ctx context.Context) Record {
	m.mu.Lock()
	now := m.now()

	var fire []func()
	var rec Record

	switch {
	case m.current == nil:
		rec = m.startLocked(ctx, now, &fire)
	case now.Sub(m.current.LastActivityAt) >= m.timeout:
		m.endLocked(*m.current, &fire)
		rec = m.startLocked(ctx, now, &fire)
	default:
		m.current.LastActivityAt = now
		m.persist(ctx, *m.current)
		rec = *m.current
	}
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
	return rec
}

// Renew force-ends the current session (if any) and starts a new one.
func (m *Manager) Renew(ctx context.Context) Record {
	m.mu.Lock()
	now := m.now()

	var fire []func()
	if m.current != nil {
		m.endLocked(*m.current, &fire)
	}
	rec := m.startLocked(ctx, now, &fire)
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
	return rec
}

// Current returns the active session record, if any.
func (m *Manager) Current() (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Record{}, false
	}
	return *m.current, true
}

// startLocked creates, persists and adopts a new session. The record is
// persisted before any callback fires. Must be called with mu held.
func (m *Manager) startLocked(ctx context.Context, now time.Time, fire *[]func()) Record {
	rec := Record{
		ID:             uuid.NewString(),
		StartedAt:      now,
		LastActivityAt: now,
	}
	m.current = &rec
	m.persist(ctx, rec)

	for _, fn := range m.onStart {
		fn := fn
		*fire = append(*fire, func() { m.safely("session-start", func() { fn(rec) }) })
	}
	return rec
}

// endLocked queues the end callbacks for a session. Must be called with mu held.
func (m *Manager) endLocked(rec Record, fire *[]func()) {
	m.current = nil
	duration := rec.Duration()
	for _, fn := range m.onEnd {
		fn := fn
		*fire = append(*fire, func() { m.safely("session-end", func() { fn(rec, duration) }) })
	}
}

// safely runs a callback, recovering and logging any panic. Callback
// failures never interrupt a session transition.
func (m *Manager) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session callback panicked", "kind", kind, "panic", r)
		}
	}()
	fn()
}

func (m *Manager) load(ctx context.Context) *Record {
	data, err := m.kv.Get(ctx, storage.KeySessionData)
	if err != nil {
		m.logger.Warn("failed to load session record", "error", err)
		return nil
	}
	if data == nil {
		return nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		m.logger.Warn("session record is corrupt, starting fresh", "error", err)
		return nil
	}
	if rec.ID == "" {
		return nil
	}
	return &rec
}

func (m *Manager) persist(ctx context.Context, rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		m.logger.Warn("failed to marshal session record", "error", err)
		return
	}
	if err := m.kv.Set(ctx, storage.KeySessionData, data); err != nil {
		m.logger.Warn("failed to persist session record", "error", err)
	}
}
