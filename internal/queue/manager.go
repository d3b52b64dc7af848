// Package queue orchestrates the persisted event queue: enqueue,
// capacity- and timer-triggered flushes, and reconciliation of the stored
// queue against what the transport reports as acknowledged.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beaconkit/beacon-go/event"
)

// EventStore is the slice of the durable store the manager needs.
type EventStore interface {
	AppendEvent(ctx context.Context, e event.Event) error
	Events(ctx context.Context) ([]event.Event, error)
	RemoveEvents(ctx context.Context, ids []string) error
	CountEvents(ctx context.Context) (int, error)
	PruneEvents(ctx context.Context, max int) (int, error)
}

// Delivery sends events and returns the IDs acknowledged by the collector.
type Delivery interface {
	SendBatch(ctx context.Context, events []event.Event) []string
}

// Config bounds the queue.
type Config struct {
	// MaxQueueSize is the queued-event count that triggers an automatic
	// flush. It is a flush trigger, not a cap: enqueue never rejects.
	MaxQueueSize int
	// MaxStoredEvents is the retention hard cap; oldest events past it are
	// evicted. Zero disables pruning.
	MaxStoredEvents int
	// FlushInterval is the periodic flush cadence.
	FlushInterval time.Duration
}

// Manager owns the persisted queue. The store is the only place events
// exist between creation and acknowledged delivery; an event reaches
// durable storage before any flush decision is made.
type Manager struct {
	store    EventStore
	delivery Delivery
	cfg      Config
	logger   *slog.Logger

	flushing atomic.Bool
	started  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	// flushCtx bounds capacity-triggered background flushes; cancelled on
	// Shutdown so they cannot outlive the manager and starve the final
	// flush.
	flushCtx    context.Context
	flushCancel context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a queue manager. Call Run to start the periodic
// flush loop.
func NewManager(store EventStore, delivery Delivery, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		delivery: delivery,
		cfg:      cfg,
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	m.flushCtx, m.flushCancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue appends an event to the persisted queue. Fail-soft: a storage
// fault is logged and the event is lost, nothing propagates. Reaching the
// configured queue size triggers a flush, fire-and-forget with respect to
// the caller.
func (m *Manager) Enqueue(ctx context.Context, e event.Event) {
	if err := m.store.AppendEvent(ctx, e); err != nil {
		m.logger.Warn("failed to persist event", "event", e.Name, "error", err)
		return
	}

	if m.cfg.MaxStoredEvents > 0 {
		evicted, err := m.store.PruneEvents(ctx, m.cfg.MaxStoredEvents)
		if err != nil {
			m.logger.Warn("failed to prune queue", "error", err)
		} else if evicted > 0 {
			m.logger.Warn("queue over retention cap, evicted oldest events",
				"evicted", evicted, "cap", m.cfg.MaxStoredEvents)
		}
	}

	count, err := m.store.CountEvents(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue length", "error", err)
		return
	}
	if count >= m.cfg.MaxQueueSize {
		go m.Flush(m.flushCtx)
	}
}

// Flush attempts delivery of the entire persisted queue. Mutually
// exclusive: a concurrent call returns immediately without effect. Only
// events acknowledged by the collector are removed from storage; the rest
// stay for the next cycle.
func (m *Manager) Flush(ctx context.Context) {
	if !m.flushing.CompareAndSwap(false, true) {
		m.logger.Debug("flush already in progress, skipping")
		return
	}
	defer m.flushing.Store(false)

	events, err := m.store.Events(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	acked := m.delivery.SendBatch(ctx, events)
	if len(acked) == 0 {
		m.logger.Debug("flush delivered nothing", "pending", len(events))
		return
	}

	if err := m.store.RemoveEvents(ctx, acked); err != nil {
		// Events stay queued and will be re-sent: at-least-once, not
		// exactly-once.
		m.logger.Warn("failed to remove acknowledged events", "error", err)
		return
	}
	m.logger.Debug("flush completed", "acked", len(acked), "pending", len(events)-len(acked))
}

// Run starts the periodic flush loop. Blocks until Shutdown is called or
// ctx is cancelled. A flush failure never stops the ticker.
func (m *Manager) Run(ctx context.Context) {
	m.started.Store(true)
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Flush(ctx)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops the flush loop and performs one final flush attempt,
// bounded by ctx. Safe to call multiple times.
func (m *Manager) Shutdown(ctx context.Context) {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.flushCancel()
	})

	if m.started.Load() {
		select {
		case <-m.doneCh:
		case <-ctx.Done():
			return
		}
	}

	m.Flush(ctx)
}
