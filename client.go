// Package beacon is a client-side telemetry pipeline: it captures named
// events, enriches them with device/session context, persists them durably
// against process death, and delivers them to a remote collector with
// bounded batches and retry.
//
// Analytics must never crash or block the host application: no public
// operation returns an error or panics past this boundary. Failures are
// logged and the operation degrades to a no-op.
package beacon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/beaconkit/beacon-go/event"
	"github.com/beaconkit/beacon-go/internal/queue"
	"github.com/beaconkit/beacon-go/internal/session"
	"github.com/beaconkit/beacon-go/internal/storage"
	"github.com/beaconkit/beacon-go/internal/transport"
)

// defaultPreInitWait bounds how long a public operation waits for
// initialization before being dropped.
const defaultPreInitWait = 5 * time.Second

const (
	stateInitializing int32 = iota
	stateReady
	stateClosed
)

// Client is the telemetry pipeline facade. Construct with New; a Client
// is ready for use immediately, though initialization completes in the
// background (operations wait for it, bounded).
type Client struct {
	cfg         Config
	logger      *slog.Logger
	ctxProvider event.ContextProvider
	preInitWait time.Duration

	store   storage.Store
	session *session.Manager
	queue   *queue.Manager

	state     atomic.Int32
	readyCh   chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	closeOnce sync.Once

	mu          sync.Mutex
	anonymousID string
	userID      string
	optedOut    bool

	ctxOnce   sync.Once
	cachedCtx event.Context

	stats *sessionStats
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. By default the client builds its own slog
// text logger, debug-leveled when Config.Debug is set.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextProvider sets the device/app context snapshot source. The
// snapshot is collected once and cached for the client's lifetime.
func WithContextProvider(p event.ContextProvider) Option {
	return func(c *Client) {
		if p != nil {
			c.ctxProvider = p
		}
	}
}

// withStore injects a durable store (for testing).
func withStore(s storage.Store) Option {
	return func(c *Client) { c.store = s }
}

// withPreInitWait shortens the pre-init wait (for testing).
func withPreInitWait(d time.Duration) Option {
	return func(c *Client) { c.preInitWait = d }
}

// New creates a client. Configuration is validated synchronously; storage
// open, identity load and session initialization complete in the
// background. The only errors New returns are configuration errors.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("beacon: %w", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:         cfg,
		ctxProvider: event.DefaultContext,
		preInitWait: defaultPreInitWait,
		readyCh:     make(chan struct{}),
		runCtx:      runCtx,
		runCancel:   runCancel,
		stats:       newSessionStats(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		level := slog.LevelInfo
		if cfg.Debug {
			level = slog.LevelDebug
		}
		c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	go c.initialize()
	return c, nil
}

// initialize completes construction in the background. Every failure is
// absorbed: a client that cannot open durable storage degrades to an
// in-memory queue rather than refusing to work.
func (c *Client) initialize() {
	ctx := c.runCtx

	if c.store == nil {
		path := c.cfg.StoragePath
		if path == "" {
			p, err := storage.DefaultDatabasePath()
			if err != nil {
				c.logger.Warn("no data directory available, events will not survive restarts", "error", err)
			}
			path = p
		}
		if path != "" {
			s, err := storage.Open(path)
			if err != nil {
				c.logger.Warn("failed to open durable storage, events will not survive restarts",
					"path", path, "error", err)
			} else {
				c.store = s
			}
		}
		if c.store == nil {
			c.store = storage.NewMemory()
		}
	}

	c.loadIdentity(ctx)

	sender := transport.NewHTTPSender(c.cfg.BaseURL, c.cfg.APIKey,
		transport.WithSenderLogger(c.logger))
	tr := transport.New(sender, transport.Config{
		MaxBatchEvents: c.cfg.MaxBatchEvents,
		MaxBatchBytes:  c.cfg.MaxBatchBytes,
		MaxRetries:     c.cfg.MaxRetries,
		Backoff: transport.BackoffConfig{
			InitialDelay: c.cfg.BackoffInitial,
			MaxDelay:     c.cfg.BackoffMax,
			Multiplier:   c.cfg.BackoffMultiplier,
		},
	}, transport.WithLogger(c.logger))

	c.queue = queue.NewManager(c.store, tr, queue.Config{
		MaxQueueSize:    c.cfg.MaxQueueSize,
		MaxStoredEvents: c.cfg.MaxStoredEvents,
		FlushInterval:   c.cfg.FlushInterval,
	}, queue.WithLogger(c.logger))

	c.session = session.NewManager(c.store, c.cfg.SessionTimeout,
		session.WithLogger(c.logger))
	c.session.OnStart(func(rec session.Record) {
		c.stats.reset()
		c.capture(event.NameSessionStarted, nil, rec.ID)
	})
	c.session.OnEnd(func(rec session.Record, duration time.Duration) {
		c.capture(event.NameSessionEnded, map[string]any{
			"durationMs": duration.Milliseconds(),
		}, rec.ID)
	})
	c.session.Initialize(ctx)

	go c.queue.Run(c.runCtx)

	// A Shutdown racing with initialization wins.
	c.state.CompareAndSwap(stateInitializing, stateReady)
	close(c.readyCh)
	c.logger.Debug("client initialized", "anonymousId", c.AnonymousID())
}

func (c *Client) loadIdentity(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data, err := c.store.Get(ctx, storage.KeyAnonymousID); err != nil {
		c.logger.Warn("failed to load anonymous id", "error", err)
	} else if data != nil {
		c.anonymousID = string(data)
	}
	if c.anonymousID == "" {
		// Created once per install; survives reset and opt-out.
		c.anonymousID = uuid.NewString()
		if err := c.store.Set(ctx, storage.KeyAnonymousID, []byte(c.anonymousID)); err != nil {
			c.logger.Warn("failed to persist anonymous id", "error", err)
		}
	}

	if data, err := c.store.Get(ctx, storage.KeyUserID); err == nil && data != nil {
		c.userID = string(data)
	}
	if data, err := c.store.Get(ctx, storage.KeyOptOut); err == nil && data != nil {
		c.optedOut = string(data) == "true"
	}
}

// awaitReady blocks until initialization completes, up to the pre-init
// wait. Operations on a client that never becomes ready are silently
// dropped, logged once each.
func (c *Client) awaitReady(op string) bool {
	switch c.state.Load() {
	case stateReady:
		return true
	case stateClosed:
		c.logger.Debug("client closed, dropping operation", "op", op)
		return false
	}

	select {
	case <-c.readyCh:
		return c.state.Load() == stateReady
	case <-time.After(c.preInitWait):
		c.logger.Warn("client not initialized in time, dropping operation", "op", op)
		return false
	}
}

// AnonymousID returns the install-scoped identifier, empty until
// initialization completes.
func (c *Client) AnonymousID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anonymousID
}

// Flush attempts delivery of all currently persisted events. Concurrent
// flushes are collapsed into one.
func (c *Client) Flush() {
	if !c.awaitReady("flush") {
		return
	}
	c.queue.Flush(c.runCtx)
}

// SessionStats returns the per-session counters, keyed by event name and
// by "screen:<name>" for events carrying a screen property.
func (c *Client) SessionStats() map[string]int {
	if !c.awaitReady("sessionStats") {
		return nil
	}
	return c.stats.snapshot()
}

// SessionEvents returns the events locally accounted this session.
func (c *Client) SessionEvents() []StatRecord {
	if !c.awaitReady("sessionEvents") {
		return nil
	}
	return c.stats.events()
}

// EventsByType returns this session's locally accounted events with the
// given name.
func (c *Client) EventsByType(name string) []StatRecord {
	if !c.awaitReady("eventsByType") {
		return nil
	}
	return c.stats.byName(name)
}

// Shutdown stops the periodic flush, attempts one final flush bounded by
// ctx, and closes storage. The client is unusable afterwards. Safe to
// call multiple times.
func (c *Client) Shutdown(ctx context.Context) {
	c.closeOnce.Do(func() {
		// Let a pending initialization finish (bounded) so the final
		// flush sees the queue.
		select {
		case <-c.readyCh:
		case <-ctx.Done():
		case <-time.After(c.preInitWait):
		}

		c.state.Store(stateClosed)

		if c.queue != nil {
			c.queue.Shutdown(ctx)
		}
		c.runCancel()
		if c.store != nil {
			if err := c.store.Close(); err != nil {
				c.logger.Warn("failed to close storage", "error", err)
			}
		}
		c.logger.Debug("client shut down")
	})
}

// deviceContext returns the cached device/app snapshot. The provider is
// consulted once; a panicking or zero-valued provider falls back to the
// minimal default record.
func (c *Client) deviceContext() event.Context {
	c.ctxOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Warn("context provider panicked, using default context", "panic", r)
				c.cachedCtx = event.DefaultContext()
			}
		}()
		c.cachedCtx = c.ctxProvider()
		if c.cachedCtx == (event.Context{}) {
			c.cachedCtx = event.DefaultContext()
		}
	})
	return c.cachedCtx
}
