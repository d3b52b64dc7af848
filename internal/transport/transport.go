package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/beaconkit/beacon-go/event"
)

// Config bounds batch size and retry behavior.
type Config struct {
	// MaxBatchEvents is the per-batch event count ceiling.
	MaxBatchEvents int
	// MaxBatchBytes is the per-batch serialized size ceiling.
	MaxBatchBytes int
	// MaxRetries is the attempt budget per batch.
	MaxRetries int
	// Backoff computes the delay between retryable attempts.
	Backoff BackoffConfig
}

// Transport turns a list of events into bounded batches and delivers each
// with retry. It is stateless between calls.
type Transport struct {
	sender Sender
	cfg    Config
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	nowUTC func() time.Time
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithSleep sets the inter-retry delay function (for testing).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Transport) { t.sleep = sleep }
}

// WithClock sets the time source used for the sentAt stamp (for testing).
func WithClock(now func() time.Time) Option {
	return func(t *Transport) { t.nowUTC = now }
}

// New creates a Transport delivering through sender.
func New(sender Sender, cfg Config, opts ...Option) *Transport {
	t := &Transport{
		sender: sender,
		cfg:    cfg,
		logger: slog.Default(),
		sleep:  sleepContext,
		nowUTC: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SendBatch partitions events into batches and delivers each, returning the
// IDs of every event in an acknowledged batch. Callers must treat any ID
// not returned as still pending. A failed batch never stops delivery of
// later batches.
func (t *Transport) SendBatch(ctx context.Context, events []event.Event) []string {
	if len(events) == 0 {
		return nil
	}

	var acked []string
	for _, batch := range t.partition(events) {
		if t.deliver(ctx, batch) {
			for _, e := range batch {
				acked = append(acked, e.ID)
			}
		}
	}
	return acked
}

// partition splits events greedily: a batch closes when adding the next
// event would exceed the count or byte ceiling. A single oversized event
// still becomes its own batch; it is never dropped for size here.
func (t *Transport) partition(events []event.Event) [][]event.Event {
	var (
		batches [][]event.Event
		batch   []event.Event
		size    int
	)

	for _, e := range events {
		n := e.EncodedSize()
		if len(batch) > 0 &&
			(len(batch)+1 > t.cfg.MaxBatchEvents || size+n > t.cfg.MaxBatchBytes) {
			batches = append(batches, batch)
			batch = nil
			size = 0
		}
		batch = append(batch, e)
		size += n
	}
	if len(batch) > 0 {
		batches = append(batches, batch)
	}
	return batches
}

// deliver sends one batch with up to MaxRetries attempts. Reports whether
// the batch was acknowledged.
func (t *Transport) deliver(ctx context.Context, batch []event.Event) bool {
	payload := Payload{
		Events: batch,
		SentAt: t.nowUTC().Format(time.RFC3339Nano),
	}

	for attempt := 0; attempt < t.cfg.MaxRetries; attempt++ {
		result, retryAfter := t.sender.Send(ctx, payload)

		switch result {
		case SendOK:
			return true

		case SendFatal:
			t.logger.Warn("batch rejected, not retrying", "events", len(batch))
			return false

		case SendRetryable:
			if attempt == t.cfg.MaxRetries-1 {
				break // budget exhausted, no point delaying
			}
			delay := t.cfg.Backoff.Delay(attempt)
			if retryAfter > 0 {
				// A server hint overrides the computed delay but never the
				// ceiling: an absurd Retry-After must not wedge delivery.
				delay = retryAfter
				if max := t.cfg.Backoff.MaxDelay; max > 0 && delay > max {
					delay = max
				}
			}
			t.logger.Debug("retrying batch",
				"attempt", attempt+1,
				"delay", delay,
				"events", len(batch))
			if err := t.sleep(ctx, delay); err != nil {
				return false
			}
		}
	}

	t.logger.Warn("batch unacknowledged after retries",
		"attempts", t.cfg.MaxRetries,
		"events", len(batch))
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
