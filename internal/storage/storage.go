// Package storage provides durable persistence for the Beacon pipeline.
// The store is the sole source of truth for the event queue and session
// state across process restarts; in-memory components are views that must
// tolerate being rebuilt from it at any time.
package storage

import (
	"context"
	"errors"

	"github.com/beaconkit/beacon-go/event"
)

// Well-known keys for the key/value portion of the store.
const (
	KeyAnonymousID = "anonymous-id"
	KeyUserID      = "user-id"
	KeySessionData = "session-data"
	KeyOptOut      = "opt-out-flag"
)

// Sentinel errors for the storage package.
var (
	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store closed")
)

// KV is the key/value subset of the store. Reads return (nil, nil) for
// absent keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store is the full durable store contract: named key/value records plus
// the persisted event queue. Callers treat every operation as fail-soft:
// on error they log, degrade to absent/no-op, and never propagate the
// failure past a public client boundary.
type Store interface {
	KV

	// AppendEvent appends an event to the persisted queue.
	AppendEvent(ctx context.Context, e event.Event) error

	// Events returns the entire persisted queue in insertion order.
	Events(ctx context.Context) ([]event.Event, error)

	// RemoveEvents deletes the events with the given IDs from the queue.
	// IDs not present are ignored.
	RemoveEvents(ctx context.Context, ids []string) error

	// CountEvents returns the number of events currently queued.
	CountEvents(ctx context.Context) (int, error)

	// PruneEvents evicts the oldest events so that at most max remain.
	// Returns the number of events evicted.
	PruneEvents(ctx context.Context, max int) (int, error)

	Close() error
}
