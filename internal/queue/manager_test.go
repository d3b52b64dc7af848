package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/beaconkit/beacon-go/event"
	"github.com/beaconkit/beacon-go/internal/storage"
)

// fakeDelivery acknowledges a scripted subset of what it is given.
type fakeDelivery struct {
	mu          sync.Mutex
	calls       [][]event.Event
	ackAll      bool
	ackIDs      map[string]bool
	blockCh     chan struct{} // when set, Send blocks until closed
	sentCh      chan int      // receives the event count of each call
	ctxErr      error         // ctx state observed after the block released
	ctxObserved bool
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{ackAll: true, sentCh: make(chan int, 16)}
}

func (d *fakeDelivery) SendBatch(ctx context.Context, events []event.Event) []string {
	d.mu.Lock()
	d.calls = append(d.calls, events)
	block := d.blockCh
	d.mu.Unlock()

	select {
	case d.sentCh <- len(events):
	default:
	}

	if block != nil {
		<-block
		d.mu.Lock()
		d.ctxErr = ctx.Err()
		d.ctxObserved = true
		d.mu.Unlock()
	}

	var acked []string
	for _, e := range events {
		if d.ackAll || d.ackIDs[e.ID] {
			acked = append(acked, e.ID)
		}
	}
	return acked
}

func (d *fakeDelivery) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func testManager(store EventStore, d Delivery) *Manager {
	return NewManager(store, d, Config{
		MaxQueueSize:    100,
		MaxStoredEvents: 10000,
		FlushInterval:   10 * time.Second,
	})
}

func makeEvent(name string) event.Event {
	e, _ := event.New(name, nil, time.Now())
	e.AnonymousID = "anon"
	e.SessionID = "sess"
	return e
}

func TestEnqueue_PersistsBeforeFlushDecision(t *testing.T) {
	store := storage.NewMemory()
	m := testManager(store, newFakeDelivery())
	ctx := context.Background()

	m.Enqueue(ctx, makeEvent("First"))

	// The event must be durable even though no flush has run.
	events, _ := store.Events(ctx)
	if len(events) != 1 {
		t.Fatalf("queued = %d, want 1", len(events))
	}
}

func TestFlush_RemovesOnlyAcknowledged(t *testing.T) {
	store := storage.NewMemory()
	d := newFakeDelivery()
	m := testManager(store, d)
	ctx := context.Background()

	e1, e2, e3 := makeEvent("A"), makeEvent("B"), makeEvent("C")
	for _, e := range []event.Event{e1, e2, e3} {
		m.Enqueue(ctx, e)
	}

	// Server acknowledges only e1 and e3.
	d.ackAll = false
	d.ackIDs = map[string]bool{e1.ID: true, e3.ID: true}

	m.Flush(ctx)

	remaining, _ := store.Events(ctx)
	if len(remaining) != 1 || remaining[0].ID != e2.ID {
		t.Fatalf("remaining = %+v, want only %q", remaining, e2.ID)
	}

	// Next flush re-sends the leftover.
	d.ackAll = true
	m.Flush(ctx)
	remaining, _ = store.Events(ctx)
	if len(remaining) != 0 {
		t.Errorf("remaining after second flush = %d, want 0", len(remaining))
	}
}

func TestFlush_EmptyQueueNoNetworkCall(t *testing.T) {
	d := newFakeDelivery()
	m := testManager(storage.NewMemory(), d)

	m.Flush(context.Background())

	if d.callCount() != 0 {
		t.Errorf("delivery calls = %d, want 0 for empty queue", d.callCount())
	}
}

func TestFlush_ConcurrentCallIsNoOp(t *testing.T) {
	store := storage.NewMemory()
	d := newFakeDelivery()
	d.blockCh = make(chan struct{})
	m := testManager(store, d)
	ctx := context.Background()

	m.Enqueue(ctx, makeEvent("Held"))

	go m.Flush(ctx)
	<-d.sentCh // first flush is now inside SendBatch

	// Second flush while the first is in flight: returns immediately,
	// no second delivery.
	m.Flush(ctx)
	if d.callCount() != 1 {
		t.Errorf("delivery calls = %d, want 1", d.callCount())
	}

	close(d.blockCh)

	// Wait for the first flush to finish removing.
	deadline := time.After(2 * time.Second)
	for {
		if n, _ := store.CountEvents(ctx); n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first flush never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEnqueue_CapacityTriggersFlush(t *testing.T) {
	store := storage.NewMemory()
	d := newFakeDelivery()
	m := NewManager(store, d, Config{
		MaxQueueSize:  3,
		FlushInterval: time.Hour,
	})
	ctx := context.Background()

	m.Enqueue(ctx, makeEvent("1"))
	m.Enqueue(ctx, makeEvent("2"))
	if d.callCount() != 0 {
		t.Fatalf("flush fired below capacity")
	}

	m.Enqueue(ctx, makeEvent("3"))

	select {
	case n := <-d.sentCh:
		if n != 3 {
			t.Errorf("flushed %d events, want 3", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("capacity-triggered flush never fired")
	}
}

func TestEnqueue_PrunesPastRetentionCap(t *testing.T) {
	store := storage.NewMemory()
	m := NewManager(store, newFakeDelivery(), Config{
		MaxQueueSize:    1000,
		MaxStoredEvents: 5,
		FlushInterval:   time.Hour,
	})
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		m.Enqueue(ctx, makeEvent("Spam"))
	}

	if n, _ := store.CountEvents(ctx); n != 5 {
		t.Errorf("stored = %d, want retention cap 5", n)
	}
}

func TestRun_PeriodicFlush(t *testing.T) {
	store := storage.NewMemory()
	d := newFakeDelivery()
	m := NewManager(store, d, Config{
		MaxQueueSize:  1000,
		FlushInterval: 20 * time.Millisecond,
	})
	ctx := context.Background()

	m.Enqueue(ctx, makeEvent("Tick"))

	go m.Run(ctx)
	defer m.Shutdown(ctx)

	select {
	case <-d.sentCh:
	case <-time.After(2 * time.Second):
		t.Fatal("periodic flush never fired")
	}
}

func TestShutdown_FinalFlush(t *testing.T) {
	store := storage.NewMemory()
	d := newFakeDelivery()
	m := NewManager(store, d, Config{
		MaxQueueSize:  1000,
		FlushInterval: time.Hour, // ticker never fires during the test
	})
	ctx := context.Background()

	go m.Run(ctx)
	m.Enqueue(ctx, makeEvent("Last Words"))

	m.Shutdown(ctx)

	if n, _ := store.CountEvents(ctx); n != 0 {
		t.Errorf("stored after shutdown = %d, want 0 (final flush)", n)
	}

	// Shutdown is idempotent.
	m.Shutdown(ctx)
}

func TestShutdown_CancelsCapacityFlush(t *testing.T) {
	store := storage.NewMemory()
	d := newFakeDelivery()
	d.blockCh = make(chan struct{})
	m := NewManager(store, d, Config{
		MaxQueueSize:  1,
		FlushInterval: time.Hour,
	})
	ctx := context.Background()

	m.Enqueue(ctx, makeEvent("Trigger"))
	<-d.sentCh // capacity-triggered flush is now inside SendBatch

	// Shutdown must not block behind the in-flight background flush.
	done := make(chan struct{})
	go func() {
		m.Shutdown(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked on the in-flight background flush")
	}

	// Once released, the background flush observes a cancelled context
	// rather than outliving the manager.
	close(d.blockCh)
	deadline := time.After(2 * time.Second)
	for {
		d.mu.Lock()
		observed, err := d.ctxObserved, d.ctxErr
		d.mu.Unlock()
		if observed {
			if !errors.Is(err, context.Canceled) {
				t.Errorf("background flush ctx err = %v, want context.Canceled", err)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("background flush never resumed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestShutdown_WithoutRun(t *testing.T) {
	m := testManager(storage.NewMemory(), newFakeDelivery())

	done := make(chan struct{})
	go func() {
		m.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked with no Run loop")
	}
}
