package beacon

import (
	"time"

	"github.com/google/uuid"

	"github.com/beaconkit/beacon-go/event"
	"github.com/beaconkit/beacon-go/internal/storage"
)

// Track records a named event with optional flat properties. The session
// activity is updated before the event is stamped, so the event's session
// id reflects any renewal the activity itself triggered.
//
// Local per-session accounting always happens for a valid event; queue and
// delivery outcomes do not affect it. Invalid names and oversized events
// are dropped with a log line; Track itself never fails.
func (c *Client) Track(name string, props map[string]any) {
	if !c.awaitReady("track") {
		return
	}
	if c.isOptedOut() {
		c.logger.Debug("opted out, dropping event", "event", name)
		return
	}

	if err := event.ValidateName(name); err != nil {
		c.logger.Warn("dropping event with invalid name", "event", name, "error", err)
		return
	}

	// Session activity first: a renewal triggered by this very event must
	// be reflected in its session id.
	rec := c.session.Touch(c.runCtx)
	e := c.stamp(name, props, rec.ID)

	screen, _ := e.Screen()
	c.stats.record(e.Name, screen, e.Timestamp)

	if size := e.EncodedSize(); size > c.cfg.MaxEventBytes {
		c.logger.Warn("dropping oversized event",
			"event", name, "bytes", size, "limit", c.cfg.MaxEventBytes)
		return
	}

	c.queue.Enqueue(c.runCtx, e)
}

// Identify sets the active user id. A synthetic "User Identified" event is
// emitted carrying the previous id (or the anonymous id if none). Already
// queued events keep the identity they were created with.
func (c *Client) Identify(userID string, traits map[string]any) {
	if !c.awaitReady("identify") {
		return
	}
	if userID == "" {
		c.logger.Warn("ignoring identify with empty user id")
		return
	}

	c.mu.Lock()
	previous := c.userID
	if previous == "" {
		previous = c.anonymousID
	}
	c.userID = userID
	c.mu.Unlock()

	if err := c.store.Set(c.runCtx, storage.KeyUserID, []byte(userID)); err != nil {
		c.logger.Warn("failed to persist user id", "error", err)
	}

	if c.isOptedOut() {
		return
	}
	props := make(map[string]any, len(traits)+1)
	for k, v := range traits {
		props[k] = v
	}
	props["previousId"] = previous
	rec := c.session.Touch(c.runCtx)
	c.capture(event.NameUserIdentified, props, rec.ID)
}

// Reset clears the user id and forces a session renewal. The anonymous id
// and any queued events are untouched.
func (c *Client) Reset() {
	if !c.awaitReady("reset") {
		return
	}

	c.mu.Lock()
	c.userID = ""
	c.mu.Unlock()
	if err := c.store.Delete(c.runCtx, storage.KeyUserID); err != nil {
		c.logger.Warn("failed to clear user id", "error", err)
	}

	c.session.Renew(c.runCtx)
}

// OptOut stops tracking and clears the local session counters. The
// durable queue is not purged; already queued events remain eligible for
// delivery.
func (c *Client) OptOut() {
	if !c.awaitReady("optOut") {
		return
	}

	c.mu.Lock()
	c.optedOut = true
	c.mu.Unlock()
	if err := c.store.Set(c.runCtx, storage.KeyOptOut, []byte("true")); err != nil {
		c.logger.Warn("failed to persist opt-out flag", "error", err)
	}

	c.stats.reset()
	c.logger.Debug("tracking opted out")
}

// OptIn resumes tracking. No re-initialization is needed.
func (c *Client) OptIn() {
	if !c.awaitReady("optIn") {
		return
	}

	c.mu.Lock()
	c.optedOut = false
	c.mu.Unlock()
	if err := c.store.Set(c.runCtx, storage.KeyOptOut, []byte("false")); err != nil {
		c.logger.Warn("failed to persist opt-out flag", "error", err)
	}
	c.logger.Debug("tracking opted in")
}

// DeleteUser emits a deletion-request event, attempts to deliver it, then
// purges all durable state except the anonymous id and starts a fresh
// session.
func (c *Client) DeleteUser() {
	if !c.awaitReady("deleteUser") {
		return
	}

	// The deletion request goes out even when opted out: the server-side
	// purge must be signaled regardless of the tracking preference.
	rec := c.session.Touch(c.runCtx)
	c.captureAlways(event.NameDeletionRequested, nil, rec.ID)

	// Best effort: the request event is purged with the queue below if
	// this flush cannot deliver it.
	c.queue.Flush(c.runCtx)

	c.stats.reset()

	ctx := c.runCtx
	if _, err := c.store.PruneEvents(ctx, 0); err != nil {
		c.logger.Warn("failed to purge event queue", "error", err)
	}
	for _, key := range []string{storage.KeyUserID, storage.KeySessionData, storage.KeyOptOut} {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("failed to purge key", "key", key, "error", err)
		}
	}

	c.mu.Lock()
	c.userID = ""
	c.optedOut = false
	c.mu.Unlock()

	c.session.Renew(ctx)
	c.logger.Debug("user data deleted")
}

func (c *Client) isOptedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.optedOut
}

// capture builds and enqueues an event against an explicit session id,
// without touching session activity. Used for client-emitted events and
// from session transition callbacks, where touching again would recurse.
func (c *Client) capture(name string, props map[string]any, sessionID string) {
	if c.isOptedOut() {
		return
	}
	c.captureAlways(name, props, sessionID)
}

// captureAlways is capture without the opt-out gate, for the deletion
// request, which must reach the collector even from an opted-out client.
func (c *Client) captureAlways(name string, props map[string]any, sessionID string) {
	e := c.stamp(name, props, sessionID)

	screen, _ := e.Screen()
	c.stats.record(e.Name, screen, e.Timestamp)

	c.queue.Enqueue(c.runCtx, e)
}

// stamp creates the immutable event record: identity and session resolved
// now, never rewritten later.
func (c *Client) stamp(name string, props map[string]any, sessionID string) event.Event {
	e, dropped := event.New(name, props, time.Now().UTC())
	if len(dropped) > 0 {
		c.logger.Warn("dropped non-primitive properties", "event", name, "keys", dropped)
	}

	if sessionID == "" {
		// No live session to stamp with; synthesize a throwaway id
		// scoped to this single event.
		sessionID = "temp-" + uuid.NewString()
		c.logger.Warn("no active session, stamping event with temporary session id",
			"event", name)
	}

	c.mu.Lock()
	e.UserID = c.userID
	e.AnonymousID = c.anonymousID
	c.mu.Unlock()
	e.SessionID = sessionID
	e.Context = c.deviceContext()
	return e
}
