// Package event provides the shared analytics event model for Beacon.
// This package is used by the client facade, the queue manager, the
// transport, and the storage layer.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version stamped on every event.
const SchemaVersion = 1

// Reserved event names emitted by the client itself.
const (
	NameSessionStarted    = "Session Started"
	NameSessionEnded      = "Session Ended"
	NameUserIdentified    = "User Identified"
	NameDeletionRequested = "User Deletion Requested"
)

// Event represents a single tracked analytics event.
// An Event is immutable once created: identity and session fields reflect
// the state at creation time and are never rewritten, even if the active
// user or session changes later.
type Event struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Properties    map[string]any `json:"properties,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	UserID        string         `json:"userId,omitempty"`
	AnonymousID   string         `json:"anonymousId"`
	SessionID     string         `json:"sessionId"`
	Context       Context        `json:"context"`
	SchemaVersion int            `json:"schemaVersion"`
}

// New creates an event with a fresh collision-resistant ID and the current
// schema version. Properties are sanitized to flat primitive values; any
// dropped keys are returned so the caller can log them.
func New(name string, props map[string]any, now time.Time) (Event, []string) {
	clean, dropped := SanitizeProperties(props)
	return Event{
		ID:            uuid.NewString(),
		Name:          name,
		Properties:    clean,
		Timestamp:     now,
		SchemaVersion: SchemaVersion,
	}, dropped
}

// EncodedSize returns the size in bytes of the event's JSON encoding.
// Used for the single-event size ceiling and for batch byte budgeting.
func (e Event) EncodedSize() int {
	b, err := json.Marshal(e)
	if err != nil {
		return 0
	}
	return len(b)
}

// Screen returns the event's "screen" property if present and a string.
func (e Event) Screen() (string, bool) {
	v, ok := e.Properties["screen"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
