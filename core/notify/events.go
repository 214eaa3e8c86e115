// Package notify keeps every connected client's view of the vault current.
// It has two halves: the Hub, a publish-subscribe fan-out with per-observer
// isolation, and the Checker, a periodic state machine that compares remote
// fingerprints and broadcasts refreshed listings when they move.
package notify

import "time"

// EventType discriminates the payloads pushed to observers.
type EventType string

const (
	// EventFileListUpdated carries the regrouped file listing after a
	// detected change.
	EventFileListUpdated EventType = "file_list_updated"

	// EventNewMessages carries undelivered user messages.
	EventNewMessages EventType = "new_messages"

	// EventLockChanged signals a single lock acquire/release, letting
	// clients refresh tooltips without a full listing rebuild.
	EventLockChanged EventType = "lock_changed"
)

// Event is one notification pushed to all observers.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType EventType, data any) Event {
	return Event{Type: eventType, Data: data, At: time.Now().UTC()}
}
