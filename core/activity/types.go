// Package activity is the append-only audit log of vault operations:
// check-outs, check-ins, cancels, admin overrides, deletes, and their
// supplements. Events are never mutated or deleted once written.
package activity

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the auditable operations.
type EventType string

const (
	EventCheckOut EventType = "CHECK_OUT"
	EventCheckIn  EventType = "CHECK_IN"
	EventCancel   EventType = "CANCEL"
	EventOverride EventType = "OVERRIDE"
	EventDelete   EventType = "DELETE"
	EventCreate   EventType = "CREATE"
	EventRevert   EventType = "REVERT"
	EventMessage  EventType = "MESSAGE"
)

// Event is one audit record.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"event_type"`
	User      string    `json:"user"`
	Path      string    `json:"path"`
	Revision  string    `json:"revision,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// NewEvent creates an event stamped with a fresh id and the current time.
func NewEvent(eventType EventType, user, path string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		User:      user,
		Path:      path,
		CreatedAt: time.Now().UTC(),
	}
}

// WithRevision attaches the revision a check-in or upload produced.
func (e *Event) WithRevision(revision string) *Event {
	e.Revision = revision
	return e
}

// WithNote attaches free-text context (override reason, message body).
func (e *Event) WithNote(note string) *Event {
	e.Note = note
	return e
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	User  string
	Path  string
	Types []EventType
	Since time.Time
	Limit int
}
