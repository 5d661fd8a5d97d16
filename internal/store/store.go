// Package store persists activity records.
package store

import (
	"context"
	"time"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// Gateway loads and saves activity records. Implementations must be safe
// for concurrent use and must make a completed Save durable before it
// returns. Errors are marked activity.ErrPersistence.
type Gateway interface {
	// Ensure creates the default record for id, created at at, if none
	// exists. An existing record keeps its creation time.
	Ensure(ctx context.Context, id activity.ID, at time.Time) error
	// Load returns the record for id, or the default record if none exists.
	Load(ctx context.Context, id activity.ID) (activity.Record, error)
	// Save replaces the record for rec.ActivityID.
	Save(ctx context.Context, rec activity.Record) error
}

// EventKind names an entry in the activity history.
type EventKind string

const (
	EventCompleted EventKind = "COMPLETED"
	EventNotified  EventKind = "NOTIFIED"
)

// Event is one entry of the activity history.
type Event struct {
	ID         string
	ActivityID activity.ID
	Kind       EventKind
	At         time.Time
	RecordedAt time.Time
}

// changes returns the history entries implied by replacing prev with next.
func changes(prev, next activity.Record) []Event {
	var out []Event
	if changed(prev.LastCompleted, next.LastCompleted) {
		out = append(out, Event{ActivityID: next.ActivityID, Kind: EventCompleted, At: *next.LastCompleted})
	}
	if changed(prev.LastNotified, next.LastNotified) {
		out = append(out, Event{ActivityID: next.ActivityID, Kind: EventNotified, At: *next.LastNotified})
	}
	return out
}

func changed(prev, next *time.Time) bool {
	if next == nil {
		return false
	}
	return prev == nil || !prev.Equal(*next)
}
