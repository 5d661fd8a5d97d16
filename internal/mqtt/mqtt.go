// Package mqtt publishes activity transitions and daemon lifecycle events
// to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// Topic is the MQTT topic for activity transitions.
const Topic = "home/fourbuttons/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "home/fourbuttons/system"

// System event names.
const (
	EventStartup   = "STARTUP"
	EventShutdown  = "SHUTDOWN"
	EventHeartbeat = "HEARTBEAT"
	EventOffline   = "OFFLINE"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an activity transition. Failures are returned, never
	// fatal.
	Publish(event Event) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Event is one activity transition as published.
type Event struct {
	ID         string
	Transition activity.Transition
}

// NewEvent wraps t with a fresh event ID.
func NewEvent(t activity.Transition) Event {
	return Event{ID: uuid.NewString(), Transition: t}
}

// SystemEvent is a daemon lifecycle event.
type SystemEvent struct {
	ID         string
	Timestamp  time.Time
	Event      string // STARTUP, SHUTDOWN, HEARTBEAT
	Reason     string // SIGTERM, SIGINT (shutdown only)
	RawPayload []byte // pre-formatted payload, used as is when set
	Retained   bool
}

// Payload is the JSON body of an activity event.
type Payload struct {
	Activity ActivityPayload `json:"activity"`
}

type ActivityPayload struct {
	ID            string  `json:"id"`
	Timestamp     string  `json:"timestamp"`
	Activity      string  `json:"activity"`
	Event         string  `json:"event"`
	Phase         string  `json:"phase"`
	Due           string  `json:"due,omitempty"`
	LastCompleted *string `json:"last_completed,omitempty"`
	LastNotified  *string `json:"last_notified,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// FormatPayload creates the JSON payload for an activity event.
func FormatPayload(event Event) ([]byte, error) {
	t := event.Transition
	p := ActivityPayload{
		ID:            event.ID,
		Timestamp:     formatTime(t.At),
		Activity:      string(t.ActivityID),
		Event:         string(t.Event),
		Phase:         t.Phase.String(),
		LastCompleted: formatOptional(t.Record.LastCompleted),
		LastNotified:  formatOptional(t.Record.LastNotified),
	}
	if !t.Due.IsZero() {
		p.Due = formatTime(t.Due)
	}
	return json.Marshal(Payload{Activity: p})
}

// SystemPayload is the JSON body of a system event that carries no status
// snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

type SystemPayloadInner struct {
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event,
// returning RawPayload unchanged when set.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			ID:        event.ID,
			Timestamp: formatTime(event.Timestamp),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
