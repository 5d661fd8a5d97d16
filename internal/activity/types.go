// Package activity holds the shared vocabulary of the reminder device:
// activity definitions, persisted records, lifecycle phases and the
// error taxonomy.
package activity

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/sweeney/fourbuttons/internal/schedule"
)

// ID identifies an activity. It maps 1:1 to a physical button and LED.
type ID string

// Definition describes one recurring activity. Immutable after startup.
type Definition struct {
	ID                ID
	Name              string
	Rule              schedule.Rule
	GracePeriod       time.Duration
	EscalationTimeout time.Duration
	// ButtonPin and LEDPin are BCM GPIO offsets.
	ButtonPin int
	LEDPin    int
	// Message is the body of the escalation email.
	Message string
}

// Validate checks a single definition. Errors are marked ErrConfiguration.
func (d Definition) Validate() error {
	if strings.TrimSpace(string(d.ID)) == "" {
		return Configuration(errors.New("activity id is empty"))
	}
	if err := d.Rule.Validate(); err != nil {
		return Configuration(errors.Wrapf(err, "activity %s", d.ID))
	}
	if d.GracePeriod < 0 {
		return Configuration(errors.Newf("activity %s: negative grace period", d.ID))
	}
	if d.EscalationTimeout <= 0 {
		return Configuration(errors.Newf("activity %s: escalation timeout must be positive", d.ID))
	}
	return nil
}

// ValidateAll checks every definition and that IDs and pins are unique.
func ValidateAll(defs []Definition) error {
	if len(defs) == 0 {
		return Configuration(errors.New("no activities configured"))
	}
	ids := make(map[ID]bool, len(defs))
	pins := make(map[int]ID, 2*len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
		if ids[d.ID] {
			return Configuration(errors.Newf("duplicate activity id %s", d.ID))
		}
		ids[d.ID] = true
		for _, pin := range []int{d.ButtonPin, d.LEDPin} {
			if other, ok := pins[pin]; ok {
				return Configuration(errors.Newf("activity %s: pin %d already used by %s", d.ID, pin, other))
			}
			pins[pin] = d.ID
		}
	}
	return nil
}

// Record is the persisted state of one activity.
//
// LastNotified is set only when an escalation was actually sent. Created
// is when the record was first stored; it is zero for a record that has
// never been stored.
type Record struct {
	ActivityID    ID
	LastCompleted *time.Time
	LastNotified  *time.Time
	Created       time.Time
}

// NewRecord returns the default record for an activity that has never run.
func NewRecord(id ID) Record {
	return Record{ActivityID: id}
}

// Anchor is the instant the next occurrence is counted from: the last
// completion, or for an activity never completed, just before the record
// was created so that an occurrence at the creation instant is due. It is
// nil only for a record that has never been stored.
func (r Record) Anchor() *time.Time {
	if r.LastCompleted != nil {
		return r.LastCompleted
	}
	if r.Created.IsZero() {
		return nil
	}
	a := r.Created.Add(-time.Nanosecond)
	return &a
}

// EscalationOutstanding reports whether the most recent escalation has not
// yet been followed by a completion.
func (r Record) EscalationOutstanding() bool {
	if r.LastNotified == nil {
		return false
	}
	return r.LastCompleted == nil || r.LastNotified.After(*r.LastCompleted)
}

// Phase is the lifecycle phase of a control actor.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingAck
	PhaseEscalated
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseAwaitingAck:
		return "AWAITING_ACK"
	case PhaseEscalated:
		return "ESCALATED"
	}
	return "UNKNOWN"
}

// EventType names a lifecycle transition.
type EventType string

const (
	EventDue              EventType = "DUE"
	EventAcknowledged     EventType = "ACKNOWLEDGED"
	EventEscalated        EventType = "ESCALATED"
	EventEscalationFailed EventType = "ESCALATION_FAILED"
)

// Transition is reported by a control actor each time it changes phase or
// fails to escalate.
type Transition struct {
	ActivityID ID
	Event      EventType
	Phase      Phase
	// Due is the occurrence the transition belongs to.
	Due time.Time
	// At is when the transition happened.
	At time.Time
	// Record is the record as it stands after the transition.
	Record Record
}
