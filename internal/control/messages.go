package control

import (
	"time"

	"github.com/google/uuid"
)

// Message is anything a control actor accepts: Due, Press or its own
// timeout.
type Message interface {
	isMessage()
}

// Due tells the actor that the occurrence Due is outstanding. At is the
// scheduler tick that computed it.
type Due struct {
	Due time.Time
	At  time.Time
}

// Press is a button press on the actor's button.
type Press struct {
	At time.Time
}

// timeout is sent by the actor to itself when the escalation timer of a
// cycle fires. It is only honoured if both tags still match.
type timeout struct {
	epoch uuid.UUID
	cycle uint64
}

// blink is one step of the acknowledgement blink. It is ignored once the
// cycle it belongs to has moved on.
type blink struct {
	epoch uuid.UUID
	cycle uint64
	step  int
}

func (Due) isMessage()     {}
func (Press) isMessage()   {}
func (timeout) isMessage() {}
func (blink) isMessage()   {}
