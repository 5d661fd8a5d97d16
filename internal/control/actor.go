// Package control implements the per-button state machine that turns due
// activities into lit LEDs, acknowledgements and escalation emails.
package control

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/fourbuttons/internal/activity"
	"github.com/sweeney/fourbuttons/internal/actor"
	"github.com/sweeney/fourbuttons/internal/clock"
	"github.com/sweeney/fourbuttons/internal/gpio"
	"github.com/sweeney/fourbuttons/internal/metrics"
	"github.com/sweeney/fourbuttons/internal/notify"
	"github.com/sweeney/fourbuttons/internal/schedule"
	"github.com/sweeney/fourbuttons/internal/store"
)

// DefaultNotifyTimeout bounds a single escalation attempt.
const DefaultNotifyTimeout = 30 * time.Second

// BlinkInterval is the toggle period of the acknowledgement blink.
const BlinkInterval = 100 * time.Millisecond

// Reporter receives every transition of a control actor. Report is called
// on the actor's goroutine and must not block.
type Reporter interface {
	Report(t activity.Transition)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(activity.Transition)

func (f ReporterFunc) Report(t activity.Transition) { f(t) }

// Mailbox is the address a control actor sends its own timeouts to.
// *actor.Ref[Message] satisfies it.
type Mailbox interface {
	Send(msg Message) bool
}

// Config holds the collaborators of a control actor.
type Config struct {
	Definition    activity.Definition
	Store         store.Gateway
	LEDs          gpio.LEDs
	Notifier      notify.Notifier
	Clock         clock.Clock
	Log           *zap.SugaredLogger
	Metrics       *metrics.Metrics
	Reporters     []Reporter
	NotifyTimeout time.Duration
	// Blink is how long the LED blinks after an acknowledging press. Zero
	// turns it straight off.
	Blink time.Duration
}

// Actor is the state machine of one activity. It is driven exclusively by
// its mailbox; none of its fields are shared.
type Actor struct {
	cfg  Config
	id   activity.ID
	self Mailbox
	log  *zap.SugaredLogger

	// epoch identifies this incarnation; cycle counts due cycles within it.
	epoch uuid.UUID
	cycle uint64

	phase      activity.Phase
	due        time.Time
	timer      clock.Timer
	blinkTimer clock.Timer

	record activity.Record
	// loaded is false while the persisted record could not be read.
	loaded bool
	// dirty is true while a change to record has not been saved.
	dirty bool
	// escalationPending is set when the notifier failed; the next Due for
	// the same cycle retries it.
	escalationPending bool
}

// New builds a control actor that sends its own timeouts to self.
func New(cfg Config, self Mailbox) *Actor {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	id := cfg.Definition.ID
	return &Actor{
		cfg:    cfg,
		id:     id,
		self:   self,
		log:    cfg.Log.With("activity", id),
		epoch:  uuid.New(),
		record: activity.NewRecord(id),
	}
}

// Factory returns a supervisor factory building a fresh actor, with state
// reloaded from the store, for every incarnation.
func Factory(cfg Config) func(self *actor.Ref[Message]) (actor.Handler[Message], error) {
	return func(self *actor.Ref[Message]) (actor.Handler[Message], error) {
		return New(cfg, self), nil
	}
}

// Phase returns the current phase. Only for use from the actor goroutine
// or after it has stopped.
func (a *Actor) Phase() activity.Phase { return a.phase }

// Start loads the persisted record and restores an outstanding escalation,
// lighting the LED.
func (a *Actor) Start(ctx context.Context) error {
	a.reload(ctx)
	if a.record.EscalationOutstanding() {
		a.phase = activity.PhaseEscalated
		a.due = schedule.Previous(a.cfg.Definition.Rule, *a.record.LastNotified)
		a.setLED(true)
		a.log.Infow("restored outstanding escalation", "due", a.due)
	}
	a.cfg.Metrics.SetPhase(string(a.id), int(a.phase))
	a.log.Debugw("control actor started", "epoch", a.epoch, "phase", a.phase)
	return nil
}

// Stop cancels the escalation and blink timers.
func (a *Actor) Stop() {
	a.stopTimer()
	a.stopBlink()
}

func (a *Actor) Receive(ctx context.Context, msg Message) error {
	a.flush(ctx)
	switch m := msg.(type) {
	case Due:
		a.onDue(ctx, m)
	case Press:
		a.onPress(ctx, m)
	case timeout:
		a.onTimeout(ctx, m)
	case blink:
		a.onBlink(m)
	default:
		a.log.Warnw("unexpected message", "type", msg)
	}
	a.cfg.Metrics.SetPhase(string(a.id), int(a.phase))
	return nil
}

func (a *Actor) onDue(ctx context.Context, m Due) {
	if a.record.LastCompleted != nil && !m.Due.After(*a.record.LastCompleted) {
		a.log.Debugw("ignoring stale due", "due", m.Due, "last_completed", a.record.LastCompleted)
		return
	}

	switch a.phase {
	case activity.PhaseIdle:
		if a.record.LastNotified != nil && !a.record.LastNotified.Before(m.Due) {
			// Already escalated for this occurrence.
			a.phase = activity.PhaseEscalated
			a.due = m.Due
			a.setLED(true)
			a.report(activity.EventDue)
			return
		}
		a.startCycle(m.Due)

	case activity.PhaseAwaitingAck, activity.PhaseEscalated:
		if m.Due.After(a.due) {
			a.log.Infow("later occurrence while unacknowledged", "previous_due", a.due, "due", m.Due)
			a.startCycle(m.Due)
			return
		}
		if a.phase == activity.PhaseAwaitingAck && a.escalationPending {
			a.log.Infow("retrying escalation", "due", a.due)
			a.escalate(ctx)
		}
	}
}

// startCycle lights the LED and arms the escalation timer for due.
func (a *Actor) startCycle(due time.Time) {
	a.stopTimer()
	a.stopBlink()
	a.cycle++
	a.phase = activity.PhaseAwaitingAck
	a.due = due
	a.escalationPending = false
	a.setLED(true)

	tag := timeout{epoch: a.epoch, cycle: a.cycle}
	self := a.self
	a.timer = a.cfg.Clock.AfterFunc(a.cfg.Definition.EscalationTimeout, func() {
		self.Send(tag)
	})
	a.log.Infow("activity due", "due", due, "cycle", a.cycle, "escalate_after", a.cfg.Definition.EscalationTimeout)
	a.report(activity.EventDue)
}

func (a *Actor) onTimeout(ctx context.Context, t timeout) {
	if t.epoch != a.epoch || t.cycle != a.cycle || a.phase != activity.PhaseAwaitingAck {
		a.log.Debugw("ignoring stale timeout", "cycle", t.cycle, "current_cycle", a.cycle, "phase", a.phase)
		return
	}
	a.timer = nil
	a.escalate(ctx)
}

func (a *Actor) escalate(ctx context.Context) {
	now := a.cfg.Clock.Now()
	nctx, cancel := context.WithTimeout(ctx, a.cfg.NotifyTimeout)
	defer cancel()

	err := a.cfg.Notifier.Notify(nctx, notify.Escalation{
		ActivityID: a.id,
		Name:       a.cfg.Definition.Name,
		Due:        a.due,
		At:         now,
		Message:    a.cfg.Definition.Message,
	})
	a.cfg.Metrics.Escalation(string(a.id), err == nil)
	if err != nil {
		a.escalationPending = true
		a.log.Errorw("escalation failed, will retry on next due", "due", a.due, "error", err)
		a.report(activity.EventEscalationFailed)
		return
	}

	a.escalationPending = false
	a.phase = activity.PhaseEscalated
	a.record.LastNotified = &now
	a.persist(ctx)
	a.log.Warnw("activity escalated", "due", a.due)
	a.report(activity.EventEscalated)
}

func (a *Actor) onPress(ctx context.Context, p Press) {
	if a.phase == activity.PhaseIdle {
		a.log.Debugw("ignoring press, nothing outstanding")
		return
	}
	a.stopTimer()
	// Any timeout already queued for this cycle is now stale.
	a.cycle++
	a.phase = activity.PhaseIdle
	a.escalationPending = false
	a.setLED(false)
	a.armBlink(1)

	at := p.At
	a.record.LastCompleted = &at
	a.persist(ctx)
	a.cfg.Metrics.Acknowledged(string(a.id))
	a.log.Infow("activity acknowledged", "due", a.due, "at", at)
	a.report(activity.EventAcknowledged)
}

// armBlink schedules step of the acknowledgement blink. Odd steps light
// the LED; the last step leaves it off.
func (a *Actor) armBlink(step int) {
	if step > a.blinkSteps() {
		a.blinkTimer = nil
		return
	}
	tag := blink{epoch: a.epoch, cycle: a.cycle, step: step}
	self := a.self
	a.blinkTimer = a.cfg.Clock.AfterFunc(BlinkInterval, func() {
		self.Send(tag)
	})
}

// blinkSteps rounds the blink up to whole on/off pairs.
func (a *Actor) blinkSteps() int {
	n := int(a.cfg.Blink / BlinkInterval)
	if n%2 == 1 {
		n++
	}
	return n
}

func (a *Actor) onBlink(b blink) {
	if b.epoch != a.epoch || b.cycle != a.cycle || a.phase != activity.PhaseIdle {
		return
	}
	a.setLED(b.step%2 == 1)
	a.armBlink(b.step + 1)
}

func (a *Actor) stopBlink() {
	if a.blinkTimer != nil {
		a.blinkTimer.Stop()
		a.blinkTimer = nil
	}
}

func (a *Actor) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Actor) setLED(on bool) {
	if err := a.cfg.LEDs.SetLED(a.id, on); err != nil {
		a.cfg.Metrics.HardwareError()
		a.log.Errorw("failed to set LED", "on", on, "error", err)
	}
}

// reload reads the persisted record. On failure the actor keeps working on
// its in-memory record and tries again before the next save.
func (a *Actor) reload(ctx context.Context) bool {
	rec, err := a.cfg.Store.Load(ctx, a.id)
	if err != nil {
		a.cfg.Metrics.PersistenceError("control")
		a.log.Errorw("failed to load record", "error", err)
		return false
	}
	if a.dirty {
		// Changes made while the store was unreadable win.
		if a.record.LastCompleted != nil {
			rec.LastCompleted = a.record.LastCompleted
		}
		if a.record.LastNotified != nil {
			rec.LastNotified = a.record.LastNotified
		}
	}
	a.record = rec
	a.loaded = true
	return true
}

// persist saves the record, leaving it dirty on failure.
func (a *Actor) persist(ctx context.Context) {
	a.dirty = true
	a.flush(ctx)
}

// flush retries a pending save.
func (a *Actor) flush(ctx context.Context) {
	if !a.loaded && !a.reload(ctx) {
		return
	}
	if !a.dirty {
		return
	}
	if err := a.cfg.Store.Save(ctx, a.record); err != nil {
		a.cfg.Metrics.PersistenceError("control")
		a.log.Errorw("failed to save record, will retry", "error", err)
		return
	}
	a.dirty = false
}

func (a *Actor) report(event activity.EventType) {
	t := activity.Transition{
		ActivityID: a.id,
		Event:      event,
		Phase:      a.phase,
		Due:        a.due,
		At:         a.cfg.Clock.Now(),
		Record:     a.record,
	}
	for _, r := range a.cfg.Reporters {
		r.Report(t)
	}
}
