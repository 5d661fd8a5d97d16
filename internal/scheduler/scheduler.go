// Package scheduler periodically decides which activities are due and hands
// them to their control actors.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/fourbuttons/internal/activity"
	"github.com/sweeney/fourbuttons/internal/control"
	"github.com/sweeney/fourbuttons/internal/metrics"
	"github.com/sweeney/fourbuttons/internal/schedule"
	"github.com/sweeney/fourbuttons/internal/store"
)

// DefaultInterval is the tick period used by the daemon.
const DefaultInterval = time.Second

// Sender is the address of a control actor. *actor.Ref[control.Message]
// satisfies it.
type Sender interface {
	Send(msg control.Message) bool
}

// Observer is told the computed due instant of every activity on every
// tick.
type Observer interface {
	ObserveDue(id activity.ID, due time.Time, now time.Time)
}

// NewlyDue reports whether an occurrence due at due should be dispatched at
// now. An activity escalated less than grace ago is held back so an
// unanswered reminder is not repeated every tick.
func NewlyDue(due, now time.Time, lastNotified *time.Time, grace time.Duration) bool {
	if due.After(now) {
		return false
	}
	return lastNotified == nil || now.Sub(*lastNotified) > grace
}

// Scheduler evaluates every activity on each tick. It only ever creates and
// reads records; control actors own all writes.
type Scheduler struct {
	defs      []activity.Definition
	store     store.Gateway
	actors    map[activity.ID]Sender
	log       *zap.SugaredLogger
	metrics   *metrics.Metrics
	observers []Observer
}

// New returns a scheduler dispatching to actors. Every definition must have
// an actor.
func New(defs []activity.Definition, st store.Gateway, actors map[activity.ID]Sender, log *zap.SugaredLogger, m *metrics.Metrics, observers ...Observer) *Scheduler {
	return &Scheduler{
		defs:      defs,
		store:     st,
		actors:    actors,
		log:       log,
		metrics:   m,
		observers: observers,
	}
}

// Tick evaluates every activity at now and returns how many Due messages
// were sent. A failing activity is skipped until the next tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	s.metrics.Tick()
	sent := 0
	for _, def := range s.defs {
		if s.evaluate(ctx, def, now) {
			sent++
		}
	}
	return sent
}

func (s *Scheduler) evaluate(ctx context.Context, def activity.Definition, now time.Time) bool {
	log := s.log.With("activity", def.ID)

	if err := s.store.Ensure(ctx, def.ID, now); err != nil {
		s.metrics.PersistenceError("scheduler")
		log.Errorw("failed to ensure record", "error", err)
		return false
	}
	rec, err := s.store.Load(ctx, def.ID)
	if err != nil {
		s.metrics.PersistenceError("scheduler")
		log.Errorw("failed to load record", "error", err)
		return false
	}

	due := schedule.NextDue(def.Rule, now, rec.Anchor())
	for _, o := range s.observers {
		o.ObserveDue(def.ID, due, now)
	}
	if !NewlyDue(due, now, rec.LastNotified, def.GracePeriod) {
		return false
	}

	ref, ok := s.actors[def.ID]
	if !ok {
		log.Errorw("no control actor for activity")
		return false
	}
	if !ref.Send(control.Due{Due: due, At: now}) {
		log.Warnw("control actor not accepting messages", "due", due)
		return false
	}
	s.metrics.DueDispatched(string(def.ID))
	log.Debugw("dispatched due", "due", due)
	return true
}

// Run ticks on every value from tick until ctx ends. now supplies the
// instant evaluated, so a fake clock can drive it.
func (s *Scheduler) Run(ctx context.Context, tick <-chan time.Time, now func() time.Time) error {
	s.log.Infow("scheduler started", "activities", len(s.defs))
	for {
		select {
		case <-ctx.Done():
			s.log.Infow("scheduler stopped")
			return nil
		case <-tick:
			s.Tick(ctx, now())
		}
	}
}
