package control

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/fourbuttons/internal/activity"
	"github.com/sweeney/fourbuttons/internal/actor"
	"github.com/sweeney/fourbuttons/internal/gpio"
)

// DefaultRestartDelay is how long the router waits before reopening a press
// stream that ended.
const DefaultRestartDelay = time.Second

// Router feeds one press stream to the control actors, by activity ID.
type Router struct {
	buttons gpio.Buttons
	actors  map[activity.ID]*actor.Ref[Message]
	log     *zap.SugaredLogger
	delay   time.Duration
}

// NewRouter returns a router delivering presses from buttons to actors.
func NewRouter(buttons gpio.Buttons, actors map[activity.ID]*actor.Ref[Message], log *zap.SugaredLogger) *Router {
	return &Router{buttons: buttons, actors: actors, log: log, delay: DefaultRestartDelay}
}

// Run routes presses until ctx ends, reopening the stream whenever it
// closes.
func (r *Router) Run(ctx context.Context) error {
	for {
		for p := range r.buttons.Presses(ctx) {
			r.Route(p)
		}
		if ctx.Err() != nil {
			return nil
		}
		r.log.Warnw("button press stream ended, reopening", "delay", r.delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.delay):
		}
	}
}

// Route delivers a single press. It reports whether an actor accepted it.
func (r *Router) Route(p gpio.Press) bool {
	ref, ok := r.actors[p.ActivityID]
	if !ok {
		r.log.Warnw("press for unknown activity", "activity", p.ActivityID)
		return false
	}
	r.log.Debugw("button press", "activity", p.ActivityID, "at", p.At)
	return ref.Send(Press{At: p.At})
}
