package mqtt

import (
	"context"

	"go.uber.org/zap"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// DefaultQueueSize is the number of transitions a Reporter holds before it
// starts dropping them.
const DefaultQueueSize = 64

// Reporter forwards control actor transitions to a Publisher from its own
// goroutine, so a slow broker never stalls an actor.
type Reporter struct {
	pub   Publisher
	log   *zap.SugaredLogger
	queue chan Event
}

// NewReporter returns a Reporter publishing through pub. Run must be
// started for anything to be sent.
func NewReporter(pub Publisher, size int, log *zap.SugaredLogger) *Reporter {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Reporter{pub: pub, log: log, queue: make(chan Event, size)}
}

// Report queues t without blocking. When the queue is full t is dropped.
func (r *Reporter) Report(t activity.Transition) {
	select {
	case r.queue <- NewEvent(t):
	default:
		r.log.Warnw("mqtt event queue full, dropping transition", "activity", t.ActivityID, "event", t.Event)
	}
}

// Run publishes queued transitions until ctx ends, then flushes what is
// left.
func (r *Reporter) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-r.queue:
			r.publish(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.queue:
					r.publish(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Reporter) publish(ev Event) {
	t := ev.Transition
	if err := r.pub.Publish(ev); err != nil {
		r.log.Warnw("failed to publish transition", "activity", t.ActivityID, "event", t.Event, "error", err)
		return
	}
	r.log.Debugw("published transition", "activity", t.ActivityID, "event", t.Event, "id", ev.ID)
}
