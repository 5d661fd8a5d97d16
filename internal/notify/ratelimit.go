package notify

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// ErrRateLimited is returned when an escalation is refused by RateLimited.
var ErrRateLimited = errors.New("escalation rate limit exceeded")

// RateLimited caps the number of escalations passed to the wrapped
// notifier. Each activity has its own bucket, so an activity whose
// escalations keep failing cannot use up another's allowance. Refused
// escalations fail immediately so the control actor retries them on a
// later due cycle.
type RateLimited struct {
	next  Notifier
	every time.Duration
	burst int

	mu       sync.Mutex
	limiters map[activity.ID]*rate.Limiter
}

// NewRateLimited allows each activity a burst of burst escalations,
// refilled one per every.
func NewRateLimited(next Notifier, every time.Duration, burst int) *RateLimited {
	return &RateLimited{
		next:     next,
		every:    every,
		burst:    burst,
		limiters: make(map[activity.ID]*rate.Limiter),
	}
}

func (r *RateLimited) limiter(id activity.ID) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Every(r.every), r.burst)
		r.limiters[id] = l
	}
	return l
}

// Notify spends a token from the activity's bucket at e.At, or at the
// current time when e.At is unset.
func (r *RateLimited) Notify(ctx context.Context, e Escalation) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	if !r.limiter(e.ActivityID).AllowN(at, 1) {
		return activity.Notifier(errors.Wrapf(ErrRateLimited, "escalation for %s", e.ActivityID))
	}
	return r.next.Notify(ctx, e)
}
