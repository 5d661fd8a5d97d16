package actor

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrIntensity is returned by Run when actors die faster than the restart
// intensity allows.
var ErrIntensity = errors.New("restart intensity exceeded")

// Default restart intensity: at most 5 restarts, refilled one per minute.
const (
	DefaultMaxRestarts   = 5
	DefaultRestartWindow = 5 * time.Minute
)

// Supervisor owns a set of actors. When an actor's worker terminates the
// supervisor builds a fresh handler from the actor's factory and restarts it
// on the same mailbox, so senders holding the Ref never notice.
type Supervisor struct {
	log       *zap.SugaredLogger
	limiter   *rate.Limiter
	onRestart func(name string, cause error)

	mu       sync.Mutex
	children []func(ctx context.Context) error
	started  bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithIntensity allows a burst of n restarts, refilled evenly over window,
// before Run fails.
func WithIntensity(n int, window time.Duration) Option {
	return func(s *Supervisor) {
		if n < 1 {
			n = 1
		}
		s.limiter = rate.NewLimiter(rate.Every(window/time.Duration(n)), n)
	}
}

// WithRestartHook registers f to be called before each restart.
func WithRestartHook(f func(name string, cause error)) Option {
	return func(s *Supervisor) { s.onRestart = f }
}

// NewSupervisor returns an empty supervisor.
func NewSupervisor(log *zap.SugaredLogger, opts ...Option) *Supervisor {
	s := &Supervisor{log: log}
	WithIntensity(DefaultMaxRestarts, DefaultRestartWindow)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Supervise registers an actor and returns its address. Messages sent
// before Run are queued. factory is called for every incarnation, receives
// the actor's own Ref, and is expected to reload any persisted state.
//
// Supervise must not be called after Run.
func Supervise[M any](s *Supervisor, name string, factory func(self *Ref[M]) (Handler[M], error)) *Ref[M] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		panic("actor: Supervise called after Run")
	}
	ref := newRef[M](name)
	s.children = append(s.children, func(ctx context.Context) error {
		return s.keepAlive(ctx, name, func(ctx context.Context) error {
			h, err := factory(ref)
			if err != nil {
				return errors.Wrapf(err, "actor %s factory", name)
			}
			return run(ctx, ref, h)
		})
	})
	return ref
}

func (s *Supervisor) keepAlive(ctx context.Context, name string, incarnate func(context.Context) error) error {
	for incarnation := 1; ; incarnation++ {
		err := incarnate(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.Newf("actor %s exited", name)
		}
		s.log.Errorw("actor terminated", "actor", name, "incarnation", incarnation, "error", err)
		if !s.limiter.Allow() {
			return errors.Mark(errors.Wrapf(err, "actor %s", name), ErrIntensity)
		}
		if s.onRestart != nil {
			s.onRestart(name, err)
		}
		s.log.Warnw("restarting actor", "actor", name, "incarnation", incarnation+1)
	}
}

// Run runs every supervised actor until ctx ends, returning nil, or until
// one actor exceeds the restart intensity, returning an error wrapping
// ErrIntensity after stopping the others.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	children := s.children
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, child := range children {
		child := child
		g.Go(func() error { return child(gctx) })
	}
	return g.Wait()
}
