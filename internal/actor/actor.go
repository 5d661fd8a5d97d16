// Package actor is a minimal actor runtime: every actor owns an unbounded
// FIFO mailbox and processes it strictly sequentially on its own goroutine.
// Actors share no state; they coordinate only by sending messages.
package actor

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Handler processes the messages of one actor. Receive is never called
// concurrently. A returned error terminates the actor.
type Handler[M any] interface {
	Receive(ctx context.Context, msg M) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[M any] func(ctx context.Context, msg M) error

func (f HandlerFunc[M]) Receive(ctx context.Context, msg M) error { return f(ctx, msg) }

// Starter is implemented by handlers that need to run before the first
// message is delivered.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by handlers that hold resources. Stop is called
// once when the worker exits, whatever the reason.
type Stopper interface {
	Stop()
}

// Ref is the send-only address of an actor's mailbox. It is safe for
// concurrent use.
type Ref[M any] struct {
	name string
	box  *mailbox[M]
}

func newRef[M any](name string) *Ref[M] {
	return &Ref[M]{name: name, box: newMailbox[M]()}
}

// Send enqueues msg without blocking. It returns false if the actor has
// terminated and will never read it.
func (r *Ref[M]) Send(msg M) bool {
	return r.box.push(msg)
}

// Name returns the actor's name.
func (r *Ref[M]) Name() string { return r.name }

// Len returns the number of queued messages.
func (r *Ref[M]) Len() int { return r.box.len() }

// Process is a running unsupervised actor.
type Process[M any] struct {
	ref  *Ref[M]
	done chan struct{}
	err  error
}

// Spawn starts handler on a new goroutine. The actor runs until ctx ends or
// the handler fails; a failed actor is not restarted and its mailbox stops
// accepting messages.
func Spawn[M any](ctx context.Context, name string, handler Handler[M]) *Process[M] {
	p := &Process[M]{ref: newRef[M](name), done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.err = run(ctx, p.ref, handler)
		p.ref.box.close()
	}()
	return p
}

// Ref returns the actor's address.
func (p *Process[M]) Ref() *Ref[M] { return p.ref }

// Done is closed when the worker has exited.
func (p *Process[M]) Done() <-chan struct{} { return p.done }

// Err returns the reason the worker exited, nil for a context shutdown.
// Only meaningful after Done is closed.
func (p *Process[M]) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// run drives one incarnation of handler over ref's mailbox. Panics are
// converted into errors.
func run[M any](ctx context.Context, ref *Ref[M], handler Handler[M]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("actor %s panicked: %v", ref.name, r)
		}
	}()
	if s, ok := handler.(Stopper); ok {
		defer s.Stop()
	}
	if s, ok := handler.(Starter); ok {
		if err := s.Start(ctx); err != nil {
			return errors.Wrapf(err, "actor %s start", ref.name)
		}
	}
	for {
		msg, ok := ref.box.pop(ctx)
		if !ok {
			return nil
		}
		if err := handler.Receive(ctx, msg); err != nil {
			return errors.Wrapf(err, "actor %s", ref.name)
		}
	}
}
