package actor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSupervisorRestartsOnSameMailbox(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan int, 100)
	var builds, restarts atomic.Int32
	sup := NewSupervisor(zaptest.NewLogger(t).Sugar(),
		WithRestartHook(func(string, error) { restarts.Add(1) }))

	ref := Supervise[int](sup, "flaky", func(self *Ref[int]) (Handler[int], error) {
		builds.Add(1)
		return HandlerFunc[int](func(_ context.Context, msg int) error {
			if msg < 0 {
				return errors.New("negative")
			}
			seen <- msg
			return nil
		}), nil
	})

	// Queued before Run.
	ref.Send(1)
	ref.Send(-1)
	ref.Send(2)

	errc := make(chan error, 1)
	go func() { errc <- sup.Run(ctx) }()

	assert.Equal(t, []int{1, 2}, waitFor(t, seen, 2))
	assert.Equal(t, int32(2), builds.Load())
	assert.Equal(t, int32(1), restarts.Load())

	require.True(t, ref.Send(3))
	assert.Equal(t, []int{3}, waitFor(t, seen, 1))

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestSupervisorFactoryReceivesSelf(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan int, 10)
	sup := NewSupervisor(zaptest.NewLogger(t).Sugar())
	var ref *Ref[int]
	ref = Supervise[int](sup, "self", func(self *Ref[int]) (Handler[int], error) {
		assert.Same(t, ref, self)
		return HandlerFunc[int](func(_ context.Context, msg int) error {
			seen <- msg
			if msg < 3 {
				self.Send(msg + 1)
			}
			return nil
		}), nil
	})
	ref.Send(0)

	go func() { _ = sup.Run(ctx) }()
	assert.Equal(t, []int{0, 1, 2, 3}, waitFor(t, seen, 4))
}

func TestSupervisorFailsLoudlyWhenIntensityExceeded(t *testing.T) {
	sup := NewSupervisor(zaptest.NewLogger(t).Sugar(), WithIntensity(2, time.Hour))

	healthy := make(chan struct{})
	Supervise[int](sup, "healthy", func(*Ref[int]) (Handler[int], error) {
		return &stopSignal{stopped: healthy}, nil
	})
	Supervise[int](sup, "broken", func(*Ref[int]) (Handler[int], error) {
		return nil, errors.New("cannot load state")
	})

	errc := make(chan error, 1)
	go func() { errc <- sup.Run(context.Background()) }()

	select {
	case err := <-errc:
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrIntensity))
		assert.Contains(t, err.Error(), "cannot load state")
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not give up")
	}
	select {
	case <-healthy:
	case <-time.After(2 * time.Second):
		t.Fatal("sibling actor was not stopped")
	}
}

func TestSuperviseAfterRunPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sup := NewSupervisor(zaptest.NewLogger(t).Sugar())
	require.NoError(t, sup.Run(ctx))
	assert.Panics(t, func() {
		Supervise[int](sup, "late", func(*Ref[int]) (Handler[int], error) { return nil, nil })
	})
}

func TestSuperviseConcurrentWithRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := NewSupervisor(zaptest.NewLogger(t).Sugar())

	registered := make(chan bool, 1)
	go func() {
		defer func() { registered <- recover() == nil }()
		Supervise[int](sup, "racer", func(*Ref[int]) (Handler[int], error) {
			return &stopSignal{stopped: make(chan struct{})}, nil
		})
	}()

	errc := make(chan error, 1)
	go func() { errc <- sup.Run(ctx) }()

	// Either outcome is allowed; only the ordering is racy.
	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("Supervise did not return")
	}
	cancel()
	require.NoError(t, <-errc)
}

type stopSignal struct {
	stopped chan struct{}
}

func (s *stopSignal) Receive(context.Context, int) error { return nil }

func (s *stopSignal) Stop() { close(s.stopped) }
