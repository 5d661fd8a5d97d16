package gpio

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// FakeBoard is a test double recording LED changes and injecting presses.
type FakeBoard struct {
	mu      sync.Mutex
	leds    map[activity.ID]bool
	changes map[activity.ID][]bool
	// ledErr, if set, is returned by SetLED and the LED is left unchanged.
	ledErr  error
	closed  bool
	streams int

	presses chan Press
	stop    chan struct{}
}

// NewFakeBoard creates a board with every LED off.
func NewFakeBoard() *FakeBoard {
	return &FakeBoard{
		leds:    make(map[activity.ID]bool),
		changes: make(map[activity.ID][]bool),
		presses: make(chan Press, 64),
		stop:    make(chan struct{}),
	}
}

func (f *FakeBoard) SetLED(id activity.ID, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ledErr != nil {
		return activity.Hardware(f.ledErr)
	}
	f.leds[id] = on
	f.changes[id] = append(f.changes[id], on)
	return nil
}

// FailLEDs makes SetLED return err until cleared with nil.
func (f *FakeBoard) FailLEDs(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ledErr = err
}

// LED returns the current state of id's LED.
func (f *FakeBoard) LED(id activity.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leds[id]
}

// Changes returns every successful SetLED value for id, in order.
func (f *FakeBoard) Changes(id activity.ID) []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.changes[id]...)
}

// Press injects a button press.
func (f *FakeBoard) Press(id activity.ID, at time.Time) {
	f.presses <- Press{ActivityID: id, At: at}
}

// EndStreams closes every channel returned by Presses so far, as a failing
// source would.
func (f *FakeBoard) EndStreams() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.stop)
	f.stop = make(chan struct{})
}

// Streams returns how many times Presses was called.
func (f *FakeBoard) Streams() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams
}

func (f *FakeBoard) Presses(ctx context.Context) <-chan Press {
	f.mu.Lock()
	f.streams++
	stop := f.stop
	f.mu.Unlock()

	out := make(chan Press)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case p := <-f.presses:
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close marks the board as closed.
func (f *FakeBoard) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeBoard) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
