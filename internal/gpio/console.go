package gpio

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// ConsoleBoard simulates the device on a terminal. Typing 1-9 presses the
// corresponding button (in pin order), q asks the daemon to stop, and LED
// changes are logged.
type ConsoleBoard struct {
	in   io.Reader
	pins []Pin
	log  *zap.SugaredLogger
	now  func() time.Time

	start  sync.Once
	events chan Press
	ended  chan struct{}
	quit   chan struct{}

	mu   sync.Mutex
	leds map[activity.ID]bool
}

// NewConsoleBoard returns a simulated board reading keys from in.
func NewConsoleBoard(in io.Reader, pins []Pin, log *zap.SugaredLogger) *ConsoleBoard {
	return &ConsoleBoard{
		in:     in,
		pins:   pins,
		log:    log,
		now:    time.Now,
		events: make(chan Press),
		ended:  make(chan struct{}),
		quit:   make(chan struct{}),
		leds:   make(map[activity.ID]bool, len(pins)),
	}
}

func (c *ConsoleBoard) SetLED(id activity.ID, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known(id) {
		return activity.Hardware(errors.Newf("no LED for activity %s", id))
	}
	c.leds[id] = on
	c.log.Infow("led", "activity", id, "on", on, "panel", c.panel())
	return nil
}

func (c *ConsoleBoard) known(id activity.ID) bool {
	for _, p := range c.pins {
		if p.ActivityID == id {
			return true
		}
	}
	return false
}

// panel renders the LEDs as a row of * and -.
func (c *ConsoleBoard) panel() string {
	b := make([]byte, len(c.pins))
	for i, p := range c.pins {
		b[i] = '-'
		if c.leds[p.ActivityID] {
			b[i] = '*'
		}
	}
	return string(b)
}

// LED reports the simulated LED state.
func (c *ConsoleBoard) LED(id activity.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leds[id]
}

// Quit is closed when q is typed.
func (c *ConsoleBoard) Quit() <-chan struct{} { return c.quit }

// read scans the input for keys until EOF.
func (c *ConsoleBoard) read() {
	defer close(c.ended)
	r := bufio.NewReader(c.in)
	quitOnce := sync.Once{}
	for {
		key, err := r.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Errorw("console input failed", "error", err)
			}
			return
		}
		switch {
		case key == 'q':
			quitOnce.Do(func() { close(c.quit) })
		case key >= '1' && key <= '9':
			i := int(key - '1')
			if i >= len(c.pins) {
				c.log.Warnw("no such button", "key", string(key))
				continue
			}
			c.events <- Press{ActivityID: c.pins[i].ActivityID, At: c.now()}
		}
	}
}

func (c *ConsoleBoard) Presses(ctx context.Context) <-chan Press {
	c.start.Do(func() { go c.read() })
	out := make(chan Press)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.ended:
				return
			case p := <-c.events:
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

func (c *ConsoleBoard) Close() error { return nil }
