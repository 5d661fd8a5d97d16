//go:build linux

package gpio

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/zap"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// RealBoard drives actual hardware through the Linux GPIO character device.
//
// Buttons are inputs with pull-up: a press pulls the line low, so presses
// are falling edges, debounced by the kernel. LEDs are outputs, driven low
// at start.
type RealBoard struct {
	chip     *gpiocdev.Chip
	pins     []Pin
	debounce time.Duration
	log      *zap.SugaredLogger
	now      func() time.Time

	leds map[activity.ID]*gpiocdev.Line

	mu      sync.Mutex
	buttons []*gpiocdev.Line
	byPin   map[int]activity.ID
	events  chan Press
}

// NewRealBoard opens chipName and claims the LED lines. Button lines are
// claimed on the first call to Presses.
func NewRealBoard(chipName string, pins []Pin, debounce time.Duration, log *zap.SugaredLogger) (*RealBoard, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, activity.Hardware(errors.Wrapf(err, "open gpio chip %s", chipName))
	}

	b := &RealBoard{
		chip:     chip,
		pins:     pins,
		debounce: debounce,
		log:      log,
		now:      time.Now,
		leds:     make(map[activity.ID]*gpiocdev.Line, len(pins)),
		byPin:    make(map[int]activity.ID, len(pins)),
		events:   make(chan Press, 16),
	}
	for _, p := range pins {
		line, err := chip.RequestLine(p.LED, gpiocdev.AsOutput(0))
		if err != nil {
			b.Close()
			return nil, activity.Hardware(errors.Wrapf(err, "request LED pin %d for %s", p.LED, p.ActivityID))
		}
		b.leds[p.ActivityID] = line
		b.byPin[p.Button] = p.ActivityID
	}
	return b, nil
}

func (b *RealBoard) SetLED(id activity.ID, on bool) error {
	line, ok := b.leds[id]
	if !ok {
		return activity.Hardware(errors.Newf("no LED for activity %s", id))
	}
	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return activity.Hardware(errors.Wrapf(err, "set LED %s", id))
	}
	return nil
}

// claimButtons requests the button lines once. A failed attempt is retried
// on the next call.
func (b *RealBoard) claimButtons() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buttons != nil {
		return nil
	}
	var lines []*gpiocdev.Line
	for _, p := range b.pins {
		line, err := b.chip.RequestLine(p.Button,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithFallingEdge,
			gpiocdev.WithDebounce(b.debounce),
			gpiocdev.WithEventHandler(b.handleEvent))
		if err != nil {
			for _, l := range lines {
				l.Close()
			}
			return activity.Hardware(errors.Wrapf(err, "request button pin %d for %s", p.Button, p.ActivityID))
		}
		lines = append(lines, line)
	}
	b.buttons = lines
	return nil
}

// handleEvent runs on the gpiocdev watcher goroutine.
func (b *RealBoard) handleEvent(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventFallingEdge {
		return
	}
	id, ok := b.byPin[evt.Offset]
	if !ok {
		return
	}
	select {
	case b.events <- Press{ActivityID: id, At: b.now()}:
	default:
		b.log.Warnw("dropping button press, consumer too slow", "activity", id)
	}
}

func (b *RealBoard) Presses(ctx context.Context) <-chan Press {
	out := make(chan Press)
	if err := b.claimButtons(); err != nil {
		b.log.Errorw("button lines unavailable", "error", err)
		close(out)
		return out
	}
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-b.events:
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

// Close switches the LEDs off and releases every line. LED lines are
// reconfigured as inputs with pull-down, matching the Pi boot defaults.
func (b *RealBoard) Close() error {
	var errs error
	for id, line := range b.leds {
		if err := line.SetValue(0); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "switch off LED %s", id))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "reconfigure LED %s", id))
		}
		if err := line.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "close LED %s", id))
		}
	}
	b.mu.Lock()
	for _, line := range b.buttons {
		if err := line.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "close button"))
		}
	}
	b.buttons = nil
	b.mu.Unlock()
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "close chip"))
		}
	}
	return activity.Hardware(errs)
}
