// Package gpio drives the four illuminated buttons.
// The real implementation uses the Linux GPIO character device; the console
// board simulates the device on a terminal and the fake board allows testing
// without hardware.
package gpio

import (
	"context"
	"time"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// Press is a debounced button press.
type Press struct {
	ActivityID activity.ID
	At         time.Time
}

// LEDs switches the button lights.
type LEDs interface {
	// SetLED turns the LED of id on or off. Errors are marked
	// activity.ErrHardware.
	SetLED(id activity.ID, on bool) error
}

// Buttons produces button presses.
type Buttons interface {
	// Presses returns a stream of presses. The channel is closed when ctx
	// ends or the source fails; call Presses again to resume.
	Presses(ctx context.Context) <-chan Press
}

// Board is a complete set of buttons and LEDs.
type Board interface {
	LEDs
	Buttons
	Close() error
}

// Pin maps an activity to its button and LED (BCM numbering).
type Pin struct {
	ActivityID activity.ID
	Button     int
	LED        int
}

// Hardware defaults of the four-button device.
const (
	DefaultChip     = "gpiochip0"
	DefaultDebounce = 500 * time.Millisecond
)

// PinsFor returns the pin mapping of defs, in order.
func PinsFor(defs []activity.Definition) []Pin {
	pins := make([]Pin, 0, len(defs))
	for _, d := range defs {
		pins = append(pins, Pin{ActivityID: d.ID, Button: d.ButtonPin, LED: d.LEDPin})
	}
	return pins
}
