//go:build !linux

package gpio

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// RealBoard is not available on non-Linux platforms.
type RealBoard struct{}

// NewRealBoard returns an error on non-Linux platforms.
func NewRealBoard(string, []Pin, time.Duration, *zap.SugaredLogger) (*RealBoard, error) {
	return nil, activity.Hardware(errors.New("gpio: not supported on this platform (requires Linux)"))
}

func (b *RealBoard) SetLED(activity.ID, bool) error {
	return activity.Hardware(errors.New("gpio: not supported"))
}

func (b *RealBoard) Presses(context.Context) <-chan Press {
	ch := make(chan Press)
	close(ch)
	return ch
}

func (b *RealBoard) Close() error {
	return nil
}
