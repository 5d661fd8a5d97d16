package activity

import "github.com/cockroachdb/errors"

// Error classes. Attach one with the helpers below and test with errors.Is.
var (
	// ErrConfiguration is fatal at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrPersistence is recoverable: skipped for a tick or retried on the
	// next actor message.
	ErrPersistence = errors.New("persistence error")
	// ErrNotifier is recoverable via the next due cycle.
	ErrNotifier = errors.New("notifier error")
	// ErrHardware is logged; LED state may be stale.
	ErrHardware = errors.New("hardware error")
)

func mark(err, class error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, class)
}

// Configuration marks err as ErrConfiguration.
func Configuration(err error) error { return mark(err, ErrConfiguration) }

// Persistence marks err as ErrPersistence.
func Persistence(err error) error { return mark(err, ErrPersistence) }

// Notifier marks err as ErrNotifier.
func Notifier(err error) error { return mark(err, ErrNotifier) }

// Hardware marks err as ErrHardware.
func Hardware(err error) error { return mark(err, ErrHardware) }
