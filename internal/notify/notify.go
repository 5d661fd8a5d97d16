// Package notify sends escalation alerts when a reminder is not
// acknowledged in time.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// Escalation describes an unacknowledged reminder.
type Escalation struct {
	ActivityID activity.ID
	Name       string
	// Due is the occurrence that was not acknowledged.
	Due time.Time
	// At is when the escalation was raised.
	At      time.Time
	Message string
}

func (e Escalation) name() string {
	if e.Name == "" {
		return string(e.ActivityID)
	}
	return e.Name
}

// Subject returns the email subject line.
func (e Escalation) Subject() string {
	return fmt.Sprintf("Reminder: %s is overdue", e.name())
}

// Body returns the email text.
func (e Escalation) Body() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("%s has not been done.", e.name())
	}
	return fmt.Sprintf("%s\n\nDue at %s, still outstanding at %s.\n",
		msg, e.Due.Format("Mon 2 Jan 15:04"), e.At.Format("15:04"))
}

// Notifier delivers escalations. Failures are returned to the caller,
// marked activity.ErrNotifier, and never retried internally.
type Notifier interface {
	Notify(ctx context.Context, e Escalation) error
}

// LogNotifier only logs escalations. It is used when email is not
// configured.
type LogNotifier struct {
	Log *zap.SugaredLogger
}

func (n LogNotifier) Notify(_ context.Context, e Escalation) error {
	n.Log.Warnw("escalation (email not configured)",
		"activity", e.ActivityID,
		"due", e.Due,
		"subject", e.Subject())
	return nil
}
