package notify

import (
	"context"
	"sync"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// Fake records escalations for tests.
type Fake struct {
	mu   sync.Mutex
	sent []Escalation
	err  error
	// failFor makes only the named activities fail.
	failFor map[activity.ID]error
	// attempts counts every call, successful or not.
	attempts int
	perID    map[activity.ID]int
}

// Fail makes Notify return err until cleared with nil.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// FailFor makes Notify return err for escalations of id only, until
// cleared with nil.
func (f *Fake) FailFor(id activity.ID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor == nil {
		f.failFor = make(map[activity.ID]error)
	}
	if err == nil {
		delete(f.failFor, id)
		return
	}
	f.failFor[id] = err
}

func (f *Fake) Notify(_ context.Context, e Escalation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.perID == nil {
		f.perID = make(map[activity.ID]int)
	}
	f.perID[e.ActivityID]++
	if f.err != nil {
		return activity.Notifier(f.err)
	}
	if err := f.failFor[e.ActivityID]; err != nil {
		return activity.Notifier(err)
	}
	f.sent = append(f.sent, e)
	return nil
}

// Sent returns the successfully delivered escalations.
func (f *Fake) Sent() []Escalation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Escalation(nil), f.sent...)
}

// Attempts returns the number of Notify calls.
func (f *Fake) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// AttemptsFor returns the number of Notify calls for id.
func (f *Fake) AttemptsFor(id activity.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perID[id]
}
