// Package status provides a thread-safe view of the daemon and of every
// activity, fed by control actor transitions and scheduler ticks. It is
// read by the HTTP handlers and the MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	TickMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	Board       string
	Notifier    string
	Database    string
}

// Activity is the observed state of one activity.
type Activity struct {
	ID            activity.ID
	Name          string
	Rule          string
	Phase         activity.Phase
	Due           time.Time // outstanding occurrence, zero when idle
	NextDue       time.Time // as last computed by the scheduler
	LastCompleted *time.Time
	LastNotified  *time.Time

	Dues               int
	Acknowledgements   int
	Escalations        int
	EscalationFailures int
}

// LEDOn reports whether the activity's LED should be lit.
func (a Activity) LEDOn() bool {
	return a.Phase != activity.PhaseIdle
}

// Snapshot is a point-in-time view of daemon state, safe to use after the
// lock is released.
type Snapshot struct {
	Activities    []Activity
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Outstanding returns how many activities are awaiting a press.
func (s Snapshot) Outstanding() int {
	n := 0
	for _, a := range s.Activities {
		if a.LEDOn() {
			n++
		}
	}
	return n
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu    sync.RWMutex
	snap  Snapshot
	index map[activity.ID]int
	now   func() time.Time
}

// NewTracker creates a Tracker listing defs in order.
func NewTracker(startTime time.Time, cfg Config, defs []activity.Definition) *Tracker {
	t := &Tracker{
		snap:  Snapshot{StartTime: startTime, Config: cfg},
		index: make(map[activity.ID]int, len(defs)),
		now:   time.Now,
	}
	for i, d := range defs {
		t.index[d.ID] = i
		t.snap.Activities = append(t.snap.Activities, Activity{
			ID:   d.ID,
			Name: d.Name,
			Rule: d.Rule.String(),
		})
	}
	return t
}

// Report records a control actor transition.
func (t *Tracker) Report(tr activity.Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[tr.ActivityID]
	if !ok {
		return
	}
	a := &t.snap.Activities[i]
	a.Phase = tr.Phase
	a.Due = tr.Due
	a.LastCompleted = copyTime(tr.Record.LastCompleted)
	a.LastNotified = copyTime(tr.Record.LastNotified)

	switch tr.Event {
	case activity.EventDue:
		a.Dues++
	case activity.EventAcknowledged:
		a.Acknowledgements++
		a.Due = time.Time{}
	case activity.EventEscalated:
		a.Escalations++
	case activity.EventEscalationFailed:
		a.EscalationFailures++
	}
}

// ObserveDue records the due instant the scheduler computed for id.
func (t *Tracker) ObserveDue(id activity.ID, due, _ time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.index[id]; ok {
		t.snap.Activities[i].NextDue = due
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Activity returns the state of one activity.
func (t *Tracker) Activity(id activity.ID) (Activity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[id]
	if !ok {
		return Activity{}, false
	}
	return copyActivity(t.snap.Activities[i]), true
}

// Snapshot returns a copy of the daemon state with Now set to the moment
// of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Activities = make([]Activity, len(t.snap.Activities))
	for i, a := range t.snap.Activities {
		s.Activities[i] = copyActivity(a)
	}
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}

func copyActivity(a Activity) Activity {
	a.LastCompleted = copyTime(a.LastCompleted)
	a.LastNotified = copyTime(a.LastNotified)
	return a
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
