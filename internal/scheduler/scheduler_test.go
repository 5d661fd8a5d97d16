package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sweeney/fourbuttons/internal/activity"
	"github.com/sweeney/fourbuttons/internal/control"
	"github.com/sweeney/fourbuttons/internal/metrics"
	"github.com/sweeney/fourbuttons/internal/schedule"
	"github.com/sweeney/fourbuttons/internal/store"
)

var eight = time.Date(2020, 1, 1, 8, 0, 0, 0, time.UTC)

type inbox struct {
	mu     sync.Mutex
	msgs   []control.Message
	closed bool
}

func (b *inbox) Send(m control.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.msgs = append(b.msgs, m)
	return true
}

func (b *inbox) dues() []control.Due {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []control.Due
	for _, m := range b.msgs {
		out = append(out, m.(control.Due))
	}
	return out
}

type dueLog map[activity.ID]time.Time

func (d dueLog) ObserveDue(id activity.ID, due, _ time.Time) { d[id] = due }

func def(id activity.ID, at schedule.TimeOfDay) activity.Definition {
	return activity.Definition{
		ID:                id,
		Name:              string(id),
		Rule:              schedule.Daily(at).In(time.UTC),
		GracePeriod:       time.Hour,
		EscalationTimeout: 30 * time.Minute,
	}
}

func setup(t *testing.T, defs ...activity.Definition) (*Scheduler, *store.MemoryStore, map[activity.ID]*inbox, dueLog) {
	st := store.NewMemoryStore()
	boxes := make(map[activity.ID]*inbox)
	actors := make(map[activity.ID]Sender)
	for _, d := range defs {
		b := &inbox{}
		boxes[d.ID] = b
		actors[d.ID] = b
	}
	obs := dueLog{}
	s := New(defs, st, actors, zaptest.NewLogger(t).Sugar(), metrics.New(), obs)
	return s, st, boxes, obs
}

func ptr(t time.Time) *time.Time { return &t }

func TestNewlyDue(t *testing.T) {
	tests := []struct {
		name     string
		due      time.Time
		now      time.Time
		notified *time.Time
		want     bool
	}{
		{"future", eight.Add(time.Minute), eight, nil, false},
		{"exactly due", eight, eight, nil, true},
		{"overdue never notified", eight, eight.Add(3 * time.Hour), nil, true},
		{"notified within grace", eight, eight.Add(time.Hour), ptr(eight.Add(30 * time.Minute)), false},
		{"grace boundary", eight, eight.Add(90 * time.Minute), ptr(eight.Add(30 * time.Minute)), false},
		{"grace elapsed", eight, eight.Add(91 * time.Minute), ptr(eight.Add(30 * time.Minute)), true},
		{"future even after grace", eight.Add(time.Hour), eight, ptr(eight.Add(-24 * time.Hour)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewlyDue(tt.due, tt.now, tt.notified, time.Hour))
		})
	}
}

func TestTickBeforeDueSendsNothing(t *testing.T) {
	s, st, boxes, obs := setup(t, def("pills", schedule.TimeOfDay{Hour: 8}))

	assert.Zero(t, s.Tick(context.Background(), eight.Add(-time.Second)))
	assert.Empty(t, boxes["pills"].dues())
	assert.Equal(t, eight, obs["pills"])

	_, ok := st.Record("pills")
	assert.True(t, ok, "record should be created on first tick")
}

func TestTickDispatchesDue(t *testing.T) {
	s, _, boxes, _ := setup(t, def("pills", schedule.TimeOfDay{Hour: 8}))

	assert.Equal(t, 1, s.Tick(context.Background(), eight))
	require.Len(t, boxes["pills"].dues(), 1)
	assert.Equal(t, control.Due{Due: eight, At: eight}, boxes["pills"].dues()[0])
}

func TestTickRespectsGrace(t *testing.T) {
	s, st, boxes, _ := setup(t, def("pills", schedule.TimeOfDay{Hour: 8}))
	completed := eight.Add(-24 * time.Hour)
	st.Put(activity.Record{ActivityID: "pills", LastCompleted: &completed, LastNotified: ptr(eight.Add(30 * time.Minute))})

	ctx := context.Background()
	for now := eight.Add(31 * time.Minute); !now.After(eight.Add(90 * time.Minute)); now = now.Add(time.Minute) {
		s.Tick(ctx, now)
	}
	assert.Empty(t, boxes["pills"].dues())

	s.Tick(ctx, eight.Add(91*time.Minute))
	require.Len(t, boxes["pills"].dues(), 1)
	assert.Equal(t, eight, boxes["pills"].dues()[0].Due)
}

func TestTickNeverWrites(t *testing.T) {
	s, st, _, _ := setup(t, def("pills", schedule.TimeOfDay{Hour: 8}))
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		s.Tick(ctx, eight.Add(time.Duration(i)*time.Minute))
	}
	_, saves := st.Stats()
	assert.Zero(t, saves)
}

func TestPersistenceFailureIsolated(t *testing.T) {
	s, st, boxes, _ := setup(t,
		def("pills", schedule.TimeOfDay{Hour: 8}),
		def("plants", schedule.TimeOfDay{Hour: 8}),
	)
	assert.Zero(t, s.Tick(context.Background(), eight.Add(-time.Minute)))
	st.FailLoad("pills", errors.New("locked"))

	assert.Equal(t, 1, s.Tick(context.Background(), eight))
	assert.Empty(t, boxes["pills"].dues())
	assert.Len(t, boxes["plants"].dues(), 1)

	st.FailLoad("pills", nil)
	assert.Equal(t, 2, s.Tick(context.Background(), eight.Add(time.Second)))
	assert.Len(t, boxes["pills"].dues(), 1)
}

func TestClosedActorNotCounted(t *testing.T) {
	s, _, boxes, _ := setup(t, def("pills", schedule.TimeOfDay{Hour: 8}))
	boxes["pills"].closed = true
	assert.Zero(t, s.Tick(context.Background(), eight))
}

func TestCompletedOccurrenceNotRedispatched(t *testing.T) {
	s, st, boxes, obs := setup(t, def("pills", schedule.TimeOfDay{Hour: 8}))
	st.Put(activity.Record{ActivityID: "pills", LastCompleted: ptr(eight.Add(time.Minute))})

	assert.Zero(t, s.Tick(context.Background(), eight.Add(2*time.Minute)))
	assert.Empty(t, boxes["pills"].dues())
	assert.Equal(t, eight.Add(24*time.Hour), obs["pills"])
}

func TestFreshRecordDueOnUnalignedTicks(t *testing.T) {
	s, st, boxes, _ := setup(t, def("pills", schedule.TimeOfDay{Hour: 8}))
	ctx := context.Background()

	start := eight.Add(-time.Hour).Add(123 * time.Millisecond)
	var first *time.Time
	for now := start; now.Before(start.Add(2 * time.Hour)); now = now.Add(time.Second) {
		if s.Tick(ctx, now) == 1 && first == nil {
			first = ptr(now)
		}
	}

	require.NotNil(t, first, "never dispatched")
	assert.Equal(t, eight.Add(123*time.Millisecond), *first)
	dues := boxes["pills"].dues()
	require.NotEmpty(t, dues)
	for _, d := range dues {
		assert.Equal(t, eight, d.Due)
	}
	// Unanswered, the occurrence stays due on every tick after it.
	assert.Len(t, dues, 3600)

	rec, ok := st.Record("pills")
	require.True(t, ok)
	assert.Equal(t, start, rec.Created)
}

func TestFreshRecordAfterOccurrenceWaitsForNext(t *testing.T) {
	s, _, boxes, obs := setup(t, def("pills", schedule.TimeOfDay{Hour: 8}))
	ctx := context.Background()

	installed := eight.Add(2 * time.Hour).Add(500 * time.Millisecond)
	assert.Zero(t, s.Tick(ctx, installed))
	assert.Equal(t, eight.Add(24*time.Hour), obs["pills"])

	assert.Equal(t, 1, s.Tick(ctx, eight.Add(24*time.Hour).Add(700*time.Millisecond)))
	assert.Equal(t, eight.Add(24*time.Hour), boxes["pills"].dues()[0].Due)
}

func TestCreationTimeSurvivesRestart(t *testing.T) {
	s, st, boxes, _ := setup(t, def("pills", schedule.TimeOfDay{Hour: 8}))
	// Created by an earlier run before today's occurrence.
	st.Put(activity.Record{ActivityID: "pills", Created: eight.Add(-3 * time.Hour)})

	assert.Equal(t, 1, s.Tick(context.Background(), eight.Add(90*time.Minute+250*time.Millisecond)))
	assert.Equal(t, eight, boxes["pills"].dues()[0].Due)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _, boxes, _ := setup(t, def("pills", schedule.TimeOfDay{Hour: 8}))
	ctx, cancel := context.WithCancel(context.Background())
	tick := make(chan time.Time)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, tick, func() time.Time { return eight }) }()

	tick <- time.Time{}
	tick <- time.Time{}
	cancel()
	require.NoError(t, <-done)
	assert.Len(t, boxes["pills"].dues(), 2)
}
