package store

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// MemoryStore is an in-memory Gateway for tests and dry runs. Failures can
// be injected per activity.
type MemoryStore struct {
	mu      sync.Mutex
	records map[activity.ID]activity.Record
	history []Event

	loadErr map[activity.ID]error
	saveErr map[activity.ID]error

	loads int
	saves int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[activity.ID]activity.Record),
		loadErr: make(map[activity.ID]error),
		saveErr: make(map[activity.ID]error),
	}
}

// FailLoad makes Ensure and Load for id return err until cleared with nil.
func (m *MemoryStore) FailLoad(id activity.ID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr[id] = err
}

// FailSave makes Save for id return err until cleared with nil.
func (m *MemoryStore) FailSave(id activity.ID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr[id] = err
}

// Put stores rec directly, bypassing failure injection and history.
func (m *MemoryStore) Put(rec activity.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ActivityID] = copyRecord(rec)
}

func (m *MemoryStore) Ensure(_ context.Context, id activity.ID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadErr[id]; err != nil {
		return activity.Persistence(errors.Wrapf(err, "ensure %s", id))
	}
	if _, ok := m.records[id]; !ok {
		rec := activity.NewRecord(id)
		rec.Created = at
		m.records[id] = rec
	}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id activity.ID) (activity.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if err := m.loadErr[id]; err != nil {
		return activity.NewRecord(id), activity.Persistence(errors.Wrapf(err, "load %s", id))
	}
	rec, ok := m.records[id]
	if !ok {
		return activity.NewRecord(id), nil
	}
	return copyRecord(rec), nil
}

func (m *MemoryStore) Save(_ context.Context, rec activity.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if err := m.saveErr[rec.ActivityID]; err != nil {
		return activity.Persistence(errors.Wrapf(err, "save %s", rec.ActivityID))
	}
	now := time.Now()
	for _, ev := range changes(m.records[rec.ActivityID], rec) {
		ev.ID = uuid.NewString()
		ev.RecordedAt = now
		m.history = append(m.history, ev)
	}
	if prev, ok := m.records[rec.ActivityID]; ok {
		rec.Created = prev.Created
	} else if rec.Created.IsZero() {
		rec.Created = now
	}
	m.records[rec.ActivityID] = copyRecord(rec)
	return nil
}

// Record returns the stored record and whether it exists.
func (m *MemoryStore) Record(id activity.ID) (activity.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return copyRecord(rec), ok
}

// History returns every history entry for id, oldest first.
func (m *MemoryStore) History(id activity.ID) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.history {
		if ev.ActivityID == id {
			out = append(out, ev)
		}
	}
	return out
}

// Stats returns the Load and Save call counts.
func (m *MemoryStore) Stats() (loads, saves int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads, m.saves
}

func copyRecord(r activity.Record) activity.Record {
	out := activity.Record{ActivityID: r.ActivityID, Created: r.Created}
	if r.LastCompleted != nil {
		t := *r.LastCompleted
		out.LastCompleted = &t
	}
	if r.LastNotified != nil {
		t := *r.LastNotified
		out.LastNotified = &t
	}
	return out
}
