package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sweeney/fourbuttons/internal/activity"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state", "fourbuttons.db"), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ts(s string) *time.Time {
	v, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(err)
	}
	return &v
}

func gateways(t *testing.T) map[string]Gateway {
	return map[string]Gateway{
		"sqlite": openTestStore(t),
		"memory": NewMemoryStore(),
	}
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	for name, g := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := g.Load(context.Background(), "pills")
			require.NoError(t, err)
			assert.Equal(t, activity.NewRecord("pills"), rec)
		})
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	for name, g := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created := ts("2020-01-01T07:00:00.5Z")
			require.NoError(t, g.Ensure(ctx, "plants", *created))
			require.NoError(t, g.Save(ctx, activity.Record{ActivityID: "plants", LastCompleted: ts("2020-01-01T08:00:05Z")}))
			require.NoError(t, g.Ensure(ctx, "plants", created.Add(48*time.Hour)))

			rec, err := g.Load(ctx, "plants")
			require.NoError(t, err)
			require.NotNil(t, rec.LastCompleted)
			assert.True(t, rec.LastCompleted.Equal(*ts("2020-01-01T08:00:05Z")))
			// Neither Save nor a second Ensure moves the creation time.
			assert.True(t, rec.Created.Equal(*created), "created %s", rec.Created)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for name, g := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := activity.Record{
				ActivityID:    "pills",
				LastCompleted: ts("2020-01-01T08:00:05.123456789Z"),
				LastNotified:  ts("2020-01-02T08:30:00+02:00"),
			}
			require.NoError(t, g.Save(ctx, in))

			out, err := g.Load(ctx, "pills")
			require.NoError(t, err)
			require.NotNil(t, out.LastCompleted)
			require.NotNil(t, out.LastNotified)
			assert.True(t, out.LastCompleted.Equal(*in.LastCompleted))
			assert.True(t, out.LastNotified.Equal(*in.LastNotified))

			// Clearing a field persists as nil.
			in.LastNotified = nil
			require.NoError(t, g.Save(ctx, in))
			out, err = g.Load(ctx, "pills")
			require.NoError(t, err)
			assert.Nil(t, out.LastNotified)
		})
	}
}

func TestSQLiteDurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fourbuttons.db")
	log := zaptest.NewLogger(t).Sugar()
	ctx := context.Background()

	s, err := OpenSQLite(path, log)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, activity.Record{ActivityID: "pills", LastNotified: ts("2020-01-01T08:30:00Z")}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, log)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Migrate(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "migrations re-applied on reopen")

	rec, err := s.Load(ctx, "pills")
	require.NoError(t, err)
	require.NotNil(t, rec.LastNotified)
	assert.True(t, rec.LastNotified.Equal(*ts("2020-01-01T08:30:00Z")))
}

func TestSaveWithoutEnsureSetsCreated(t *testing.T) {
	for name, g := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, g.Save(ctx, activity.Record{ActivityID: "pills", LastNotified: ts("2020-01-01T08:30:00Z")}))

			rec, err := g.Load(ctx, "pills")
			require.NoError(t, err)
			assert.False(t, rec.Created.IsZero())
			require.NotNil(t, rec.Anchor())
		})
	}
}

func TestSQLiteHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := activity.Record{ActivityID: "pills"}
	require.NoError(t, s.Save(ctx, rec))

	rec.LastNotified = ts("2020-01-01T08:30:00Z")
	require.NoError(t, s.Save(ctx, rec))
	// Unchanged save adds nothing.
	require.NoError(t, s.Save(ctx, rec))

	rec.LastCompleted = ts("2020-01-01T09:00:00Z")
	require.NoError(t, s.Save(ctx, rec))

	events, err := s.History(ctx, "pills", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventCompleted, events[0].Kind)
	assert.Equal(t, EventNotified, events[1].Kind)
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.True(t, events[0].At.Equal(*rec.LastCompleted))

	other, err := s.History(ctx, "plants", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteConcurrentFirstUse(t *testing.T) {
	// Every caller races to migrate on first use.
	s := openTestStore(t)
	ctx := context.Background()

	ids := []activity.ID{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 25; i++ {
		for _, id := range ids {
			wg.Add(1)
			go func(id activity.ID, i int) {
				defer wg.Done()
				if err := s.Ensure(ctx, id, time.Date(2020, 1, 1, 7, 0, 0, 0, time.UTC)); err != nil {
					errs <- err
					return
				}
				at := time.Date(2020, 1, 1, 8, 0, i, 0, time.UTC)
				if err := s.Save(ctx, activity.Record{ActivityID: id, LastCompleted: &at}); err != nil {
					errs <- err
					return
				}
				if _, err := s.Load(ctx, id); err != nil {
					errs <- err
				}
			}(id, i)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent access failed: %v", err)
	}

	for _, id := range ids {
		rec, err := s.Load(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, rec.LastCompleted)
	}
}

func TestSQLiteErrorsArePersistenceErrors(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Load(context.Background(), "pills")
	require.Error(t, err)
	assert.True(t, errors.Is(err, activity.ErrPersistence))
}

func TestMigratorAppliesInOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := NewMigrator(s.db, fstest.MapFS{
		"002_second.sql": {Data: []byte(`ALTER TABLE things ADD COLUMN name TEXT;`)},
		"001_first.sql":  {Data: []byte(`CREATE TABLE things (id INTEGER PRIMARY KEY);`)},
		"README.md":      {Data: []byte(`ignored`)},
	}, zaptest.NewLogger(t).Sugar())

	migrations, err := m.Read()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "first", migrations[0].Name)

	n, err := m.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	v, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	n, err = m.Apply(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMigratorRejectsBadFiles(t *testing.T) {
	s := openTestStore(t)
	log := zaptest.NewLogger(t).Sugar()

	_, err := NewMigrator(s.db, fstest.MapFS{"init.sql": {Data: []byte(`SELECT 1;`)}}, log).Read()
	assert.Error(t, err)

	_, err = NewMigrator(s.db, fstest.MapFS{
		"001_a.sql": {Data: []byte(`SELECT 1;`)},
		"1_b.sql":   {Data: []byte(`SELECT 1;`)},
	}, log).Read()
	assert.ErrorContains(t, err, "duplicate migration version 1")
}

func TestMigratorFailedMigrationRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := NewMigrator(s.db, fstest.MapFS{
		"001_ok.sql":  {Data: []byte(`CREATE TABLE ok (id INTEGER);`)},
		"002_bad.sql": {Data: []byte(`CREATE TABLE broken (;`)},
	}, zaptest.NewLogger(t).Sugar())

	n, err := m.Apply(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	v, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestMemoryStoreFailureInjection(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("disk on fire")

	m.FailLoad("pills", boom)
	_, err := m.Load(ctx, "pills")
	assert.True(t, errors.Is(err, activity.ErrPersistence))
	assert.True(t, errors.Is(m.Ensure(ctx, "pills", time.Now()), activity.ErrPersistence))
	_, err = m.Load(ctx, "plants")
	assert.NoError(t, err, "failure leaked to another activity")

	m.FailLoad("pills", nil)
	_, err = m.Load(ctx, "pills")
	assert.NoError(t, err)

	m.FailSave("pills", boom)
	err = m.Save(ctx, activity.Record{ActivityID: "pills", LastCompleted: ts("2020-01-01T08:00:00Z")})
	assert.True(t, errors.Is(err, activity.ErrPersistence))
	_, ok := m.Record("pills")
	assert.False(t, ok)

	loads, saves := m.Stats()
	assert.Equal(t, 3, loads)
	assert.Equal(t, 1, saves)
}

func TestMemoryStoreCopiesRecords(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	at := *ts("2020-01-01T08:00:00Z")
	require.NoError(t, m.Save(ctx, activity.Record{ActivityID: "pills", LastCompleted: &at}))
	at = at.Add(time.Hour)

	rec, err := m.Load(ctx, "pills")
	require.NoError(t, err)
	assert.True(t, rec.LastCompleted.Equal(*ts("2020-01-01T08:00:00Z")))
	require.Len(t, m.History("pills"), 1)
}
