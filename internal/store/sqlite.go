package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps activity records in an embedded SQLite database.
//
// The pool is limited to one connection and every call runs in its own
// transaction, so calls are strictly serialised. Migrations run exactly
// once, under a mutex, before the first call touches the schema.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.SugaredLogger
	now func() time.Time

	migrateMu sync.Mutex
	migrated  bool
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, log *zap.SugaredLogger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, activity.Persistence(errors.Wrap(err, "create database directory"))
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, activity.Persistence(errors.Wrap(err, "open database"))
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, activity.Persistence(errors.Wrapf(err, "open database %s", path))
	}
	log.Infow("database opened", "path", path, "wal_mode", true)
	return &SQLiteStore{db: db, log: log, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate applies pending migrations. It is safe to call repeatedly and
// concurrently; only the first successful call does any work.
func (s *SQLiteStore) Migrate(ctx context.Context) (int, error) {
	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()
	if s.migrated {
		return 0, nil
	}
	n, err := NewMigrator(s.db, Migrations(), s.log).Apply(ctx)
	if err != nil {
		return n, activity.Persistence(errors.Wrap(err, "migrate"))
	}
	s.migrated = true
	return n, nil
}

// inTx runs f in a transaction after making sure the schema is current.
func (s *SQLiteStore) inTx(ctx context.Context, op string, f func(tx *sql.Tx) error) error {
	if _, err := s.Migrate(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return activity.Persistence(errors.Wrapf(err, "%s: begin", op))
	}
	defer func() { _ = tx.Rollback() }()
	if err := f(tx); err != nil {
		return activity.Persistence(errors.Wrap(err, op))
	}
	if err := tx.Commit(); err != nil {
		return activity.Persistence(errors.Wrapf(err, "%s: commit", op))
	}
	return nil
}

func (s *SQLiteStore) Ensure(ctx context.Context, id activity.ID, at time.Time) error {
	return s.inTx(ctx, "ensure "+string(id), func(tx *sql.Tx) error {
		return ensure(ctx, tx, id, at, s.now())
	})
}

func ensure(ctx context.Context, tx *sql.Tx, id activity.ID, created, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO activity_records (activity_id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(activity_id) DO NOTHING`,
		string(id), created.UTC().Format(timeLayout), now.UTC().Format(timeLayout))
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, id activity.ID) (activity.Record, error) {
	var rec activity.Record
	err := s.inTx(ctx, "load "+string(id), func(tx *sql.Tx) error {
		var err error
		rec, err = load(ctx, tx, id)
		return err
	})
	return rec, err
}

func load(ctx context.Context, tx *sql.Tx, id activity.ID) (activity.Record, error) {
	rec := activity.NewRecord(id)
	var completed, notified sql.NullString
	var created string
	err := tx.QueryRowContext(ctx,
		`SELECT last_completed, last_notified, created_at FROM activity_records WHERE activity_id = ?`,
		string(id)).Scan(&completed, &notified, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return rec, err
	}
	if rec.LastCompleted, err = parseTime(completed); err != nil {
		return rec, errors.Wrap(err, "last_completed")
	}
	if rec.LastNotified, err = parseTime(notified); err != nil {
		return rec, errors.Wrap(err, "last_notified")
	}
	if rec.Created, err = time.Parse(timeLayout, created); err != nil {
		return rec, errors.Wrap(err, "created_at")
	}
	return rec, nil
}

// Save replaces the record and appends a history entry for each timestamp
// that changed.
func (s *SQLiteStore) Save(ctx context.Context, rec activity.Record) error {
	now := s.now()
	return s.inTx(ctx, "save "+string(rec.ActivityID), func(tx *sql.Tx) error {
		created := rec.Created
		if created.IsZero() {
			created = now
		}
		if err := ensure(ctx, tx, rec.ActivityID, created, now); err != nil {
			return err
		}
		prev, err := load(ctx, tx, rec.ActivityID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE activity_records SET last_completed = ?, last_notified = ?, updated_at = ? WHERE activity_id = ?`,
			formatTime(rec.LastCompleted), formatTime(rec.LastNotified), now.UTC().Format(timeLayout), string(rec.ActivityID))
		if err != nil {
			return err
		}
		for _, ev := range changes(prev, rec) {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO activity_events (id, activity_id, kind, at, recorded_at) VALUES (?, ?, ?, ?, ?)`,
				uuid.NewString(), string(ev.ActivityID), string(ev.Kind),
				ev.At.UTC().Format(timeLayout), now.UTC().Format(timeLayout))
			if err != nil {
				return errors.Wrap(err, "append history")
			}
		}
		return nil
	})
}

// History returns up to limit history entries for id, newest first.
func (s *SQLiteStore) History(ctx context.Context, id activity.ID, limit int) ([]Event, error) {
	var out []Event
	err := s.inTx(ctx, "history "+string(id), func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, kind, at, recorded_at FROM activity_events
			 WHERE activity_id = ? ORDER BY at DESC, recorded_at DESC LIMIT ?`,
			string(id), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ev Event
			var kind, at, recorded string
			if err := rows.Scan(&ev.ID, &kind, &at, &recorded); err != nil {
				return err
			}
			ev.ActivityID = id
			ev.Kind = EventKind(kind)
			if ev.At, err = time.Parse(timeLayout, at); err != nil {
				return err
			}
			if ev.RecordedAt, err = time.Parse(timeLayout, recorded); err != nil {
				return err
			}
			out = append(out, ev)
		}
		return rows.Err()
	})
	return out, err
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
