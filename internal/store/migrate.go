package store

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migration is a single versioned schema change.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator applies versioned migrations, each in its own transaction
// together with the schema_version bump.
type Migrator struct {
	db  *sql.DB
	fs  fs.FS
	log *zap.SugaredLogger
}

// NewMigrator returns a migrator reading NNN_name.sql files from migrationFS.
func NewMigrator(db *sql.DB, migrationFS fs.FS, log *zap.SugaredLogger) *Migrator {
	return &Migrator{db: db, fs: migrationFS, log: log}
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`)
	return err
}

// CurrentVersion returns the applied schema version, 0 for a fresh database.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	if err := m.ensureVersionTable(ctx); err != nil {
		return 0, errors.Wrap(err, "ensure schema_version table")
	}
	var version int
	err := m.db.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read schema version")
	}
	return version, nil
}

// Read parses the migration files, sorted by version.
func (m *Migrator) Read() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fs, ".")
	if err != nil {
		return nil, errors.Wrap(err, "read migrations directory")
	}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		num, rest, ok := strings.Cut(e.Name(), "_")
		if !ok {
			return nil, errors.Newf("invalid migration filename %s (expected NNN_name.sql)", e.Name())
		}
		version, err := strconv.Atoi(num)
		if err != nil || version < 1 {
			return nil, errors.Newf("invalid version number in migration filename %s", e.Name())
		}
		body, err := fs.ReadFile(m.fs, e.Name())
		if err != nil {
			return nil, errors.Wrapf(err, "read migration %s", e.Name())
		}
		out = append(out, Migration{Version: version, Name: strings.TrimSuffix(rest, ".sql"), SQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, errors.Newf("duplicate migration version %d", out[i].Version)
		}
	}
	return out, nil
}

// Apply applies every pending migration and returns how many ran.
func (m *Migrator) Apply(ctx context.Context) (int, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return 0, err
	}
	migrations, err := m.Read()
	if err != nil {
		return 0, err
	}
	if len(migrations) == 0 {
		return 0, nil
	}
	latest := migrations[len(migrations)-1].Version
	if current > latest {
		return 0, errors.Newf("database schema version %d is newer than supported version %d", current, latest)
	}

	applied := 0
	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.applyOne(ctx, mig); err != nil {
			return applied, err
		}
		applied++
		m.log.Infow("applied migration", "version", mig.Version, "name", mig.Name)
	}
	return applied, nil
}

func (m *Migrator) applyOne(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "begin migration %d", mig.Version)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return errors.Wrapf(err, "apply migration %d (%s)", mig.Version, mig.Name)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
		return errors.Wrapf(err, "clear schema version in migration %d", mig.Version)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, mig.Version); err != nil {
		return errors.Wrapf(err, "set schema version in migration %d", mig.Version)
	}
	return errors.Wrapf(tx.Commit(), "commit migration %d", mig.Version)
}
