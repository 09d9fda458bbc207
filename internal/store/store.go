package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migration upgrades a run log written by an older build.
type migration struct {
	version int
	stmt    string
}

// migrations run in order against any log whose user_version is below
// their version. Version 0 is the bare schema.sql layout.
var migrations = []migration{
	// Per-task event lookups for trace --task and replay divergence reports.
	{1, `CREATE INDEX IF NOT EXISTS idx_events_task ON events(run_id, task, idx)`},
}

var currentSchemaVersion = migrations[len(migrations)-1].version

// connectionPragmas configure every run log connection. Runs are recorded
// by one writer while trace and replay may read concurrently.
var connectionPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON", // events must belong to a recorded run
}

// Store is the SQLite run log: one row per scenario run and the ordered
// event trace each run produced.
type Store struct {
	db *sql.DB
}

// Open opens the run log at path, creating it if needed, and upgrades its
// schema to the current version. Opening an up to date log is a no-op.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}

	// One writer; events of a run are written inside a single transaction.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := configureConnection(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := upgradeSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the run log.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func configureConnection(db *sql.DB) error {
	for _, pragma := range connectionPragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("configure run log: %q: %w", pragma, err)
		}
	}
	return nil
}

// upgradeSchema creates the runs and events tables and applies pending
// migrations, tracked in PRAGMA user_version.
func upgradeSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create run log tables: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migrate run log to v%d: %w", m.version, err)
		}
	}

	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
