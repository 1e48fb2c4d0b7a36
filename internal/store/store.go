package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Journal schema history, tracked through PRAGMA user_version:
//
//	0  fresh file, schema.sql not yet applied
//	1  adds the (doc_id, node_id) index for per-node log queries
const schemaVersion = 1

// Store is the SQLite-backed mutation journal. Sessions append every
// applied mutation here, stamped with their logical clock, so a document
// can be reconstructed by replaying its rows in seq order.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path and brings its schema up
// to date. Safe to call repeatedly on the same file.
//
// Every caller gets the same SQLite configuration: WAL so readers keep
// going during writes, synchronous=NORMAL, a 5 second busy timeout and
// foreign key enforcement. The pool is pinned to one connection; SQLite
// has a single writer and a second connection would only manufacture
// SQLITE_BUSY errors.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func configure(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// migrate applies schema.sql, then walks the version ladder. Every step
// is idempotent, so a file that is already current passes through
// unchanged and an old file picks up exactly what it is missing.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	if version < 1 {
		// schema.sql already creates the index for new files;
		// IF NOT EXISTS covers them and pre-v1 files alike.
		if _, err := db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_mutations_node
			ON mutations(doc_id, node_id)
		`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("write user_version: %w", err)
	}
	return nil
}

// verifyPragma reports whether a pragma holds the expected value.
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
