// Package store persists schedule events and calendar integrations in SQLite.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would break a uniqueness rule, such
	// as two events linked to the same external id.
	ErrConflict = errors.New("conflicts with an existing record")
)

// DefaultPath is the database location under the XDG data directory.
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, "calsync", "calsync.db")
}

// Open opens (creating if needed) the database at path with WAL journaling
// and applies the schema. ":memory:" opens a private in-memory database.
func Open(path string) (*sqlx.DB, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL"
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection avoids "database is locked" and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
