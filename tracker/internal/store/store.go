// Package store persists snapshots and validity-ranged row-versions in
// SQLite and answers "active as of snapshot S" queries by range containment.
//
// The store exclusively owns row-version storage. The ingest engine proposes
// transitions through the DBTX-taking write methods inside one transaction;
// the diff engine and the conflation tool only read.
package store

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx. Write
// methods take it so an ingest can run every transition inside a single
// transaction while tests and one-off tools pass the bare handle.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Store wraps the tracker database.
type Store struct {
	DB *sql.DB
}

// New creates a Store from an already-opened database connection.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// ApplySchema creates all tables and indexes.
func (s *Store) ApplySchema() error {
	_, err := s.DB.Exec(Schema)
	return err
}
