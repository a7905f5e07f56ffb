// Package store is a small JSON document store on top of SQLite.
//
// Every document lives in one row of the documents table, keyed by collection
// and id. Queries filter on top-level JSON fields with equality predicates.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store errors.
var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrInvalidField  = errors.New("invalid field name")
)

// Store manages the documents database
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies pending migrations
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// New wraps an already open database without migrating it
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// dsn opens write transactions with BEGIN IMMEDIATE so concurrent writers queue
// on the busy timeout instead of failing on lock upgrade.
func dsn(path string) string {
	return fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on", path)
}

// Migrate applies the embedded schema migrations
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// The migrator is not closed: closing the sqlite3 driver closes s.db.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Get loads the document into v
func (s *Store) Get(ctx context.Context, collection, id string, v any) error {
	return get(ctx, s.db, collection, id, v)
}

// Query returns the documents of collection matching every predicate, ordered by id
func (s *Store) Query(ctx context.Context, collection string, where ...Where) ([]Document, error) {
	return query(ctx, s.db, collection, where)
}

// Create inserts a new document and fails with ErrAlreadyExists if the id is taken
func (s *Store) Create(ctx context.Context, collection, id string, v any) error {
	return create(ctx, s.db, collection, id, v)
}

// Set inserts or replaces a document
func (s *Store) Set(ctx context.Context, collection, id string, v any) error {
	return set(ctx, s.db, collection, id, v)
}

// Update merges fields into an existing document. A nil value removes the field.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return update(ctx, s.db, collection, id, fields)
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return remove(ctx, s.db, collection, id)
}

// RunTransaction runs fn inside a write transaction. The transaction commits when
// fn returns nil and rolls back otherwise, including on panic.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Tx is a store transaction. It is only valid inside RunTransaction.
type Tx struct {
	tx *sql.Tx
}

// Get loads the document into v
func (t *Tx) Get(ctx context.Context, collection, id string, v any) error {
	return get(ctx, t.tx, collection, id, v)
}

// Query returns the documents of collection matching every predicate, ordered by id
func (t *Tx) Query(ctx context.Context, collection string, where ...Where) ([]Document, error) {
	return query(ctx, t.tx, collection, where)
}

// Create inserts a new document and fails with ErrAlreadyExists if the id is taken
func (t *Tx) Create(ctx context.Context, collection, id string, v any) error {
	return create(ctx, t.tx, collection, id, v)
}

// Set inserts or replaces a document
func (t *Tx) Set(ctx context.Context, collection, id string, v any) error {
	return set(ctx, t.tx, collection, id, v)
}

// Update merges fields into an existing document. A nil value removes the field.
func (t *Tx) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return update(ctx, t.tx, collection, id, fields)
}

// Delete removes a document
func (t *Tx) Delete(ctx context.Context, collection, id string) error {
	return remove(ctx, t.tx, collection, id)
}

// Querier is implemented by both Store and Tx.
type Querier interface {
	Get(ctx context.Context, collection, id string, v any) error
	Query(ctx context.Context, collection string, where ...Where) ([]Document, error)
	Create(ctx context.Context, collection, id string, v any) error
	Set(ctx context.Context, collection, id string, v any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
}

var (
	_ Querier = (*Store)(nil)
	_ Querier = (*Tx)(nil)
)
