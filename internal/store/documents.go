package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// fieldPattern limits query fields to plain identifiers so they can be spliced
// into a JSON path and match the expression indexes.
var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// execer is the subset of *sql.DB and *sql.Tx the store needs.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Document is a raw stored document.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Decode unmarshals the document into v
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", d.ID, err)
	}
	return nil
}

// Where is an equality predicate on a top-level document field.
type Where struct {
	Field string
	Value any
}

// Eq matches documents whose field equals value. A nil value matches documents
// where the field is absent or null.
func Eq(field string, value any) Where {
	return Where{Field: field, Value: value}
}

func get(ctx context.Context, db execer, collection, id string, v any) error {
	var data []byte
	err := db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
	}
	return nil
}

func query(ctx context.Context, db execer, collection string, where []Where) ([]Document, error) {
	var sb strings.Builder
	sb.WriteString("SELECT id, data FROM documents WHERE collection = ?")
	args := []any{collection}

	for _, w := range where {
		if !fieldPattern.MatchString(w.Field) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidField, w.Field)
		}
		expr := fmt.Sprintf("json_extract(data, '$.%s')", w.Field)
		if w.Value == nil {
			sb.WriteString(" AND " + expr + " IS NULL")
			continue
		}
		sb.WriteString(" AND " + expr + " = ?")
		args = append(args, normalize(w.Value))
	}
	sb.WriteString(" ORDER BY id")

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
		}
		docs = append(docs, Document{ID: id, Data: json.RawMessage(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", collection, err)
	}

	return docs, nil
}

func create(ctx context.Context, db execer, collection, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}

	now := time.Now().UTC().UnixMilli()
	res, err := db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO NOTHING
	`, collection, id, string(data), now, now)
	if err != nil {
		return fmt.Errorf("failed to create %s/%s: %w", collection, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrAlreadyExists)
	}
	return nil
}

func set(ctx context.Context, db execer, collection, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}

	now := time.Now().UTC().UnixMilli()
	_, err = db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, collection, id, string(data), now, now)
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
	}
	return nil
}

// update applies fields as a JSON merge patch, so null values delete keys.
func update(ctx context.Context, db execer, collection, id string, fields map[string]any) error {
	for field := range fields {
		if !fieldPattern.MatchString(field) {
			return fmt.Errorf("%w: %q", ErrInvalidField, field)
		}
	}

	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode update for %s/%s: %w", collection, id, err)
	}

	res, err := db.ExecContext(ctx,
		"UPDATE documents SET data = json_patch(data, ?), updated_at = ? WHERE collection = ? AND id = ?",
		string(patch), time.Now().UTC().UnixMilli(), collection, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func remove(ctx context.Context, db execer, collection, id string) error {
	_, err := db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// normalize converts a predicate value into what json_extract yields for it.
// JSON booleans come back as 0 and 1; named string types become plain strings.
func normalize(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return 1
		}
		return 0
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	default:
		return v
	}
}
