package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/lib/pq"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// PostgresStore implements Store on a single JSONB table keyed by
// (collection, id). Timestamps come from the database clock.
type PostgresStore struct {
	db        *sql.DB
	tableName string
}

// NewPostgresStore creates the documents table if needed.
func NewPostgresStore(ctx context.Context, db *sql.DB, tableName string) (*PostgresStore, error) {
	if tableName == "" {
		tableName = "documents"
	}
	if !tableNamePattern.MatchString(tableName) {
		return nil, fmt.Errorf("documents: invalid table name %q", tableName)
	}
	s := &PostgresStore{db: db, tableName: tableName}
	if err := s.createTable(ctx); err != nil {
		return nil, fmt.Errorf("documents: create table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			fields     JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		);

		CREATE INDEX IF NOT EXISTS idx_%s_fields
			ON %s USING GIN (fields jsonb_path_ops);
	`, s.tableName, s.tableName, s.tableName)

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Create inserts the document inside a transaction so the row and its
// server-assigned timestamps become visible together.
func (s *PostgresStore) Create(ctx context.Context, collection, id string, fields map[string]interface{}) (Document, error) {
	if err := validateKey(collection, id); err != nil {
		return Document{}, err
	}
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	payload, err := marshalFields(fields)
	if err != nil {
		return Document{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("documents: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	query := fmt.Sprintf(`
		INSERT INTO %s (collection, id, fields)
		VALUES ($1, $2, $3::jsonb)
		RETURNING fields, created_at, updated_at
	`, s.tableName)

	doc := Document{Collection: collection, ID: id}
	var stored []byte
	err = tx.QueryRowContext(ctx, query, collection, id, payload).Scan(&stored, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Document{}, ErrAlreadyExists
		}
		return Document{}, fmt.Errorf("documents: insert %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("documents: commit: %w", err)
	}

	if err := json.Unmarshal(stored, &doc.Fields); err != nil {
		return Document{}, fmt.Errorf("documents: decode fields: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT fields, created_at, updated_at FROM %s
		WHERE collection = $1 AND id = $2
	`, s.tableName)

	doc := Document{Collection: collection, ID: id}
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, collection, id).Scan(&raw, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("documents: get %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal(raw, &doc.Fields); err != nil {
		return Document{}, fmt.Errorf("documents: decode fields: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	payload, err := marshalFields(fields)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s SET fields = fields || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2
	`, s.tableName)

	res, err := s.db.ExecContext(ctx, query, collection, id, payload)
	if err != nil {
		return fmt.Errorf("documents: update %s/%s: %w", collection, id, err)
	}
	return requireRow(res)
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE collection = $1 AND id = $2`, s.tableName)
	res, err := s.db.ExecContext(ctx, query, collection, id)
	if err != nil {
		return fmt.Errorf("documents: delete %s/%s: %w", collection, id, err)
	}
	return requireRow(res)
}

func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Document, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	containment, err := containmentFilter(q.Filters)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, fields, created_at, updated_at FROM %s
		WHERE collection = $1 AND fields @> $2::jsonb AND id > $3
		ORDER BY id
	`, s.tableName)
	args := []interface{}{q.Collection, containment, q.After}
	if q.Limit > 0 {
		query += " LIMIT $4"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("documents: query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc := Document{Collection: q.Collection}
		var raw []byte
		if err := rows.Scan(&doc.ID, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("documents: scan: %w", err)
		}
		if err := json.Unmarshal(raw, &doc.Fields); err != nil {
			return nil, fmt.Errorf("documents: decode fields: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Close is a no-op; the shared pool is closed by its owner.
func (s *PostgresStore) Close() error {
	return nil
}

// containmentFilter renders equality filters as a JSONB containment document.
func containmentFilter(filters []Filter) (string, error) {
	m := make(map[string]interface{}, len(filters))
	for _, f := range filters {
		m[f.Field] = f.Value
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("documents: encode filters: %w", err)
	}
	return string(raw), nil
}

func marshalFields(fields map[string]interface{}) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("documents: encode fields: %w", err)
	}
	return string(raw), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
