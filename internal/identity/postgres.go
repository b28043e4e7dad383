package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// PostgresProvider implements Provider on a PostgreSQL table. A unique index
// on lower(email) enforces one identity per address.
type PostgresProvider struct {
	db         *sql.DB
	tableName  string
	bcryptCost int
}

// NewPostgresProvider creates the identities table if needed.
func NewPostgresProvider(ctx context.Context, db *sql.DB, tableName string, bcryptCost int) (*PostgresProvider, error) {
	if tableName == "" {
		tableName = "identities"
	}
	if !tableNamePattern.MatchString(tableName) {
		return nil, fmt.Errorf("identity: invalid table name %q", tableName)
	}
	p := &PostgresProvider{db: db, tableName: tableName, bcryptCost: bcryptCost}
	if err := p.createTable(ctx); err != nil {
		return nil, fmt.Errorf("identity: create table: %w", err)
	}
	return p, nil
}

func (p *PostgresProvider) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id             TEXT PRIMARY KEY,
			email          TEXT NOT NULL,
			password_hash  TEXT NOT NULL,
			claims         JSONB,
			email_verified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_email
			ON %s (LOWER(email));
	`, p.tableName, p.tableName, p.tableName)

	_, err := p.db.ExecContext(ctx, query)
	return err
}

func (p *PostgresProvider) CreateIdentity(ctx context.Context, email, password string) (Identity, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return Identity{}, err
	}
	hash, err := hashPassword(password, p.bcryptCost)
	if err != nil {
		return Identity{}, err
	}

	ident := Identity{ID: uuid.NewString(), Email: normalized}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, p.tableName)

	err = p.db.QueryRowContext(ctx, query, ident.ID, normalized, string(hash)).Scan(&ident.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Identity{}, ErrAlreadyExists
		}
		return Identity{}, fmt.Errorf("identity: insert: %w", err)
	}
	return ident, nil
}

func (p *PostgresProvider) DeleteIdentity(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, p.tableName)
	res, err := p.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("identity: delete: %w", err)
	}
	return requireRow(res)
}

func (p *PostgresProvider) SetClaims(ctx context.Context, id string, claims map[string]string) error {
	raw, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("identity: encode claims: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET claims = $2::jsonb WHERE id = $1`, p.tableName)
	res, err := p.db.ExecContext(ctx, query, id, string(raw))
	if err != nil {
		return fmt.Errorf("identity: set claims: %w", err)
	}
	return requireRow(res)
}

func (p *PostgresProvider) GetIdentity(ctx context.Context, id string) (Identity, error) {
	query := fmt.Sprintf(`
		SELECT id, email, claims, email_verified, created_at
		FROM %s WHERE id = $1
	`, p.tableName)

	ident, err := scanIdentity(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("identity: get: %w", err)
	}
	return ident, nil
}

func (p *PostgresProvider) ListIdentities(ctx context.Context, after string, limit int) ([]Identity, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT id, email, claims, email_verified, created_at
		FROM %s WHERE id > $1 ORDER BY id LIMIT $2
	`, p.tableName)

	rows, err := p.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, fmt.Errorf("identity: list: %w", err)
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("identity: scan: %w", err)
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}

// Close is a no-op; the shared pool is closed by its owner.
func (p *PostgresProvider) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIdentity(row rowScanner) (Identity, error) {
	var ident Identity
	var claims []byte
	if err := row.Scan(&ident.ID, &ident.Email, &claims, &ident.EmailVerified, &ident.CreatedAt); err != nil {
		return Identity{}, err
	}
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &ident.Claims); err != nil {
			return Identity{}, err
		}
	}
	return ident, nil
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
