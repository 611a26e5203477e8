package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Layout: one row per session, (sid text PK, sess jsonb, expire timestamptz).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	table  string
	ttl    time.Duration
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "sockpress").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("session: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithTable sets the table name (default: "sessions").
func WithTable(table string) PostgresOption {
	return func(s *PostgresStore) error {
		table = strings.TrimSpace(table)
		if !isValidPGIdent(table) {
			return errors.New("session: invalid table identifier")
		}
		s.table = table
		return nil
	}
}

// WithPostgresTTL sets the document lifetime (default DefaultTTL).
func WithPostgresTTL(ttl time.Duration) PostgresOption {
	return func(s *PostgresStore) error {
		if ttl <= 0 {
			return errors.New("session: ttl must be positive")
		}
		s.ttl = ttl
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "sockpress",
		table:  "sessions",
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("session: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Migrate creates the schema, table and expiry index when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	tbl := s.ident()
	idx := pgx.Identifier{s.table + "_expire_idx"}.Sanitize()

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + tbl + ` (
		     sid    text PRIMARY KEY,
		     sess   jsonb NOT NULL,
		     expire timestamptz NOT NULL
		 )`,
		`CREATE INDEX IF NOT EXISTS ` + idx + ` ON ` + tbl + ` (expire)`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("session: migrate: %w", err)
		}
	}
	return nil
}

// Get loads a live document.
func (s *PostgresStore) Get(ctx context.Context, id string) (Values, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("session: nil store")
	}
	if id == "" {
		return nil, ErrNotFound
	}

	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT sess FROM `+s.ident()+` WHERE sid = $1 AND expire > now()`,
		id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeValues(raw)
}

// Set upserts the document and resets its expiry.
func (s *PostgresStore) Set(ctx context.Context, id string, v Values) error {
	if s == nil || s.pool == nil {
		return errors.New("session: nil store")
	}
	if id == "" {
		return errors.New("session: empty id")
	}
	raw, err := encodeValues(v)
	if err != nil {
		return err
	}

	expire := time.Now().UTC().Add(s.ttl)
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident()+` (sid, sess, expire) VALUES ($1, $2::jsonb, $3)
		 ON CONFLICT (sid) DO UPDATE SET sess = EXCLUDED.sess, expire = EXCLUDED.expire`,
		id, string(raw), expire,
	); err != nil {
		return fmt.Errorf("session: upsert: %w", err)
	}
	return nil
}

// Touch resets the expiry of a live document.
func (s *PostgresStore) Touch(ctx context.Context, id string) error {
	if s == nil || s.pool == nil {
		return errors.New("session: nil store")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident()+` SET expire = $2 WHERE sid = $1 AND expire > now()`,
		id, time.Now().UTC().Add(s.ttl),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Destroy deletes the document. Missing ids are not an error.
func (s *PostgresStore) Destroy(ctx context.Context, id string) error {
	if s == nil || s.pool == nil {
		return errors.New("session: nil store")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.ident()+` WHERE sid = $1`, id)
	return err
}

// PruneExpired deletes expired rows and reports how many were removed.
func (s *PostgresStore) PruneExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.ident()+` WHERE expire <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ident() string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{s.schema, s.table}.Sanitize()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}
