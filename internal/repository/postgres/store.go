package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mohabh15/studio-sub000/internal/core/port"
	"github.com/mohabh15/studio-sub000/internal/repository"
)

// Pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it in
// tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements the durable key-value backend on PostgreSQL. Records live
// in a single auth_kv table and persist until deleted.
type Store struct {
	pool    Pool
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

var _ port.KeyValueStore = (*Store)(nil)

// NewStore constructs a PostgreSQL-backed store.
func NewStore(pool Pool) *Store {
	return &Store{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source for deterministic tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Migrate creates the auth_kv table when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS auth_kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create auth_kv: %w", err)
	}
	return nil
}

// Get fetches the value, returning repository.ErrNotFound on a miss.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	sql, args, err := s.builder.Select("value").
		From("auth_kv").
		Where(squirrel.Eq{"key": key}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build select: %w", err)
	}

	var value string
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("select auth_kv %s: %w", key, err)
	}
	return value, nil
}

// Set stores the value, replacing any previous value for the key.
func (s *Store) Set(ctx context.Context, key string, value string) error {
	sql, args, err := s.builder.Insert("auth_kv").
		Columns("key", "value", "updated_at").
		Values(key, value, s.now()).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upsert auth_kv %s: %w", key, err)
	}
	return nil
}

// Delete removes the key if present.
func (s *Store) Delete(ctx context.Context, key string) error {
	sql, args, err := s.builder.Delete("auth_kv").
		Where(squirrel.Eq{"key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete auth_kv %s: %w", key, err)
	}
	return nil
}
