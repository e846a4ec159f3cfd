// Package postgres provides a [store.Store] backed by PostgreSQL via pgx.
//
// Use [Open] to dial a pool from a DSN, or [New] to wrap an existing pool or
// connection. Observers are kept in a TEXT[] column so every write is a single
// statement and the store works against any [DB].
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/vellumbot/internal/store"
)

// Schema is the SQL DDL for the vellumbot tables. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS vellum_users (
    name_key   TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    encoding   TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS vellum_aliases (
    owner_key  TEXT NOT NULL,
    words      TEXT NOT NULL,
    expression TEXT NOT NULL,
    PRIMARY KEY (owner_key, words)
);
CREATE TABLE IF NOT EXISTS vellum_sessions (
    channel_key TEXT PRIMARY KEY,
    channel     TEXT NOT NULL,
    observers   TEXT[] NOT NULL DEFAULT '{}',
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a [store.Store] backed by PostgreSQL.
type Store struct {
	db   DB
	pool *pgxpool.Pool // non-nil only when created by Open
}

// New wraps db. The caller owns db and must call [Store.Migrate] before
// issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open creates a connection pool for dsn, pings it and applies [Schema].
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Ping implements [store.Store.Ping].
func (s *Store) Ping(ctx context.Context) error {
	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: ping: %w", err)
		}
		return nil
	}
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close releases the pool if the store opened it. Handles passed to [New]
// are left to the caller.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// SetAlias implements [store.AliasStore.SetAlias].
func (s *Store) SetAlias(ctx context.Context, owner, words, expression string) error {
	const q = `
		INSERT INTO vellum_aliases (owner_key, words, expression) VALUES ($1, $2, $3)
		ON CONFLICT (owner_key, words) DO UPDATE SET expression = EXCLUDED.expression`
	if _, err := s.db.Exec(ctx, q, store.Key(owner), words, expression); err != nil {
		return fmt.Errorf("postgres: set alias %q for %q: %w", words, owner, err)
	}
	return nil
}

// Alias implements [store.AliasStore.Alias].
func (s *Store) Alias(ctx context.Context, owner, words string) (string, error) {
	const q = `SELECT expression FROM vellum_aliases WHERE owner_key = $1 AND words = $2`
	var expr string
	err := s.db.QueryRow(ctx, q, store.Key(owner), words).Scan(&expr)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres: get alias %q for %q: %w", words, owner, err)
	}
	return expr, nil
}

// RemoveAlias implements [store.AliasStore.RemoveAlias].
func (s *Store) RemoveAlias(ctx context.Context, owner, words string) (bool, error) {
	const q = `DELETE FROM vellum_aliases WHERE owner_key = $1 AND words = $2`
	tag, err := s.db.Exec(ctx, q, store.Key(owner), words)
	if err != nil {
		return false, fmt.Errorf("postgres: remove alias %q for %q: %w", words, owner, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Aliases implements [store.AliasStore.Aliases].
func (s *Store) Aliases(ctx context.Context, owner string) (map[string]string, error) {
	const q = `SELECT words, expression FROM vellum_aliases WHERE owner_key = $1`
	rows, err := s.db.Query(ctx, q, store.Key(owner))
	if err != nil {
		return nil, fmt.Errorf("postgres: list aliases for %q: %w", owner, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var words, expr string
		if err := rows.Scan(&words, &expr); err != nil {
			return nil, fmt.Errorf("postgres: scan alias: %w", err)
		}
		out[words] = expr
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list aliases for %q: %w", owner, err)
	}
	return out, nil
}

// RenameOwner implements [store.AliasStore.RenameOwner]. The move runs as one
// statement so no transaction handle is needed.
func (s *Store) RenameOwner(ctx context.Context, oldOwner, newOwner string) error {
	oldK, newK := store.Key(oldOwner), store.Key(newOwner)
	if oldK == newK {
		return nil
	}
	const q = `
		WITH moved AS (
			DELETE FROM vellum_aliases WHERE owner_key = $1
			RETURNING words, expression
		)
		INSERT INTO vellum_aliases (owner_key, words, expression)
		SELECT $2, words, expression FROM moved
		ON CONFLICT (owner_key, words) DO UPDATE SET expression = EXCLUDED.expression`
	if _, err := s.db.Exec(ctx, q, oldK, newK); err != nil {
		return fmt.Errorf("postgres: rename owner %q: %w", oldOwner, err)
	}
	return nil
}

// AllAliases implements [store.AliasStore.AllAliases].
func (s *Store) AllAliases(ctx context.Context) ([]store.Alias, error) {
	const q = `SELECT owner_key, words, expression FROM vellum_aliases ORDER BY owner_key, words`
	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list all aliases: %w", err)
	}
	defer rows.Close()

	var out []store.Alias
	for rows.Next() {
		var a store.Alias
		if err := rows.Scan(&a.Owner, &a.Words, &a.Expression); err != nil {
			return nil, fmt.Errorf("postgres: scan alias: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list all aliases: %w", err)
	}
	return out, nil
}

// PutUser implements [store.UserStore.PutUser].
func (s *Store) PutUser(ctx context.Context, u store.User) error {
	const q = `
		INSERT INTO vellum_users (name_key, name, encoding) VALUES ($1, $2, $3)
		ON CONFLICT (name_key) DO UPDATE
		SET name = EXCLUDED.name, encoding = EXCLUDED.encoding, updated_at = now()`
	if _, err := s.db.Exec(ctx, q, store.Key(u.Name), u.Name, u.Encoding); err != nil {
		return fmt.Errorf("postgres: put user %q: %w", u.Name, err)
	}
	return nil
}

// User implements [store.UserStore.User].
func (s *Store) User(ctx context.Context, name string) (store.User, error) {
	const q = `SELECT name, encoding FROM vellum_users WHERE name_key = $1`
	var u store.User
	err := s.db.QueryRow(ctx, q, store.Key(name)).Scan(&u.Name, &u.Encoding)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.User{}, store.ErrNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("postgres: get user %q: %w", name, err)
	}
	return u, nil
}

// SaveSession implements [store.SessionStore.SaveSession].
func (s *Store) SaveSession(ctx context.Context, rec store.SessionRecord) error {
	const q = `
		INSERT INTO vellum_sessions (channel_key, channel, observers) VALUES ($1, $2, $3)
		ON CONFLICT (channel_key) DO UPDATE
		SET channel = EXCLUDED.channel, observers = EXCLUDED.observers, updated_at = now()`
	observers := rec.Observers
	if observers == nil {
		observers = []string{}
	}
	if _, err := s.db.Exec(ctx, q, store.Key(rec.Channel), rec.Channel, observers); err != nil {
		return fmt.Errorf("postgres: save session %q: %w", rec.Channel, err)
	}
	return nil
}

// Session implements [store.SessionStore.Session].
func (s *Store) Session(ctx context.Context, channel string) (store.SessionRecord, error) {
	const q = `SELECT channel, observers FROM vellum_sessions WHERE channel_key = $1`
	var rec store.SessionRecord
	err := s.db.QueryRow(ctx, q, store.Key(channel)).Scan(&rec.Channel, &rec.Observers)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.SessionRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.SessionRecord{}, fmt.Errorf("postgres: get session %q: %w", channel, err)
	}
	if len(rec.Observers) == 0 {
		rec.Observers = nil
	}
	return rec, nil
}

// DeleteSession implements [store.SessionStore.DeleteSession].
func (s *Store) DeleteSession(ctx context.Context, channel string) error {
	const q = `DELETE FROM vellum_sessions WHERE channel_key = $1`
	if _, err := s.db.Exec(ctx, q, store.Key(channel)); err != nil {
		return fmt.Errorf("postgres: delete session %q: %w", channel, err)
	}
	return nil
}
