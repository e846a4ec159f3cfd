// Package sqlite provides a [store.Store] backed by an embedded SQLite file
// (modernc.org/sqlite, no cgo). It is the default durable backend for a
// single bot process.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/MrWong99/vellumbot/internal/store"
)

// Compile-time assertion that Store satisfies the store.Store interface.
var _ store.Store = (*Store)(nil)

// Store persists aliases, users and sessions in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %q: %w", path, err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle (used by vellumctl for maintenance).
func (s *Store) DB() *sql.DB { return s.db }

// Close implements [store.Store.Close].
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping implements [store.Store.Ping].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// SetAlias implements [store.AliasStore.SetAlias].
func (s *Store) SetAlias(ctx context.Context, owner, words, expression string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO aliases (owner_key, words, expression) VALUES (?, ?, ?)
		 ON CONFLICT (owner_key, words) DO UPDATE SET expression = excluded.expression`,
		store.Key(owner), words, expression,
	)
	if err != nil {
		return fmt.Errorf("sqlite: set alias %q for %q: %w", words, owner, err)
	}
	return nil
}

// Alias implements [store.AliasStore.Alias].
func (s *Store) Alias(ctx context.Context, owner, words string) (string, error) {
	var expr string
	err := s.db.QueryRowContext(ctx,
		`SELECT expression FROM aliases WHERE owner_key = ? AND words = ?`,
		store.Key(owner), words,
	).Scan(&expr)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: get alias %q for %q: %w", words, owner, err)
	}
	return expr, nil
}

// RemoveAlias implements [store.AliasStore.RemoveAlias].
func (s *Store) RemoveAlias(ctx context.Context, owner, words string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM aliases WHERE owner_key = ? AND words = ?`,
		store.Key(owner), words,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: remove alias %q for %q: %w", words, owner, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: remove alias rows affected: %w", err)
	}
	return n > 0, nil
}

// Aliases implements [store.AliasStore.Aliases].
func (s *Store) Aliases(ctx context.Context, owner string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT words, expression FROM aliases WHERE owner_key = ?`,
		store.Key(owner),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list aliases for %q: %w", owner, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var words, expr string
		if err := rows.Scan(&words, &expr); err != nil {
			return nil, fmt.Errorf("sqlite: scan alias: %w", err)
		}
		out[words] = expr
	}
	return out, rows.Err()
}

// RenameOwner implements [store.AliasStore.RenameOwner].
func (s *Store) RenameOwner(ctx context.Context, oldOwner, newOwner string) error {
	oldK, newK := store.Key(oldOwner), store.Key(newOwner)
	if oldK == newK {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: rename owner: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO aliases (owner_key, words, expression)
		 SELECT ?, words, expression FROM aliases WHERE owner_key = ?`,
		newK, oldK,
	); err != nil {
		return fmt.Errorf("sqlite: rename owner %q: copy: %w", oldOwner, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM aliases WHERE owner_key = ?`, oldK); err != nil {
		return fmt.Errorf("sqlite: rename owner %q: delete: %w", oldOwner, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: rename owner: commit: %w", err)
	}
	return nil
}

// AllAliases implements [store.AliasStore.AllAliases].
func (s *Store) AllAliases(ctx context.Context) ([]store.Alias, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_key, words, expression FROM aliases ORDER BY owner_key, words`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list all aliases: %w", err)
	}
	defer rows.Close()

	var out []store.Alias
	for rows.Next() {
		var a store.Alias
		if err := rows.Scan(&a.Owner, &a.Words, &a.Expression); err != nil {
			return nil, fmt.Errorf("sqlite: scan alias: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PutUser implements [store.UserStore.PutUser].
func (s *Store) PutUser(ctx context.Context, u store.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name_key, name, encoding) VALUES (?, ?, ?)
		 ON CONFLICT (name_key) DO UPDATE SET name = excluded.name, encoding = excluded.encoding`,
		store.Key(u.Name), u.Name, u.Encoding,
	)
	if err != nil {
		return fmt.Errorf("sqlite: put user %q: %w", u.Name, err)
	}
	return nil
}

// User implements [store.UserStore.User].
func (s *Store) User(ctx context.Context, name string) (store.User, error) {
	var u store.User
	err := s.db.QueryRowContext(ctx,
		`SELECT name, encoding FROM users WHERE name_key = ?`, store.Key(name),
	).Scan(&u.Name, &u.Encoding)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, store.ErrNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("sqlite: get user %q: %w", name, err)
	}
	return u, nil
}

// SaveSession implements [store.SessionStore.SaveSession].
func (s *Store) SaveSession(ctx context.Context, rec store.SessionRecord) error {
	key := store.Key(rec.Channel)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: save session: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (channel_key, channel) VALUES (?, ?)
		 ON CONFLICT (channel_key) DO UPDATE SET channel = excluded.channel`,
		key, rec.Channel,
	); err != nil {
		return fmt.Errorf("sqlite: save session %q: %w", rec.Channel, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_observers WHERE channel_key = ?`, key); err != nil {
		return fmt.Errorf("sqlite: save session %q: clear observers: %w", rec.Channel, err)
	}
	for i, name := range rec.Observers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_observers (channel_key, position, name) VALUES (?, ?, ?)`,
			key, i, name,
		); err != nil {
			return fmt.Errorf("sqlite: save session %q: observer %q: %w", rec.Channel, name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: save session: commit: %w", err)
	}
	return nil
}

// Session implements [store.SessionStore.Session].
func (s *Store) Session(ctx context.Context, channel string) (store.SessionRecord, error) {
	key := store.Key(channel)
	var rec store.SessionRecord
	err := s.db.QueryRowContext(ctx, `SELECT channel FROM sessions WHERE channel_key = ?`, key).Scan(&rec.Channel)
	if errors.Is(err, sql.ErrNoRows) {
		return store.SessionRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.SessionRecord{}, fmt.Errorf("sqlite: get session %q: %w", channel, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM session_observers WHERE channel_key = ? ORDER BY position`, key)
	if err != nil {
		return store.SessionRecord{}, fmt.Errorf("sqlite: get session %q observers: %w", channel, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return store.SessionRecord{}, fmt.Errorf("sqlite: scan observer: %w", err)
		}
		rec.Observers = append(rec.Observers, name)
	}
	return rec, rows.Err()
}

// DeleteSession implements [store.SessionStore.DeleteSession].
func (s *Store) DeleteSession(ctx context.Context, channel string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE channel_key = ?`, store.Key(channel)); err != nil {
		return fmt.Errorf("sqlite: delete session %q: %w", channel, err)
	}
	return nil
}
