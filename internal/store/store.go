// Package store defines the record store behind aliases, users and sessions.
//
// The bot core only needs find/add/remove semantics that survive a restart;
// the concrete backends live in the memory, sqlite and postgres
// sub-packages. Owner and user names are compared case-insensitively: every
// backend keys records by [Key].
//
// All implementations must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Key normalises an owner, user or channel name for storage.
func Key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Alias is one stored alias row.
type Alias struct {
	Owner      string `yaml:"owner"`
	Words      string `yaml:"words"`
	Expression string `yaml:"expression"`
}

// User is a known participant and its preferred wire encoding.
type User struct {
	Name     string `yaml:"name"`
	Encoding string `yaml:"encoding,omitempty"`
}

// SessionRecord is the durable part of a channel session.
type SessionRecord struct {
	Channel   string   `yaml:"channel"`
	Observers []string `yaml:"observers,omitempty"`
}

// AliasStore persists per-owner aliases.
type AliasStore interface {
	// SetAlias creates or overwrites owner's alias for words.
	SetAlias(ctx context.Context, owner, words, expression string) error

	// Alias returns owner's expression for words or [ErrNotFound].
	Alias(ctx context.Context, owner, words string) (string, error)

	// RemoveAlias deletes owner's alias for words and reports whether one
	// existed.
	RemoveAlias(ctx context.Context, owner, words string) (bool, error)

	// Aliases returns every alias of owner keyed by words. An owner with no
	// aliases yields an empty map.
	Aliases(ctx context.Context, owner string) (map[string]string, error)

	// RenameOwner moves every alias from oldOwner to newOwner, overwriting
	// newOwner's aliases with the same words.
	RenameOwner(ctx context.Context, oldOwner, newOwner string) error

	// AllAliases returns every alias row. Used for export.
	AllAliases(ctx context.Context) ([]Alias, error)
}

// UserStore persists known participants.
type UserStore interface {
	// PutUser creates or updates a user.
	PutUser(ctx context.Context, u User) error

	// User returns the user called name or [ErrNotFound].
	User(ctx context.Context, name string) (User, error)
}

// SessionStore persists session records.
type SessionStore interface {
	// SaveSession creates or replaces the record for rec.Channel.
	SaveSession(ctx context.Context, rec SessionRecord) error

	// Session returns the record for channel or [ErrNotFound].
	Session(ctx context.Context, channel string) (SessionRecord, error)

	// DeleteSession removes the record for channel. Missing records are not
	// an error.
	DeleteSession(ctx context.Context, channel string) error
}

// Store is the full record store.
type Store interface {
	AliasStore
	UserStore
	SessionStore

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
