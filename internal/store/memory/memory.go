// Package memory provides an in-memory [store.Store]. It is the default
// backend for development and the reference implementation in tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/vellumbot/internal/store"
)

// Compile-time assertion that Store satisfies the store.Store interface.
var _ store.Store = (*Store)(nil)

// Store is a thread-safe, in-memory implementation of [store.Store].
// The zero value is ready to use.
type Store struct {
	mu       sync.RWMutex
	aliases  map[string]map[string]string // owner key -> words -> expression
	users    map[string]store.User
	sessions map[string]store.SessionRecord
}

// New returns an initialised [Store].
func New() *Store {
	return &Store{
		aliases:  make(map[string]map[string]string),
		users:    make(map[string]store.User),
		sessions: make(map[string]store.SessionRecord),
	}
}

func (s *Store) init() {
	if s.aliases == nil {
		s.aliases = make(map[string]map[string]string)
	}
	if s.users == nil {
		s.users = make(map[string]store.User)
	}
	if s.sessions == nil {
		s.sessions = make(map[string]store.SessionRecord)
	}
}

// SetAlias implements [store.AliasStore.SetAlias].
func (s *Store) SetAlias(_ context.Context, owner, words, expression string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	k := store.Key(owner)
	if s.aliases[k] == nil {
		s.aliases[k] = make(map[string]string)
	}
	s.aliases[k][words] = expression
	return nil
}

// Alias implements [store.AliasStore.Alias].
func (s *Store) Alias(_ context.Context, owner, words string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expr, ok := s.aliases[store.Key(owner)][words]
	if !ok {
		return "", store.ErrNotFound
	}
	return expr, nil
}

// RemoveAlias implements [store.AliasStore.RemoveAlias].
func (s *Store) RemoveAlias(_ context.Context, owner, words string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := store.Key(owner)
	if _, ok := s.aliases[k][words]; !ok {
		return false, nil
	}
	delete(s.aliases[k], words)
	if len(s.aliases[k]) == 0 {
		delete(s.aliases, k)
	}
	return true, nil
}

// Aliases implements [store.AliasStore.Aliases].
func (s *Store) Aliases(_ context.Context, owner string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.aliases[store.Key(owner)]))
	maps.Copy(out, s.aliases[store.Key(owner)])
	return out, nil
}

// RenameOwner implements [store.AliasStore.RenameOwner].
func (s *Store) RenameOwner(_ context.Context, oldOwner, newOwner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	oldK, newK := store.Key(oldOwner), store.Key(newOwner)
	if oldK == newK || len(s.aliases[oldK]) == 0 {
		return nil
	}
	if s.aliases[newK] == nil {
		s.aliases[newK] = make(map[string]string)
	}
	maps.Copy(s.aliases[newK], s.aliases[oldK])
	delete(s.aliases, oldK)
	return nil
}

// AllAliases implements [store.AliasStore.AllAliases]. Rows are ordered by
// owner then words.
func (s *Store) AllAliases(_ context.Context) ([]store.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Alias
	for _, owner := range slices.Sorted(maps.Keys(s.aliases)) {
		table := s.aliases[owner]
		for _, words := range slices.Sorted(maps.Keys(table)) {
			out = append(out, store.Alias{Owner: owner, Words: words, Expression: table[words]})
		}
	}
	return out, nil
}

// PutUser implements [store.UserStore.PutUser].
func (s *Store) PutUser(_ context.Context, u store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	s.users[store.Key(u.Name)] = u
	return nil
}

// User implements [store.UserStore.User].
func (s *Store) User(_ context.Context, name string) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[store.Key(name)]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

// SaveSession implements [store.SessionStore.SaveSession].
func (s *Store) SaveSession(_ context.Context, rec store.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	rec.Observers = slices.Clone(rec.Observers)
	s.sessions[store.Key(rec.Channel)] = rec
	return nil
}

// Session implements [store.SessionStore.Session].
func (s *Store) Session(_ context.Context, channel string) (store.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[store.Key(channel)]
	if !ok {
		return store.SessionRecord{}, store.ErrNotFound
	}
	rec.Observers = slices.Clone(rec.Observers)
	return rec, nil
}

// DeleteSession implements [store.SessionStore.DeleteSession].
func (s *Store) DeleteSession(_ context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, store.Key(channel))
	return nil
}

// Ping implements [store.Store.Ping]. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [store.Store.Close]. It is a no-op.
func (s *Store) Close() error { return nil }
