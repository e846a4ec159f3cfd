package session

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/vellumbot/internal/identity"
	"github.com/MrWong99/vellumbot/internal/store"
)

// AddNick adds participants to the session.
func (s *Session) AddNick(ids ...identity.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if id.Name == "" {
			continue
		}
		s.nicks[id.Key()] = id
	}
}

// RemoveNick removes participants and drops any observer role they had.
func (s *Session) RemoveNick(ctx context.Context, names ...string) {
	s.mu.Lock()
	changed := false
	for _, name := range names {
		k := identity.Named(name).Key()
		delete(s.nicks, k)
		if s.dropObserverLocked(k) {
			changed = true
		}
	}
	s.mu.Unlock()
	if changed {
		s.persist(ctx)
	}
}

// Rename replaces oldName with newName in the membership and observer sets
// and moves oldName's aliases to newName. It reports whether oldName was a
// member.
func (s *Session) Rename(ctx context.Context, oldName, newName string) bool {
	oldK := identity.Named(oldName).Key()

	s.mu.Lock()
	id, member := s.nicks[oldK]
	if member {
		delete(s.nicks, oldK)
		id.Name = newName
		s.nicks[id.Key()] = id
	}
	observed := false
	for i, o := range s.observers {
		if o.Key() == oldK {
			s.observers[i].Name = newName
			observed = true
		}
	}
	if observed {
		s.observers = identity.Dedupe(s.observers)
	}
	s.mu.Unlock()

	if observed {
		s.persist(ctx)
	}
	if member {
		if err := s.aliases.Rename(ctx, oldName, newName); err != nil {
			s.log.Warn("alias rename failed", "old", oldName, "new", newName, "err", err)
		}
	}
	return member
}

// MatchNick reports whether name is a member, ignoring case.
func (s *Session) MatchNick(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nicks[identity.Named(name).Key()]
	return ok
}

// Nick returns the member called name, ignoring case.
func (s *Session) Nick(name string) (identity.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.nicks[identity.Named(name).Key()]
	return id, ok
}

// Nicks returns the members sorted by name.
func (s *Session) Nicks() []identity.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := slices.Sorted(maps.Keys(s.nicks))
	out := make([]identity.Identity, len(keys))
	for i, k := range keys {
		out[i] = s.nicks[k]
	}
	return out
}

// Observers returns the observers in the order they became observers.
func (s *Session) Observers() []identity.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.observers)
}

// IsObserver reports whether name observes this session.
func (s *Session) IsObserver(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k := identity.Named(name).Key()
	return slices.ContainsFunc(s.observers, func(o identity.Identity) bool { return o.Key() == k })
}

// AddObserver gives id the observer role.
func (s *Session) AddObserver(ctx context.Context, id identity.Identity) {
	s.mu.Lock()
	for _, o := range s.observers {
		if o.Same(id) {
			s.mu.Unlock()
			return
		}
	}
	s.observers = append(s.observers, id)
	s.mu.Unlock()
	s.persist(ctx)
}

// RemoveObserver drops name's observer role and reports whether it had one.
func (s *Session) RemoveObserver(ctx context.Context, name string) bool {
	s.mu.Lock()
	removed := s.dropObserverLocked(identity.Named(name).Key())
	s.mu.Unlock()
	if removed {
		s.persist(ctx)
	}
	return removed
}

func (s *Session) dropObserverLocked(key string) bool {
	n := len(s.observers)
	s.observers = slices.DeleteFunc(s.observers, func(o identity.Identity) bool { return o.Key() == key })
	return len(s.observers) != n
}

// Restore loads persisted observers. A session with no stored record is left
// as is.
func (s *Session) Restore(ctx context.Context) error {
	if s.records == nil || s.isDefault {
		return nil
	}
	rec, err := s.records.Session(ctx, s.channel.Name)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = s.observers[:0]
	for _, name := range rec.Observers {
		s.observers = append(s.observers, identity.Named(name))
	}
	s.observers = identity.Dedupe(s.observers)
	return nil
}

// Forget deletes the persisted record, used when the bot leaves the channel.
func (s *Session) Forget(ctx context.Context) {
	if s.records == nil || s.isDefault {
		return
	}
	if err := s.records.DeleteSession(ctx, s.channel.Name); err != nil {
		s.log.Warn("delete session record failed", "err", err)
	}
}

func (s *Session) persist(ctx context.Context) {
	if s.records == nil || s.isDefault {
		return
	}
	obs := s.Observers()
	names := make([]string, len(obs))
	for i, o := range obs {
		names[i] = o.Name
	}
	rec := store.SessionRecord{Channel: s.channel.Name, Observers: names}
	if err := s.records.SaveSession(ctx, rec); err != nil {
		s.log.Warn("save session failed", "observers", strings.Join(names, ","), "err", err)
	}
}
