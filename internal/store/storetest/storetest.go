// Package storetest holds the behaviour every [store.Store] backend must
// share. Backend packages call [Run] from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/vellumbot/internal/store"
)

// Run exercises s against the store contract. newStore must return an empty
// store; it is called once per sub-test.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("alias round trip", func(t *testing.T) {
		s := newStore(t)
		if err := s.SetAlias(ctx, "GeeEm", "init", "20"); err != nil {
			t.Fatalf("SetAlias: %v", err)
		}
		got, err := s.Alias(ctx, "geeem", "init")
		if err != nil {
			t.Fatalf("Alias: %v", err)
		}
		if got != "20" {
			t.Errorf("got %q, want %q", got, "20")
		}
	})

	t.Run("alias overwrite", func(t *testing.T) {
		s := newStore(t)
		_ = s.SetAlias(ctx, "GeeEm", "smackdown", "20")
		if err := s.SetAlias(ctx, "GeeEm", "smackdown", "d20+5"); err != nil {
			t.Fatalf("SetAlias: %v", err)
		}
		got, _ := s.Alias(ctx, "GeeEm", "smackdown")
		if got != "d20+5" {
			t.Errorf("got %q, want %q", got, "d20+5")
		}
	})

	t.Run("missing alias", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Alias(ctx, "nobody", "init"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
		removed, err := s.RemoveAlias(ctx, "nobody", "init")
		if err != nil || removed {
			t.Errorf("RemoveAlias = (%v, %v), want (false, nil)", removed, err)
		}
	})

	t.Run("remove and list", func(t *testing.T) {
		s := newStore(t)
		_ = s.SetAlias(ctx, "GeeEm", "init", "20")
		_ = s.SetAlias(ctx, "GeeEm", "argh", "20")
		_ = s.SetAlias(ctx, "Player", "stab", "d6")

		removed, err := s.RemoveAlias(ctx, "GeeEm", "init")
		if err != nil || !removed {
			t.Fatalf("RemoveAlias = (%v, %v), want (true, nil)", removed, err)
		}
		got, err := s.Aliases(ctx, "GeeEm")
		if err != nil {
			t.Fatalf("Aliases: %v", err)
		}
		if diff := cmp.Diff(map[string]string{"argh": "20"}, got); diff != "" {
			t.Errorf("Aliases mismatch (-want +got):\n%s", diff)
		}

		empty, err := s.Aliases(ctx, "Stranger")
		if err != nil {
			t.Fatalf("Aliases(Stranger): %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("got %v, want empty", empty)
		}
	})

	t.Run("rename owner", func(t *testing.T) {
		s := newStore(t)
		_ = s.SetAlias(ctx, "Player", "stab", "d6")
		_ = s.SetAlias(ctx, "Player", "init", "15")
		_ = s.SetAlias(ctx, "Superman", "init", "30")
		if err := s.RenameOwner(ctx, "Player", "Superman"); err != nil {
			t.Fatalf("RenameOwner: %v", err)
		}
		got, _ := s.Aliases(ctx, "Superman")
		want := map[string]string{"stab": "d6", "init": "15"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Aliases mismatch (-want +got):\n%s", diff)
		}
		old, _ := s.Aliases(ctx, "Player")
		if len(old) != 0 {
			t.Errorf("old owner still has %v", old)
		}
	})

	t.Run("all aliases", func(t *testing.T) {
		s := newStore(t)
		_ = s.SetAlias(ctx, "b", "two", "2")
		_ = s.SetAlias(ctx, "a", "one", "1")
		got, err := s.AllAliases(ctx)
		if err != nil {
			t.Fatalf("AllAliases: %v", err)
		}
		want := []store.Alias{
			{Owner: "a", Words: "one", Expression: "1"},
			{Owner: "b", Words: "two", Expression: "2"},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("AllAliases mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("users", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.User(ctx, "Olde"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
		if err := s.PutUser(ctx, store.User{Name: "Olde", Encoding: "iso-8859-1"}); err != nil {
			t.Fatalf("PutUser: %v", err)
		}
		u, err := s.User(ctx, "olde")
		if err != nil {
			t.Fatalf("User: %v", err)
		}
		if u.Encoding != "iso-8859-1" {
			t.Errorf("encoding = %q, want %q", u.Encoding, "iso-8859-1")
		}
	})

	t.Run("sessions", func(t *testing.T) {
		s := newStore(t)
		rec := store.SessionRecord{Channel: "#testing", Observers: []string{"GeeEm"}}
		if err := s.SaveSession(ctx, rec); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
		got, err := s.Session(ctx, "#testing")
		if err != nil {
			t.Fatalf("Session: %v", err)
		}
		if diff := cmp.Diff(rec, got); diff != "" {
			t.Errorf("Session mismatch (-want +got):\n%s", diff)
		}

		rec.Observers = nil
		if err := s.SaveSession(ctx, rec); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
		got, _ = s.Session(ctx, "#testing")
		if len(got.Observers) != 0 {
			t.Errorf("observers = %v, want none", got.Observers)
		}

		if err := s.DeleteSession(ctx, "#testing"); err != nil {
			t.Fatalf("DeleteSession: %v", err)
		}
		if _, err := s.Session(ctx, "#testing"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
		if err := s.DeleteSession(ctx, "#never"); err != nil {
			t.Errorf("DeleteSession(missing) = %v, want nil", err)
		}
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}
