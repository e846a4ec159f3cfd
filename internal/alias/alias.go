// Package alias keeps each actor's named dice expressions.
//
// An alias is created the first time an actor pairs words with a dice
// expression ("[smackdown 2d6+1]") and replayed by naming the words alone
// ("[smackdown]"). The [Table] is a thin layer over a [store.AliasStore] so the
// same table serves the bot, the admin CLI and tests.
package alias

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/vellumbot/internal/store"
)

// None is what [Table.ShortFormat] returns for an actor with no aliases.
const None = "(none)"

// Table is the alias table. It is safe for concurrent use when its store is.
type Table struct {
	store store.AliasStore
}

// New returns a Table over s.
func New(s store.AliasStore) *Table {
	return &Table{store: s}
}

// Key joins a word tuple into the stored alias key.
func Key(words []string) string {
	return strings.ToLower(strings.Join(words, " "))
}

// Set creates or overwrites actor's alias for key.
func (t *Table) Set(ctx context.Context, actor, key, expr string) error {
	if key == "" {
		return errors.New("alias: empty key")
	}
	if err := t.store.SetAlias(ctx, actor, key, expr); err != nil {
		return fmt.Errorf("alias: set: %w", err)
	}
	return nil
}

// Get returns actor's expression for key. ok is false when there is none.
func (t *Table) Get(ctx context.Context, actor, key string) (expr string, ok bool, err error) {
	expr, err = t.store.Alias(ctx, actor, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("alias: get: %w", err)
	}
	return expr, true, nil
}

// Remove deletes actor's alias for key and reports whether it existed.
func (t *Table) Remove(ctx context.Context, actor, key string) (bool, error) {
	removed, err := t.store.RemoveAlias(ctx, actor, key)
	if err != nil {
		return false, fmt.Errorf("alias: remove: %w", err)
	}
	return removed, nil
}

// All returns every alias of actor keyed by words.
func (t *Table) All(ctx context.Context, actor string) (map[string]string, error) {
	all, err := t.store.Aliases(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("alias: list: %w", err)
	}
	return all, nil
}

// Rename moves every alias of oldActor to newActor.
func (t *Table) Rename(ctx context.Context, oldActor, newActor string) error {
	if err := t.store.RenameOwner(ctx, oldActor, newActor); err != nil {
		return fmt.Errorf("alias: rename: %w", err)
	}
	return nil
}

// ShortFormat renders actor's aliases as "k=v, k=v" sorted by key, or
// [None].
func (t *Table) ShortFormat(ctx context.Context, actor string) (string, error) {
	all, err := t.All(ctx, actor)
	if err != nil {
		return "", err
	}
	return Format(all), nil
}

// Format renders aliases the way [Table.ShortFormat] does.
func Format(aliases map[string]string) string {
	if len(aliases) == 0 {
		return None
	}
	keys := slices.Sorted(maps.Keys(aliases))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + aliases[k]
	}
	return strings.Join(parts, ", ")
}
