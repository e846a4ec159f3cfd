// Package initiative provides the sorted, rotatable turn order used during
// combat.
//
// A [Ring] keeps its items sorted and tracks a cursor naming whose turn it
// is. Inserting or deleting items never changes whose turn it is unless the
// current item itself is deleted. The cursor arithmetic lives in pure
// functions (see cursor.go) so it can be checked on its own.
package initiative

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrEmpty is returned when reading from an empty ring.
	ErrEmpty = errors.New("initiative: ring is empty")
	// ErrOutOfRange is returned for an index outside the ring.
	ErrOutOfRange = errors.New("initiative: index out of range")
)

// Ring is a sorted multiset with a rotation cursor. It is not safe for
// concurrent use; sessions serialise access.
type Ring[T any] struct {
	less   func(a, b T) bool
	items  []T
	cursor int
}

// NewRing returns a ring ordered by less holding items.
func NewRing[T any](less func(a, b T) bool, items ...T) *Ring[T] {
	r := &Ring[T]{less: less}
	for _, it := range items {
		r.AddSorted(it)
	}
	r.cursor = 0
	return r
}

// AddSorted inserts item after every item that does not sort after it, so
// equal items keep insertion order. It returns the insertion index.
func (r *Ring[T]) AddSorted(item T) int {
	i := sort.Search(len(r.items), func(j int) bool { return r.less(item, r.items[j]) })
	wasEmpty := len(r.items) == 0
	r.items = append(r.items, item)
	copy(r.items[i+1:], r.items[i:])
	r.items[i] = item
	if !wasEmpty {
		r.cursor = CursorAfterInsert(r.cursor, i)
	}
	return i
}

// Delete removes the item at i.
func (r *Ring[T]) Delete(i int) error {
	if i < 0 || i >= len(r.items) {
		return fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, len(r.items))
	}
	r.cursor = CursorAfterDelete(len(r.items), r.cursor, i)
	r.items = append(r.items[:i], r.items[i+1:]...)
	return nil
}

// Current returns the item under the cursor.
func (r *Ring[T]) Current() (T, error) {
	return r.get(r.cursor)
}

// Next returns the item after the cursor without moving it.
func (r *Ring[T]) Next() (T, error) {
	return r.get(NextIndex(len(r.items), r.cursor))
}

// Prev returns the item before the cursor without moving it.
func (r *Ring[T]) Prev() (T, error) {
	return r.get(PrevIndex(len(r.items), r.cursor))
}

func (r *Ring[T]) get(i int) (T, error) {
	if len(r.items) == 0 {
		var zero T
		return zero, ErrEmpty
	}
	return r.items[i], nil
}

// Rotate moves the cursor by n, which may be negative.
func (r *Ring[T]) Rotate(n int) {
	r.cursor = RotateCursor(len(r.items), r.cursor, n)
}

// Seek puts the cursor on index i.
func (r *Ring[T]) Seek(i int) error {
	if i < 0 || i >= len(r.items) {
		return fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, len(r.items))
	}
	r.cursor = i
	return nil
}

// AsRotatedList returns every item starting from the current one.
func (r *Ring[T]) AsRotatedList() []T {
	out := make([]T, 0, len(r.items))
	out = append(out, r.items[r.cursor:]...)
	return append(out, r.items[:r.cursor]...)
}

// Len returns the number of items.
func (r *Ring[T]) Len() int { return len(r.items) }

// At returns the item at sorted index i.
func (r *Ring[T]) At(i int) (T, error) {
	if i < 0 || i >= len(r.items) {
		var zero T
		return zero, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, len(r.items))
	}
	return r.items[i], nil
}

// Index returns the first sorted index whose item matches, or -1.
func (r *Ring[T]) Index(match func(T) bool) int {
	for i, it := range r.items {
		if match(it) {
			return i
		}
	}
	return -1
}

// Items returns a copy of the items in sorted order.
func (r *Ring[T]) Items() []T {
	return append([]T(nil), r.items...)
}

// Cursor returns the sorted index of the current item.
func (r *Ring[T]) Cursor() int { return r.cursor }
