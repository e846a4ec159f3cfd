package initiative

// RotateCursor moves cursor by delta around a ring of length items.
// Negative deltas move backwards. An empty ring keeps cursor 0.
func RotateCursor(length, cursor, delta int) int {
	if length <= 0 {
		return 0
	}
	c := (cursor + delta) % length
	if c < 0 {
		c += length
	}
	return c
}

// CursorAfterInsert returns the cursor after an item was inserted at index
// of a non-empty ring. Inserting at or before the cursor shifts it so it
// keeps pointing at the same item.
func CursorAfterInsert(cursor, index int) int {
	if index <= cursor {
		return cursor + 1
	}
	return cursor
}

// CursorAfterDelete returns the cursor after the item at index was removed
// from a ring that held length items. Deleting the current item leaves the
// cursor on the item that followed it.
func CursorAfterDelete(length, cursor, index int) int {
	remaining := length - 1
	if remaining <= 0 {
		return 0
	}
	if index < cursor {
		cursor--
	}
	if cursor >= remaining {
		return 0
	}
	return cursor
}

// NextIndex is the index after cursor, wrapping.
func NextIndex(length, cursor int) int { return RotateCursor(length, cursor, 1) }

// PrevIndex is the index before cursor, wrapping.
func PrevIndex(length, cursor int) int { return RotateCursor(length, cursor, -1) }
