package initiative

import "testing"

func TestRotateCursor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		length, cursor, delta, want int
	}{
		{0, 0, 5, 0},
		{3, 0, 1, 1},
		{3, 2, 1, 0},
		{3, 0, -1, 2},
		{3, 1, -7, 0},
		{5, 4, 11, 0},
	}
	for _, tt := range tests {
		if got := RotateCursor(tt.length, tt.cursor, tt.delta); got != tt.want {
			t.Errorf("RotateCursor(%d, %d, %d) = %d, want %d", tt.length, tt.cursor, tt.delta, got, tt.want)
		}
	}
}

func TestCursorAfterInsert(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cursor, index, want int
	}{
		{2, 0, 3},
		{2, 2, 3},
		{2, 3, 2},
	}
	for _, tt := range tests {
		if got := CursorAfterInsert(tt.cursor, tt.index); got != tt.want {
			t.Errorf("CursorAfterInsert(%d, %d) = %d, want %d", tt.cursor, tt.index, got, tt.want)
		}
	}
}

func TestCursorAfterDelete(t *testing.T) {
	t.Parallel()
	tests := []struct {
		length, cursor, index, want int
	}{
		{1, 0, 0, 0},
		{4, 2, 0, 1},
		{4, 2, 2, 2},
		{4, 3, 3, 0},
		{4, 1, 3, 1},
	}
	for _, tt := range tests {
		if got := CursorAfterDelete(tt.length, tt.cursor, tt.index); got != tt.want {
			t.Errorf("CursorAfterDelete(%d, %d, %d) = %d, want %d", tt.length, tt.cursor, tt.index, got, tt.want)
		}
	}
}

func TestNextPrevIndex(t *testing.T) {
	t.Parallel()
	if got := NextIndex(3, 2); got != 0 {
		t.Errorf("NextIndex(3, 2) = %d, want 0", got)
	}
	if got := PrevIndex(3, 0); got != 2 {
		t.Errorf("PrevIndex(3, 0) = %d, want 2", got)
	}
}
