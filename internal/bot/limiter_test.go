package bot

import (
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	// Two per minute: a burst of two, then one more every 30s.
	l := newLimiter(2, time.Minute, func() time.Time { return now })

	type result struct{ ok, tripped bool }
	allow := func() result {
		ok, tripped := l.allow()
		return result{ok, tripped}
	}

	for i, want := range []result{{true, false}, {true, false}, {false, true}, {false, false}} {
		if got := allow(); got != want {
			t.Errorf("call %d = %+v, want %+v", i, got, want)
		}
	}

	now = now.Add(29 * time.Second)
	if got := allow(); got != (result{false, false}) {
		t.Errorf("before refill = %+v, want refused", got)
	}
	now = now.Add(2 * time.Second)
	if got := allow(); got != (result{true, false}) {
		t.Errorf("after refill = %+v, want admitted", got)
	}
	if got := allow(); got != (result{false, true}) {
		t.Errorf("after spending the refill = %+v, want refused and tripped", got)
	}

	now = now.Add(10 * time.Minute)
	for i := range 2 {
		if got := allow(); !got.ok {
			t.Errorf("refilled burst call %d refused", i)
		}
	}
	if got := allow(); got.ok {
		t.Error("bucket refilled past its burst")
	}

	l.set(0, time.Minute)
	now = now.Add(time.Minute)
	if got := allow(); got != (result{false, true}) {
		t.Errorf("limit 0 = %+v, want refused and tripped", got)
	}
}

func TestRefill(t *testing.T) {
	t.Parallel()
	tests := []struct {
		limit  int
		window time.Duration
		want   float64
	}{
		{3, 30 * time.Second, 0.1},
		{0, 30 * time.Second, 0},
		{-1, time.Minute, 0},
	}
	for _, tt := range tests {
		if got := float64(refill(tt.limit, tt.window)); got != tt.want {
			t.Errorf("refill(%d, %v): got %v, want %v", tt.limit, tt.window, got, tt.want)
		}
	}
}
