package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiter admits a burst of limit events and refills at limit per window.
// It is shared by the whole bot, so two bots answering each other cannot
// loop past it.
type limiter struct {
	mu      sync.Mutex
	lim     *rate.Limiter
	now     func() time.Time
	tripped bool
}

func newLimiter(limit int, window time.Duration, now func() time.Time) *limiter {
	return &limiter{lim: rate.NewLimiter(refill(limit, window), max(limit, 0)), now: now}
}

// refill converts limit events per window into a token rate.
func refill(limit int, window time.Duration) rate.Limit {
	switch {
	case limit <= 0:
		return 0
	case window <= 0:
		return rate.Inf
	}
	return rate.Every(window / time.Duration(limit))
}

// allow reports whether one more event is admitted. tripped is true only for
// the first refusal after an admitted event.
func (l *limiter) allow() (ok, tripped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lim.AllowN(l.now(), 1) {
		l.tripped = false
		return true, false
	}
	if !l.tripped {
		l.tripped = true
		return false, true
	}
	return false, false
}

func (l *limiter) set(limit int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.lim.SetLimitAt(now, refill(limit, window))
	l.lim.SetBurstAt(now, max(limit, 0))
	l.tripped = false
}
