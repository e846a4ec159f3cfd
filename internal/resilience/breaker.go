// Package resilience isolates callers from collaborators that keep failing.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open). The
// resolver gives every registered roll hook its own breaker so a broken hook
// stops costing time on each roll, and the app wraps store writes in one so a
// dead database degrades to "not persisted" instead of stalling sessions.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker rejects
// calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. All probes
	// succeeding closes the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a [Breaker]. Zero fields take defaults.
type Config struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls in the half-open state.
	// Default: 1.
	HalfOpenMax int

	// Now replaces time.Now in tests.
	Now func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	probeWins int
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{cfg: cfg, log: log.With("breaker", cfg.Name)}
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Execute runs fn unless the breaker is open. A panic in fn counts as a
// failure and is re-raised after accounting.
func (b *Breaker) Execute(fn func() error) (err error) {
	probe, ok := b.admit()
	if !ok {
		return ErrCircuitOpen
	}

	finished := false
	defer func() {
		if !finished {
			b.record(probe, errors.New("panic"))
		}
	}()
	err = fn()
	finished = true
	b.record(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (b *Breaker) admit() (probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, false
		}
		b.state = StateHalfOpen
		b.probes, b.probeWins = 0, 0
		b.log.Info("circuit half-open")
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.cfg.HalfOpenMax {
			return false, false
		}
		b.probes++
		return true, true
	}
	return false, true
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		if probe || b.failures+1 >= b.cfg.MaxFailures {
			b.trip(err)
			return
		}
		b.failures++
		return
	}
	if probe {
		b.probeWins++
		if b.probeWins >= b.cfg.HalfOpenMax {
			b.state = StateClosed
			b.failures = 0
			b.log.Info("circuit closed")
		}
		return
	}
	b.failures = 0
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip(cause error) {
	b.state = StateOpen
	b.failures = b.cfg.MaxFailures
	b.openedAt = b.cfg.Now()
	b.log.Warn("circuit opened", "err", cause)
}

// State returns the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures, b.probes, b.probeWins = 0, 0, 0
}
