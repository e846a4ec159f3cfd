package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vellumbot/internal/resilience"
	"github.com/MrWong99/vellumbot/pkg/dice"
)

// DefaultHookTimeout is the time budget of a single hook call.
const DefaultHookTimeout = 250 * time.Millisecond

// ErrHookTimeout is logged when a hook exceeds its budget.
var ErrHookTimeout = errors.New("resolve: hook timed out")

// Event is what a hook receives after a successful roll.
type Event struct {
	// Channel names the session the roll happened in.
	Channel string
	// Actor is the acting identity's name.
	Actor string
	// Target is the "@name" the phrase was aimed at, if any.
	Target string
	// Key is the alias key the hook was registered under.
	Key string
	// Results are the roll results in report order.
	Results []dice.Result
}

// Hook reacts to a roll. Returned errors are logged, never surfaced.
type Hook func(ctx context.Context, ev Event) error

type registeredHook struct {
	name    string
	fn      Hook
	breaker *resilience.Breaker
}

// HookRegistry maps alias keys to hooks. It is safe for concurrent use.
type HookRegistry struct {
	timeout time.Duration
	log     *slog.Logger

	mu    sync.RWMutex
	hooks map[string][]*registeredHook
}

// HookOption configures a [HookRegistry].
type HookOption func(*HookRegistry)

// WithHookTimeout sets the per-hook budget.
func WithHookTimeout(d time.Duration) HookOption {
	return func(r *HookRegistry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithHookLogger sets the logger for hook failures.
func WithHookLogger(l *slog.Logger) HookOption {
	return func(r *HookRegistry) { r.log = l }
}

// NewHookRegistry returns an empty registry.
func NewHookRegistry(opts ...HookOption) *HookRegistry {
	r := &HookRegistry{
		timeout: DefaultHookTimeout,
		log:     slog.Default(),
		hooks:   make(map[string][]*registeredHook),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds h under key. Hooks for one key fire in registration order.
func (r *HookRegistry) Register(key, name string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[key] = append(r.hooks[key], &registeredHook{
		name: name,
		fn:   h,
		breaker: resilience.NewBreaker(resilience.Config{
			Name:         "hook:" + name,
			MaxFailures:  3,
			ResetTimeout: time.Minute,
			Logger:       r.log,
		}),
	})
}

// Len returns how many hooks are registered under key.
func (r *HookRegistry) Len(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[key])
}

// Fire runs every hook registered under ev.Key in order. Each call gets its
// own goroutine and deadline; a hook that overruns is abandoned and Fire
// moves on. Failures, panics and timeouts are logged and swallowed.
func (r *HookRegistry) Fire(ctx context.Context, ev Event) {
	r.mu.RLock()
	hooks := append([]*registeredHook(nil), r.hooks[ev.Key]...)
	r.mu.RUnlock()

	for _, h := range hooks {
		err := h.breaker.Execute(func() error { return r.call(ctx, h, ev) })
		switch {
		case err == nil:
		case errors.Is(err, resilience.ErrCircuitOpen):
			r.log.Debug("hook skipped", "hook", h.name, "key", ev.Key)
		default:
			r.log.Warn("hook failed", "hook", h.name, "key", ev.Key, "actor", ev.Actor, "err", err)
		}
	}
}

func (r *HookRegistry) call(ctx context.Context, h *registeredHook, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("resolve: hook %s panicked: %v", h.name, p)
			}
		}()
		done <- h.fn(ctx, ev)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %s after %s", ErrHookTimeout, h.name, r.timeout)
	}
}
