package resolve

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/MrWong99/vellumbot/internal/alias"
	"github.com/MrWong99/vellumbot/internal/store/memory"
	"github.com/MrWong99/vellumbot/pkg/dice"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// maxRoller always rolls the highest face.
type maxRoller struct{}

func (maxRoller) IntN(n int) int { return n - 1 }

func newEngine(t *testing.T, hooks *HookRegistry) (*Engine, *alias.Table) {
	t.Helper()
	tbl := alias.New(memory.New())
	return New(tbl, hooks, WithRoller(maxRoller{})), tbl
}

func TestResolve_Reports(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "anonymous expression",
			req:  Request{Actor: "GeeEm", Expr: dice.MustParse("4d1+2")},
			want: "GeeEm, you rolled: 4d1+2 = [1+1+1+1+2 = 6]",
		},
		{
			name: "words expression and modifier",
			req:  Request{Actor: "GeeEm", Words: "smack down", Expr: dice.MustParse("1d1"), Modifier: 2},
			want: "GeeEm, you rolled: smack down d1 +2 = [1+2 = 3]",
		},
		{
			name: "repeat",
			req:  Request{Actor: "GeeEm", Expr: dice.MustParse("d6x3")},
			want: "GeeEm, you rolled: d6x3 = [6, 6, 6]",
		},
		{
			name: "sorted",
			req:  Request{Actor: "GeeEm", Expr: dice.MustParse("2d1x2sort")},
			want: "GeeEm, you rolled: 2d1x2sort = [1+1 = 2, 1+1 = 2] (sorted)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, _ := newEngine(t, nil)
			out, err := e.Resolve(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if out.Kind != Rolled {
				t.Fatalf("kind = %v, want Rolled", out.Kind)
			}
			if out.Text != tt.want {
				t.Errorf("got %q, want %q", out.Text, tt.want)
			}
		})
	}
}

func TestResolve_AliasRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, tbl := newEngine(t, nil)

	first, err := e.Resolve(ctx, Request{Actor: "GeeEm", Words: "smackdown", Expr: dice.MustParse("1d1")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	stored, ok, _ := tbl.Get(ctx, "GeeEm", "smackdown")
	if !ok || stored != "d1" {
		t.Fatalf("stored = (%q, %v), want (%q, true)", stored, ok, "d1")
	}

	replay, err := e.Resolve(ctx, Request{Actor: "GeeEm", Words: "smackdown"})
	if err != nil {
		t.Fatalf("Resolve replay: %v", err)
	}
	if replay.Text != "GeeEm, you rolled: smackdown = [1]" {
		t.Errorf("got %q", replay.Text)
	}
	if first.Results[0].Sum() != replay.Results[0].Sum() {
		t.Errorf("replay total %d differs from first %d", replay.Results[0].Sum(), first.Results[0].Sum())
	}
	after, _, _ := tbl.Get(ctx, "GeeEm", "smackdown")
	if after != stored {
		t.Errorf("replay mutated alias: %q -> %q", stored, after)
	}
}

func TestResolve_NoOp(t *testing.T) {
	t.Parallel()
	e, _ := newEngine(t, nil)

	for _, req := range []Request{
		{Actor: "GeeEm", Words: "this no alias is"},
		{Actor: "GeeEm"},
	} {
		out, err := e.Resolve(context.Background(), req)
		if err != nil {
			t.Fatalf("Resolve(%+v): %v", req, err)
		}
		if out.Kind != NoOp || out.Text != "" {
			t.Errorf("Resolve(%+v) = %+v, want NoOp", req, out)
		}
	}
}

func TestResolve_AliasesAreScopedToActor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newEngine(t, nil)
	_, _ = e.Resolve(ctx, Request{Actor: "GeeEm", Words: "init", Expr: dice.MustParse("20")})

	out, _ := e.Resolve(ctx, Request{Actor: "Player", Words: "init"})
	if out.Kind != NoOp {
		t.Errorf("Player resolved GeeEm's alias: %q", out.Text)
	}
}

func TestResolve_CorruptStoredAlias(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, tbl := newEngine(t, nil)
	_ = tbl.Set(ctx, "GeeEm", "broken", "not dice")
	if _, err := e.Resolve(ctx, Request{Actor: "GeeEm", Words: "broken"}); !errors.Is(err, dice.ErrSyntax) {
		t.Errorf("err = %v, want ErrSyntax", err)
	}
}

func TestResolve_FiresHooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	hooks := NewHookRegistry()

	var (
		mu  sync.Mutex
		got []string
	)
	record := func(tag string) Hook {
		return func(_ context.Context, ev Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, tag+":"+ev.Actor+":"+ev.Target)
			return nil
		}
	}
	hooks.Register("smack down", "first", record("first"))
	hooks.Register("smack down", "second", record("second"))
	hooks.Register("other", "other", record("other"))

	e, _ := newEngine(t, hooks)
	_, err := e.Resolve(ctx, Request{
		Actor: "GeeEm", Words: "smack down", Expr: dice.MustParse("1d1"), Modifier: 2, Target: "orc",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first:GeeEm:orc", "second:GeeEm:orc"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("hooks fired %v, want %v", got, want)
	}
}

func TestResolve_NoHooksOnNoOp(t *testing.T) {
	t.Parallel()
	hooks := NewHookRegistry()
	fired := false
	hooks.Register("init", "init", func(context.Context, Event) error { fired = true; return nil })

	e, _ := newEngine(t, hooks)
	_, _ = e.Resolve(context.Background(), Request{Actor: "GeeEm", Words: "init"})
	if fired {
		t.Error("hook fired without a roll")
	}
}

func TestHookRegistry_IsolatesBadHooks(t *testing.T) {
	t.Parallel()
	hooks := NewHookRegistry(WithHookTimeout(20 * time.Millisecond))

	var ran bool
	hooks.Register("init", "slow", func(ctx context.Context, _ Event) error {
		<-ctx.Done()
		return ctx.Err()
	})
	hooks.Register("init", "panics", func(context.Context, Event) error { panic("boom") })
	hooks.Register("init", "fails", func(context.Context, Event) error { return errors.New("nope") })
	hooks.Register("init", "good", func(context.Context, Event) error { ran = true; return nil })

	start := time.Now()
	hooks.Fire(context.Background(), Event{Key: "init", Actor: "GeeEm"})
	if !ran {
		t.Error("good hook did not run after failing hooks")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Fire took %v, slow hook was not abandoned", elapsed)
	}
}

func TestHookRegistry_BreakerSkipsRepeatOffender(t *testing.T) {
	t.Parallel()
	hooks := NewHookRegistry()
	calls := 0
	hooks.Register("init", "flaky", func(context.Context, Event) error {
		calls++
		return errors.New("still broken")
	})
	for range 5 {
		hooks.Fire(context.Background(), Event{Key: "init"})
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 before the breaker opened", calls)
	}
	if hooks.Len("init") != 1 {
		t.Errorf("Len = %d, want 1", hooks.Len("init"))
	}
}
