// Package resolve turns one verb phrase into a roll report.
//
// For each phrase the [Engine] either rolls a fresh expression (storing it
// as an alias when words accompany it), replays an actor's alias, or does
// nothing at all. Nothing is the common case for ordinary chat that happens
// to contain brackets, so it is a distinct [Outcome] rather than an error.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/vellumbot/internal/alias"
	"github.com/MrWong99/vellumbot/pkg/dice"
)

// Kind classifies an [Outcome].
type Kind int

const (
	// NoOp means the phrase named no expression and no known alias.
	NoOp Kind = iota
	// Rolled means dice were rolled and Text holds the report.
	Rolled
)

// Request is one verb phrase to resolve.
type Request struct {
	// Channel names the session, passed through to hooks.
	Channel string
	// Actor owns the alias table consulted and is named in the report.
	Actor string
	// Words is the space-joined, lower-cased alias key. May be empty.
	Words string
	// Expr is the expression written on the line, nil when absent.
	Expr *dice.Expr
	// Modifier is a one-off bonus applied to this roll only.
	Modifier int
	// Target is passed to hooks only.
	Target string
}

// Outcome is the result of [Engine.Resolve].
type Outcome struct {
	Kind    Kind
	Text    string
	Results []dice.Result
}

// Engine resolves verb phrases against the alias table.
type Engine struct {
	aliases *alias.Table
	hooks   *HookRegistry
	roller  dice.Roller
	log     *slog.Logger
}

// Option configures an [Engine].
type Option func(*Engine)

// WithRoller replaces the random source.
func WithRoller(r dice.Roller) Option {
	return func(e *Engine) { e.roller = r }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New returns an Engine. hooks may be nil.
func New(aliases *alias.Table, hooks *HookRegistry, opts ...Option) *Engine {
	e := &Engine{
		aliases: aliases,
		hooks:   hooks,
		roller:  dice.Default,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.hooks == nil {
		e.hooks = NewHookRegistry(WithHookLogger(e.log))
	}
	return e
}

// Hooks returns the registry the engine fires.
func (e *Engine) Hooks() *HookRegistry { return e.hooks }

// Resolve rolls req and returns the report. Replaying an alias never writes
// to the alias table; only a phrase carrying both words and an expression
// does.
func (e *Engine) Resolve(ctx context.Context, req Request) (Outcome, error) {
	expr := req.Expr
	switch {
	case expr != nil && req.Words != "":
		if err := e.aliases.Set(ctx, req.Actor, req.Words, expr.String()); err != nil {
			return Outcome{}, fmt.Errorf("resolve: %w", err)
		}
	case expr == nil:
		if req.Words == "" {
			return Outcome{Kind: NoOp}, nil
		}
		stored, ok, err := e.aliases.Get(ctx, req.Actor, req.Words)
		if err != nil {
			return Outcome{}, fmt.Errorf("resolve: %w", err)
		}
		if !ok {
			return Outcome{Kind: NoOp}, nil
		}
		expr, err = dice.Parse(stored)
		if err != nil {
			return Outcome{}, fmt.Errorf("resolve: stored alias %q for %s: %w", req.Words, req.Actor, err)
		}
	}

	results := expr.Roll(e.roller, req.Modifier)
	if expr.Sort {
		dice.SortResults(results)
	}

	if req.Words != "" {
		e.hooks.Fire(ctx, Event{
			Channel: req.Channel,
			Actor:   req.Actor,
			Target:  req.Target,
			Key:     req.Words,
			Results: results,
		})
	}

	return Outcome{
		Kind:    Rolled,
		Text:    Report(req.Actor, req.Words, req.Expr, req.Modifier, results, expr.Sort),
		Results: results,
	}, nil
}

// Report formats "<actor>, you rolled: <words> <expr> <+mod> = [r1, r2]".
// written is the expression as it appeared on the line; a replayed alias
// passes nil so only the words show.
func Report(actor, words string, written *dice.Expr, modifier int, results []dice.Result, sorted bool) string {
	parts := make([]string, 0, 3)
	if words != "" {
		parts = append(parts, words)
	}
	if written != nil {
		parts = append(parts, written.String())
	}
	if modifier != 0 {
		parts = append(parts, fmt.Sprintf("%+d", modifier))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s, you rolled: %s = [%s]", actor, strings.Join(parts, " "), dice.FormatResults(results))
	if sorted {
		b.WriteString(" (sorted)")
	}
	return b.String()
}
