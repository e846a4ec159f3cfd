// Package session holds per-channel game state and dispatches what people
// say in that channel.
//
// A [Session] owns the channel's membership and its observers (game
// masters). Commands (".hello", "Bot: aliases") dispatch through an explicit
// table built once per session from the base commands plus any
// [Extension]s. Free-form lines with bracketed verb phrases go to the
// resolver, once per phrase and target.
//
// Private variants address the speaker plus every observer instead of the
// channel, so a game master sees what players roll in private.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/vellumbot/internal/alias"
	"github.com/MrWong99/vellumbot/internal/identity"
	"github.com/MrWong99/vellumbot/internal/linesyntax"
	"github.com/MrWong99/vellumbot/internal/resolve"
	"github.com/MrWong99/vellumbot/internal/response"
	"github.com/MrWong99/vellumbot/internal/store"
)

// WTF is the reply to a command nobody registered.
const WTF = "wtf?"

// ErrUnknownHail matches every [*UnknownHailError].
var ErrUnknownHail = errors.New("session: unknown command")

// UnknownHailError reports a command with no handler.
type UnknownHailError struct {
	Command    string
	Suggestion string
}

func (e *UnknownHailError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("session: unknown command %q (did you mean %q?)", e.Command, e.Suggestion)
	}
	return fmt.Sprintf("session: unknown command %q", e.Command)
}

// Is reports whether target is [ErrUnknownHail].
func (e *UnknownHailError) Is(target error) bool { return target == ErrUnknownHail }

// HandlerError wraps a failure inside a command handler.
type HandlerError struct {
	Command string
	User    string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("session: command %q from %s: %v", e.Command, e.User, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Apology is the text sent to the requester instead of e.
func (e *HandlerError) Apology() string {
	return fmt.Sprintf("** Sorry, %s: %v", e.User, e.Err)
}

// Request is one line addressed to a session.
type Request struct {
	Speaker  identity.Identity
	Line     string
	Sentence *linesyntax.Sentence
}

func (r Request) context() response.Context {
	return response.Context{Speaker: r.Speaker, Line: r.Line}
}

// Handler runs a command. A nil Messager with a nil error stays silent.
type Handler func(ctx context.Context, call *Call) (response.Messager, error)

// Command is one entry of the command table.
type Command struct {
	Name  string
	Usage string
	Help  string
	Run   Handler
}

// Lookup answers ".lookup <domain> <terms...>".
type Lookup func(ctx context.Context, call *Call, terms []string) (response.Messager, error)

// Extension contributes game-specific commands and lookup domains.
type Extension interface {
	Commands() []Command
	Lookups() map[string]Lookup
}

// Call is the context a handler runs in.
type Call struct {
	Session    *Session
	Request    Request
	Args       []string
	recipients []identity.Identity
}

// User is the speaker's display name.
func (c *Call) User() string { return c.Request.Speaker.Name }

// Recipients returns who the reply goes to.
func (c *Call) Recipients() []identity.Identity { return c.recipients }

// Reply builds a response to the call's recipients.
func (c *Call) Reply(text string, opts ...response.Option) (response.Messager, error) {
	r, err := response.New(text, c.Request.context(), c.recipients, opts...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Session is the state of one channel. All methods are safe for concurrent
// use; dispatch is serialised per session.
type Session struct {
	channel   identity.Identity
	isDefault bool

	engine     *resolve.Engine
	aliases    *alias.Table
	records    store.SessionStore
	log        *slog.Logger
	diagnostic *atomic.Bool

	commands map[string]Command
	lookups  map[string]Lookup

	// run serialises dispatch; mu guards membership.
	run       sync.Mutex
	mu        sync.RWMutex
	nicks     map[string]identity.Identity
	observers []identity.Identity
}

// Option configures a [Session].
type Option func(*Session)

// WithExtension adds ext's commands and lookups. Later extensions override
// earlier names.
func WithExtension(ext Extension) Option {
	return func(s *Session) {
		for _, c := range ext.Commands() {
			s.commands[strings.ToLower(c.Name)] = c
		}
		for domain, l := range ext.Lookups() {
			s.lookups[strings.ToLower(domain)] = l
		}
	}
}

// WithStore persists observers to st.
func WithStore(st store.SessionStore) Option {
	return func(s *Session) { s.records = st }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithDiagnostic makes dispatch return handler errors instead of apologising
// while flag is set.
func WithDiagnostic(flag *atomic.Bool) Option {
	return func(s *Session) { s.diagnostic = flag }
}

// AsDefault marks the session that answers private messages from people who
// share no channel with the bot.
func AsDefault() Option {
	return func(s *Session) { s.isDefault = true }
}

// New returns a session for channel.
func New(channel identity.Identity, engine *resolve.Engine, aliases *alias.Table, opts ...Option) *Session {
	s := &Session{
		channel:    channel,
		engine:     engine,
		aliases:    aliases,
		log:        slog.Default(),
		diagnostic: new(atomic.Bool),
		commands:   make(map[string]Command),
		lookups:    make(map[string]Lookup),
		nicks:      make(map[string]identity.Identity),
	}
	for _, c := range s.baseCommands() {
		s.commands[c.Name] = c
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("session", channel.Name)
	return s
}

// Channel returns the session's channel identity.
func (s *Session) Channel() identity.Identity { return s.channel }

// IsDefault reports whether s is the default session.
func (s *Session) IsDefault() bool { return s.isDefault }

// Aliases returns the alias table.
func (s *Session) Aliases() *alias.Table { return s.aliases }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.log }

// Diagnostic returns the flag that makes handler failures surface as errors
// instead of apologies.
func (s *Session) Diagnostic() *atomic.Bool { return s.diagnostic }

func (s *Session) String() string { return fmt.Sprintf("<Session %s>", s.channel.Name) }

// Command dispatches a public command; the reply goes to the channel.
func (s *Session) Command(ctx context.Context, req Request) (response.Messager, error) {
	return s.doCommand(ctx, req, []identity.Identity{s.channel})
}

// PrivateCommand dispatches a command said privately to the bot. The reply
// goes to the speaker and every distinct observer other than the speaker.
func (s *Session) PrivateCommand(ctx context.Context, req Request, observers ...identity.Identity) (response.Messager, error) {
	return s.doCommand(ctx, req, privateRecipients(req.Speaker, observers))
}

// Interaction resolves a public free-form line.
func (s *Session) Interaction(ctx context.Context, req Request) (response.Messager, error) {
	return s.doInteraction(ctx, req, []identity.Identity{s.channel})
}

// PrivateInteraction resolves a free-form line said privately to the bot.
func (s *Session) PrivateInteraction(ctx context.Context, req Request, observers ...identity.Identity) (response.Messager, error) {
	return s.doInteraction(ctx, req, privateRecipients(req.Speaker, observers))
}

func privateRecipients(speaker identity.Identity, observers []identity.Identity) []identity.Identity {
	out := []identity.Identity{speaker}
	for _, o := range observers {
		if !o.Same(speaker) {
			out = append(out, o)
		}
	}
	return identity.Dedupe(out)
}

func (s *Session) doCommand(ctx context.Context, req Request, recipients []identity.Identity) (msg response.Messager, err error) {
	if req.Sentence == nil || !req.Sentence.IsCommand() {
		return nil, fmt.Errorf("session: %q is not a command", req.Line)
	}
	s.run.Lock()
	defer s.run.Unlock()

	name := strings.ToLower(req.Sentence.Command)
	call := &Call{Session: s, Request: req, recipients: recipients}

	cmd, ok := s.commands[name]
	if !ok {
		hail := &UnknownHailError{Command: name, Suggestion: s.suggest(name)}
		s.log.Debug("unknown command", "command", name, "user", req.Speaker.Name, "suggestion", hail.Suggestion)
		if s.diagnostic.Load() {
			return nil, hail
		}
		return call.Reply(WTF)
	}

	defer func() {
		if p := recover(); p != nil {
			msg, err = s.fail(call, name, fmt.Errorf("panic: %v", p))
		}
	}()

	args, err := req.Sentence.CommandArgs()
	if err != nil {
		return s.fail(call, name, err)
	}
	call.Args = args

	msg, err = cmd.Run(ctx, call)
	if err != nil {
		return s.fail(call, name, err)
	}
	return msg, nil
}

// fail turns a handler failure into an apology, or returns it in
// diagnostic mode.
func (s *Session) fail(call *Call, name string, cause error) (response.Messager, error) {
	herr := &HandlerError{Command: name, User: call.User(), Err: cause}
	s.log.Error("command failed", "command", name, "user", call.User(), "err", cause)
	if s.diagnostic.Load() {
		return nil, herr
	}
	return call.Reply(herr.Apology())
}

// suggest returns the registered command closest to name, if any is close.
func (s *Session) suggest(name string) string {
	best, bestScore := "", 0.85
	for known := range s.commands {
		if score := matchr.JaroWinkler(name, known, false); score > bestScore {
			best, bestScore = known, score
		}
	}
	return best
}

func (s *Session) doInteraction(ctx context.Context, req Request, recipients []identity.Identity) (response.Messager, error) {
	sent := req.Sentence
	if sent == nil || len(sent.VerbPhrases) == 0 {
		return nil, fmt.Errorf("session: %q has no verb phrases", req.Line)
	}
	s.run.Lock()
	defer s.run.Unlock()

	actor := req.Speaker.Name
	if sent.Actor != "" {
		actor = sent.Actor
	}

	targets := sent.Targets
	if len(targets) == 0 {
		targets = []string{""}
	}

	var lines []string
	for _, vp := range sent.VerbPhrases {
		for _, target := range targets {
			out, err := s.engine.Resolve(ctx, resolve.Request{
				Channel:  s.channel.Name,
				Actor:    actor,
				Words:    alias.Key(vp.WordList()),
				Expr:     vp.Expr,
				Modifier: vp.Modifier,
				Target:   target,
			})
			if err != nil {
				s.log.Error("resolve failed", "actor", actor, "phrase", vp.String(), "err", err)
				if s.diagnostic.Load() {
					return nil, err
				}
				continue
			}
			if out.Kind == resolve.Rolled {
				lines = append(lines, out.Text)
			}
		}
	}
	if len(lines) == 0 {
		return nil, nil
	}
	r, err := response.New(strings.Join(lines, "\n"), req.context(), recipients)
	if err != nil {
		return nil, err
	}
	return r, nil
}
