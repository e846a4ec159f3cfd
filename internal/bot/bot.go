// Package bot is the transport-agnostic chat front end. A transport feeds it
// inbound lines and membership events; the bot finds the session each line
// belongs to, dispatches it, and delivers the answer through a [Sender].
//
// Delivery rules:
//   - a recipient named more than once in one response gets one message;
//   - multi-line text goes out one line at a time, paced by the line delay;
//   - at most SpamLimit "wtf?" replies are sent per SpamWindow.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/vellumbot/internal/identity"
	"github.com/MrWong99/vellumbot/internal/linesyntax"
	"github.com/MrWong99/vellumbot/internal/observe"
	"github.com/MrWong99/vellumbot/internal/response"
	"github.com/MrWong99/vellumbot/internal/session"
	"github.com/MrWong99/vellumbot/internal/store"
)

// Defaults for the spam limiter and multi-line pacing.
const (
	DefaultSpamLimit  = 3
	DefaultSpamWindow = 30 * time.Second
	DefaultLineDelay  = 700 * time.Millisecond
)

// Sender delivers one line of text. Transports implement it.
type Sender interface {
	Send(ctx context.Context, to identity.Identity, text string) error
}

// SessionFactory builds the session for channel. The default session, which
// answers direct messages from people in no known channel, is built with
// isDefault set and a zero channel.
type SessionFactory func(channel identity.Identity, isDefault bool) *session.Session

// Inbound is one chat line.
type Inbound struct {
	From identity.Identity
	// Channel is where the line was said. Empty, or the bot's own nick,
	// marks a direct message.
	Channel string
	Text    string
}

// Bot routes chat lines to sessions. All methods are safe for concurrent
// use.
type Bot struct {
	nick       string
	sender     Sender
	newSession SessionFactory
	users      store.UserStore
	metrics    *observe.Metrics
	transport  string
	log        *slog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	sessions []*session.Session
	fallback *session.Session

	spam      *limiter
	spamLimit int
	spamWin   time.Duration
	lineDelay atomic.Int64

	knownMu sync.Mutex
	known   map[string]string

	life   context.Context
	stop   context.CancelFunc
	pacing sync.WaitGroup
}

// Option configures a [Bot].
type Option func(*Bot)

// WithUsers persists the users the bot hears from.
func WithUsers(u store.UserStore) Option {
	return func(b *Bot) { b.users = u }
}

// WithMetrics records line and delivery metrics under the transport label.
func WithMetrics(m *observe.Metrics, transport string) Option {
	return func(b *Bot) {
		b.metrics = m
		b.transport = transport
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) { b.log = l }
}

// WithSpamLimit sets how many "wtf?" replies are sent per window.
func WithSpamLimit(limit int, window time.Duration) Option {
	return func(b *Bot) {
		b.spamLimit = limit
		b.spamWin = window
	}
}

// WithLineDelay sets the pause between lines of a multi-line message.
func WithLineDelay(d time.Duration) Option {
	return func(b *Bot) { b.lineDelay.Store(int64(d)) }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

// New returns a bot called nick that answers through sender.
func New(nick string, sender Sender, factory SessionFactory, opts ...Option) *Bot {
	b := &Bot{
		nick:       nick,
		sender:     sender,
		newSession: factory,
		transport:  "unknown",
		log:        slog.Default(),
		now:        time.Now,
		spamLimit:  DefaultSpamLimit,
		spamWin:    DefaultSpamWindow,
		known:      make(map[string]string),
	}
	b.lineDelay.Store(int64(DefaultLineDelay))
	for _, o := range opts {
		o(b)
	}
	b.log = b.log.With("bot", nick)
	b.spam = newLimiter(b.spamLimit, b.spamWin, b.now)
	b.fallback = factory(identity.Identity{}, true)
	b.life, b.stop = context.WithCancel(context.Background())
	return b
}

// Nick is the bot's own name.
func (b *Bot) Nick() string { return b.nick }

// SetSpamLimit changes the spam limiter at runtime.
func (b *Bot) SetSpamLimit(limit int, window time.Duration) {
	b.spam.set(limit, window)
}

// SetLineDelay changes the multi-line pacing at runtime.
func (b *Bot) SetLineDelay(d time.Duration) { b.lineDelay.Store(int64(d)) }

// LineDelay returns the current multi-line pacing.
func (b *Bot) LineDelay() time.Duration { return time.Duration(b.lineDelay.Load()) }

// Default returns the session for direct messages from unknown people.
func (b *Bot) Default() *session.Session { return b.fallback }

// Sessions returns the channel sessions in join order.
func (b *Bot) Sessions() []*session.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*session.Session(nil), b.sessions...)
}

// FindSession returns the session whose channel is name, or the first
// session that has name as a member, or the default session.
func (b *Bot) FindSession(name string) *session.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key := strings.ToLower(name)
	for _, s := range b.sessions {
		if s.Channel().Key() == key || s.MatchNick(name) {
			return s
		}
	}
	return b.fallback
}

func (b *Bot) channelSession(channel string) *session.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key := strings.ToLower(channel)
	for _, s := range b.sessions {
		if s.Channel().Key() == key {
			return s
		}
	}
	return nil
}

// observersOf returns the observers of every session name is a member of.
// Someone in no channel session is answered by the default session, so its
// observers are used instead.
func (b *Bot) observersOf(name string) []identity.Identity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []identity.Identity
	member := false
	for _, s := range b.sessions {
		if s.MatchNick(name) {
			member = true
			out = append(out, s.Observers()...)
		}
	}
	if !member {
		out = b.fallback.Observers()
	}
	return identity.Dedupe(out)
}

// Message handles one inbound line. Lines that are neither commands nor
// verb phrases, and commands addressed to another bot, are ignored. A
// non-nil error is only returned in diagnostic mode.
func (b *Bot) Message(ctx context.Context, in Inbound) error {
	private := in.Channel == "" || strings.EqualFold(in.Channel, b.nick)
	where, spanChannel := in.Channel, in.Channel
	if private {
		where, spanChannel = in.From.Name, ""
	}
	ctx, span := observe.StartLineSpan(ctx, b.transport, spanChannel, in.From.Name)
	defer span.End()
	b.rememberUser(ctx, in.From)

	sent, err := linesyntax.ParseSentence(in.Text)
	if err != nil {
		b.recordLine(ctx, observe.KindIgnored)
		return nil
	}
	if sent.IsCommand() && sent.BotName != "" && !strings.EqualFold(sent.BotName, b.nick) {
		b.recordLine(ctx, observe.KindIgnored)
		return nil
	}

	sess := b.FindSession(where)
	req := session.Request{Speaker: in.From, Line: in.Text, Sentence: sent}
	kind := observe.KindInteraction
	if sent.IsCommand() {
		kind = observe.KindCommand
	}
	b.recordLine(ctx, kind)
	span.SetAttributes(observe.AttrKind.String(kind))

	start := b.now()
	var m response.Messager
	switch {
	case sent.IsCommand() && private:
		m, err = sess.PrivateCommand(ctx, req, b.observersOf(in.From.Name)...)
	case sent.IsCommand():
		m, err = sess.Command(ctx, req)
	case private:
		m, err = sess.PrivateInteraction(ctx, req, b.observersOf(in.From.Name)...)
	default:
		m, err = sess.Interaction(ctx, req)
	}
	if b.metrics != nil {
		b.metrics.RecordDispatch(ctx, kind, b.now().Sub(start).Seconds())
	}
	if err != nil {
		err = fmt.Errorf("bot: %s from %s in %s: %w", kind, in.From.Name, sess.Channel().Name, err)
		observe.Fail(span, err)
		return err
	}
	b.Deliver(ctx, m)
	return nil
}

// Deliver sends m. Recipients repeated within one response get one message,
// and an unknown-command reply is subject to the spam limiter.
func (b *Bot) Deliver(ctx context.Context, m response.Messager) {
	for _, r := range response.Flatten(m) {
		if r.Text() == session.WTF && !b.admitWTF(ctx) {
			continue
		}
		seen := make(map[string]bool)
		for msg := range r.Messages() {
			key := msg.To.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			b.sendText(ctx, msg.To, msg.Text)
		}
	}
}

func (b *Bot) admitWTF(ctx context.Context) bool {
	ok, tripped := b.spam.allow()
	if tripped {
		b.log.Warn("spam blocking tripped, wtf counter exceeded")
	}
	if !ok && b.metrics != nil {
		b.metrics.SpamBlocked.Add(ctx, 1)
	}
	return ok
}

func (b *Bot) sendText(ctx context.Context, to identity.Identity, text string) {
	lines := splitLines(text)
	if len(lines) == 0 {
		return
	}
	b.send(ctx, to, lines[0])
	if len(lines) == 1 {
		return
	}

	rest := lines[1:]
	b.pacing.Add(1)
	go func() {
		defer b.pacing.Done()
		for _, line := range rest {
			if d := b.LineDelay(); d > 0 {
				t := time.NewTimer(d)
				select {
				case <-b.life.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}
			b.send(b.life, to, line)
		}
	}()
}

func (b *Bot) send(ctx context.Context, to identity.Identity, line string) {
	status := "ok"
	if err := b.sender.Send(ctx, to, line); err != nil {
		status = "error"
		if !errors.Is(err, context.Canceled) {
			observe.WithTrace(ctx, b.log).Warn("send failed", "to", to.Name, "err", err)
		}
	}
	if b.metrics != nil {
		b.metrics.RecordSent(ctx, b.transport, status)
	}
}

func (b *Bot) recordLine(ctx context.Context, kind string) {
	if b.metrics != nil {
		b.metrics.RecordLine(ctx, b.transport, kind)
	}
}

// Wait blocks until every paced multi-line send has finished.
func (b *Bot) Wait() { b.pacing.Wait() }

// Close abandons pending paced sends and waits for them to stop.
func (b *Bot) Close() error {
	b.stop()
	b.pacing.Wait()
	return nil
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// rememberUser persists id the first time it is heard from, and again
// whenever its encoding changes.
func (b *Bot) rememberUser(ctx context.Context, id identity.Identity) {
	if b.users == nil || id.Name == "" {
		return
	}
	b.knownMu.Lock()
	enc, ok := b.known[id.Key()]
	if ok && enc == id.Encoding {
		b.knownMu.Unlock()
		return
	}
	b.known[id.Key()] = id.Encoding
	b.knownMu.Unlock()

	if err := b.users.PutUser(ctx, store.User{Name: id.Name, Encoding: id.Encoding}); err != nil {
		observe.WithTrace(ctx, b.log).Warn("remember user failed", "user", id.Name, "err", err)
	}
}

// UserEncoding returns the stored encoding for name, if any.
func (b *Bot) UserEncoding(ctx context.Context, name string) (string, bool) {
	if b.users == nil {
		return "", false
	}
	u, err := b.users.User(ctx, name)
	if err != nil || u.Encoding == "" {
		return "", false
	}
	return u.Encoding, true
}
