// Package wsline serves a small IRC-style chat over WebSocket. People join
// channels, talk to each other and to the bot; the hub relays their lines
// and feeds the bot's [bot.Bot] the same events an IRC network would.
//
// A connection is opened at the hub's path with ?nick=<name> and an optional
// &encoding=<charset>. UTF-8 clients exchange text frames; clients that ask
// for another charset exchange binary frames in that charset.
package wsline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vellumbot/internal/bot"
	"github.com/MrWong99/vellumbot/internal/identity"
	"github.com/MrWong99/vellumbot/internal/observe"
)

// ErrUnknownRecipient is returned by [Hub.Send] for a nick or channel the
// hub does not know.
var ErrUnknownRecipient = errors.New("wsline: unknown recipient")

// ErrClosed is reported by [Hub.Ping] after [Hub.Close].
var ErrClosed = errors.New("wsline: hub closed")

var errClientClosed = errors.New("wsline: client closed")

const (
	outboxSize   = 64
	writeTimeout = 5 * time.Second
	// maxLine bounds one inbound frame.
	maxLine = 4096
)

type client struct {
	id     identity.Identity
	conn   *websocket.Conn
	out    chan string
	closed chan struct{}
	once   sync.Once
	status websocket.StatusCode
	reason string

	// channels the client is in, by key. Guarded by Hub.mu.
	channels map[string]string
}

// shut ends the connection with status. Only the first call counts.
func (c *client) shut(status websocket.StatusCode, reason string) {
	c.once.Do(func() {
		c.status, c.reason = status, reason
		close(c.closed)
	})
}

// Hub is the chat server. It implements [bot.Sender].
type Hub struct {
	log            *slog.Logger
	metrics        *observe.Metrics
	defaultChannel string
	bot            *bot.Bot

	nextID atomic.Int64
	closed atomic.Bool

	mu       sync.RWMutex
	clients  map[string]*client            // nick key
	channels map[string]map[string]*client // channel key -> nick key -> client
	names    map[string]string             // channel key -> display name
	conns    sync.WaitGroup
}

// Option configures a [Hub].
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// WithMetrics counts open connections.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithDefaultChannel joins every new connection to channel.
func WithDefaultChannel(channel string) Option {
	return func(h *Hub) {
		if channel != "" {
			h.defaultChannel = identity.Channel(channel).Name
		}
	}
}

// New returns an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		log:      slog.Default(),
		clients:  make(map[string]*client),
		channels: make(map[string]map[string]*client),
		names:    make(map[string]string),
	}
	for _, o := range opts {
		o(h)
	}
	h.log = h.log.With("transport", "wsline")
	return h
}

// Attach sets the bot that hears the hub. It must be called before the hub
// serves connections.
func (h *Hub) Attach(b *bot.Bot) {
	h.bot = b
	if h.defaultChannel != "" {
		b.Joined(context.Background(), h.defaultChannel)
	}
}

// Ping reports whether the hub accepts connections.
func (h *Hub) Ping(context.Context) error {
	if h.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Send implements [bot.Sender]. Channel messages go to every member.
func (h *Hub) Send(_ context.Context, to identity.Identity, text string) error {
	line := Line{Prefix: h.bot.Nick(), Command: CmdPrivmsg, Params: []string{to.Name}, Trailing: text, HasTrailing: true}.String()
	h.mu.RLock()
	defer h.mu.RUnlock()
	if to.IsChannel() {
		members, ok := h.channels[to.Key()]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRecipient, to.Name)
		}
		for _, c := range members {
			h.enqueue(c, line)
		}
		return nil
	}
	c, ok := h.clients[to.Key()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, to.Name)
	}
	h.enqueue(c, line)
	return nil
}

// enqueue queues line for c. A client whose outbox is full is disconnected.
func (h *Hub) enqueue(c *client, line string) {
	select {
	case c.out <- line:
	case <-c.closed:
	default:
		h.log.Warn("dropping slow client", "user", c.id.Name)
		c.shut(websocket.StatusPolicyViolation, "too slow")
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	nick := r.URL.Query().Get("nick")
	if !validNick(nick) || strings.EqualFold(nick, h.bot.Nick()) {
		http.Error(w, "invalid nick", http.StatusBadRequest)
		return
	}
	id := identity.Identity{
		Handle:   strconv.FormatInt(h.nextID.Add(1), 10),
		Name:     nick,
		Encoding: r.URL.Query().Get("encoding"),
	}
	if _, err := id.Charset(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	_, taken := h.clients[id.Key()]
	h.mu.RUnlock()
	if taken {
		http.Error(w, "nick in use", http.StatusConflict)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Debug("accept failed", "err", err)
		return
	}
	conn.SetReadLimit(maxLine)
	c := &client{id: id, conn: conn, out: make(chan string, outboxSize), closed: make(chan struct{}), channels: make(map[string]string)}

	if err := h.register(c); err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer h.conns.Done()
	h.run(r.Context(), c)
}

func (h *Hub) register(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		return ErrClosed
	}
	if _, taken := h.clients[c.id.Key()]; taken {
		return fmt.Errorf("nick %s is in use", c.id.Name)
	}
	h.clients[c.id.Key()] = c
	h.conns.Add(1)
	return nil
}

func (h *Hub) run(ctx context.Context, c *client) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if h.metrics != nil {
		attrs := metric.WithAttributes(observe.Attr("transport", "wsline"))
		h.metrics.Connections.Add(ctx, 1, attrs)
		defer h.metrics.Connections.Add(context.WithoutCancel(ctx), -1, attrs)
	}
	h.log.Info("client connected", "user", c.id.Name, "encoding", c.id.Encoding)

	if h.defaultChannel != "" {
		h.join(ctx, c, h.defaultChannel)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.writeLoop(gctx, c) })
	g.Go(func() error {
		defer c.shut(websocket.StatusNormalClosure, "")
		return h.readLoop(gctx, c)
	})
	g.Go(func() error {
		select {
		case <-c.closed:
			c.conn.Close(c.status, c.reason)
			return errClientClosed
		case <-gctx.Done():
			return nil
		}
	})
	err := g.Wait()
	if errors.Is(err, errClientClosed) {
		err = nil
	}

	h.quit(context.WithoutCancel(ctx), c)
	c.conn.CloseNow()
	h.log.Info("client disconnected", "user", c.id.Name, "err", err)
}

func (h *Hub) writeLoop(ctx context.Context, c *client) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closed:
			return nil
		case line := <-c.out:
			if err := h.write(ctx, c, line); err != nil {
				return err
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, c *client, line string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	h.mu.RLock()
	id := c.id
	h.mu.RUnlock()
	if id.Encoding == "" || strings.EqualFold(id.Encoding, identity.DefaultEncoding) {
		return c.conn.Write(ctx, websocket.MessageText, []byte(line))
	}
	data, err := id.Encode(line)
	if err != nil {
		return fmt.Errorf("wsline: encode for %s: %w", id.Name, err)
	}
	return c.conn.Write(ctx, websocket.MessageBinary, data)
}

func (h *Hub) readLoop(ctx context.Context, c *client) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		text := string(data)
		if typ == websocket.MessageBinary {
			h.mu.RLock()
			id := c.id
			h.mu.RUnlock()
			if text, err = id.Decode(data); err != nil {
				h.reply(c, Line{Command: ReplyError, Trailing: "undecodable line"})
				continue
			}
		}
		for _, raw := range strings.Split(text, "\n") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			l, err := ParseLine(raw)
			if err != nil {
				h.reply(c, Line{Command: ReplyError, Trailing: err.Error()})
				continue
			}
			if l.Command == CmdQuit {
				return nil
			}
			h.handle(ctx, c, l)
		}
	}
}

func (h *Hub) reply(c *client, l Line) { h.enqueue(c, l.String()) }

func (h *Hub) handle(ctx context.Context, c *client, l Line) {
	switch l.Command {
	case CmdPing:
		h.reply(c, Line{Command: ReplyPong, Trailing: l.Trailing, HasTrailing: l.HasTrailing})
	case CmdJoin:
		for _, ch := range strings.Split(l.Param(0), ",") {
			if ch != "" {
				h.join(ctx, c, identity.Channel(ch).Name)
			}
		}
	case CmdPart:
		for _, ch := range strings.Split(l.Param(0), ",") {
			if ch != "" {
				h.part(ctx, c, identity.Channel(ch).Name)
			}
		}
	case CmdNick:
		newNick := l.Param(0)
		if newNick == "" {
			newNick = l.Trailing
		}
		h.rename(ctx, c, newNick)
	case CmdNames:
		h.sendNames(c, identity.Channel(l.Param(0)).Name)
	case CmdPrivmsg:
		h.privmsg(ctx, c, l.Param(0), l.Trailing)
	default:
		h.reply(c, Line{Command: ReplyError, Trailing: "unknown command " + l.Command})
	}
}

// broadcastLocked sends line to every member of channel key. h.mu must be
// held.
func (h *Hub) broadcastLocked(key, line string, except *client) {
	for _, m := range h.channels[key] {
		if m != except {
			h.enqueue(m, line)
		}
	}
}

func (h *Hub) join(ctx context.Context, c *client, channel string) {
	key := strings.ToLower(channel)
	h.mu.Lock()
	if _, in := c.channels[key]; in {
		h.mu.Unlock()
		return
	}
	members, ok := h.channels[key]
	if !ok {
		members = make(map[string]*client)
		h.channels[key] = members
		h.names[key] = channel
	}
	members[c.id.Key()] = c
	c.channels[key] = h.names[key]
	display := h.names[key]
	h.broadcastLocked(key, Line{Prefix: c.id.Name, Command: CmdJoin, Params: []string{display}}.String(), nil)
	id := c.id
	h.mu.Unlock()

	h.bot.Joined(ctx, display)
	h.bot.UserJoined(ctx, id, display)
	h.sendNames(c, display)
}

func (h *Hub) part(ctx context.Context, c *client, channel string) {
	key := strings.ToLower(channel)
	h.mu.Lock()
	display, in := c.channels[key]
	if !in {
		h.mu.Unlock()
		h.reply(c, Line{Command: ReplyError, Trailing: "not in " + channel})
		return
	}
	h.broadcastLocked(key, Line{Prefix: c.id.Name, Command: CmdPart, Params: []string{display}}.String(), nil)
	delete(h.channels[key], c.id.Key())
	delete(c.channels, key)
	name := c.id.Name
	h.mu.Unlock()

	h.bot.UserLeft(ctx, name, display)
}

func (h *Hub) rename(ctx context.Context, c *client, newNick string) {
	h.mu.Lock()
	if !validNick(newNick) || strings.EqualFold(newNick, h.bot.Nick()) {
		h.mu.Unlock()
		h.reply(c, Line{Command: ReplyError, Trailing: "invalid nick " + newNick})
		return
	}
	newKey := strings.ToLower(newNick)
	if other, taken := h.clients[newKey]; taken && other != c {
		h.mu.Unlock()
		h.reply(c, Line{Command: ReplyError, Trailing: "nick " + newNick + " is in use"})
		return
	}
	oldName, oldKey := c.id.Name, c.id.Key()
	line := Line{Prefix: oldName, Command: CmdNick, Params: []string{newNick}}.String()
	seen := map[*client]bool{c: true}
	h.enqueue(c, line)
	for key := range c.channels {
		for _, m := range h.channels[key] {
			if !seen[m] {
				seen[m] = true
				h.enqueue(m, line)
			}
		}
		delete(h.channels[key], oldKey)
		h.channels[key][newKey] = c
	}
	delete(h.clients, oldKey)
	c.id.Name = newNick
	h.clients[newKey] = c
	h.mu.Unlock()

	h.bot.UserRenamed(ctx, oldName, newNick)
}

func (h *Hub) quit(ctx context.Context, c *client) {
	h.mu.Lock()
	line := Line{Prefix: c.id.Name, Command: CmdQuit}.String()
	seen := map[*client]bool{c: true}
	for key := range c.channels {
		delete(h.channels[key], c.id.Key())
		for _, m := range h.channels[key] {
			if !seen[m] {
				seen[m] = true
				h.enqueue(m, line)
			}
		}
	}
	c.channels = nil
	if h.clients[c.id.Key()] == c {
		delete(h.clients, c.id.Key())
	}
	name := c.id.Name
	h.mu.Unlock()

	h.bot.UserQuit(ctx, name)
}

func (h *Hub) sendNames(c *client, channel string) {
	key := strings.ToLower(channel)
	h.mu.RLock()
	names := []string{h.bot.Nick()}
	for _, m := range h.channels[key] {
		names = append(names, m.id.Name)
	}
	display, ok := h.names[key]
	h.mu.RUnlock()
	if !ok {
		display = channel
	}
	slices.Sort(names[1:])
	h.reply(c, Line{Command: ReplyNames, Params: []string{display}, Trailing: strings.Join(names, " "), HasTrailing: true})
}

func (h *Hub) privmsg(ctx context.Context, c *client, target, text string) {
	if target == "" || text == "" {
		h.reply(c, Line{Command: ReplyError, Trailing: "usage: PRIVMSG <target> :<text>"})
		return
	}
	h.mu.RLock()
	from := c.id
	line := Line{Prefix: from.Name, Command: CmdPrivmsg, Params: []string{target}, Trailing: text, HasTrailing: true}.String()
	var channel string
	switch {
	case identity.IsChannelName(target):
		display, in := c.channels[strings.ToLower(target)]
		if !in {
			h.mu.RUnlock()
			h.reply(c, Line{Command: ReplyError, Trailing: "not in " + target})
			return
		}
		channel = display
		h.broadcastLocked(strings.ToLower(target), line, c)
	case strings.EqualFold(target, h.bot.Nick()):
		channel = h.bot.Nick()
	default:
		other, ok := h.clients[strings.ToLower(target)]
		h.mu.RUnlock()
		if !ok {
			h.reply(c, Line{Command: ReplyError, Trailing: "no such nick " + target})
			return
		}
		h.enqueue(other, line)
		return
	}
	h.mu.RUnlock()

	if err := h.bot.Message(ctx, bot.Inbound{From: from, Channel: channel, Text: text}); err != nil {
		h.log.Error("message failed", "user", from.Name, "err", err)
	}
}

// Close disconnects every client and waits for their connections to end.
func (h *Hub) Close() error {
	h.mu.RLock()
	if h.closed.Swap(true) {
		h.mu.RUnlock()
		return nil
	}
	for _, c := range h.clients {
		c.shut(websocket.StatusGoingAway, "shutting down")
	}
	h.mu.RUnlock()
	h.conns.Wait()
	return nil
}

var _ bot.Sender = (*Hub)(nil)
