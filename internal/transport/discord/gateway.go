// Package discord connects the chat bot to a Discord guild. It owns the
// discordgo session lifecycle, turns gateway events into bot membership
// events and chat lines, delivers replies as channel messages or DMs, and
// serves the /vellum slash command.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vellumbot/internal/bot"
	"github.com/MrWong99/vellumbot/internal/identity"
	"github.com/MrWong99/vellumbot/internal/linesyntax"
)

// ErrUnknownRecipient is returned by [Gateway.Send] for a name the gateway
// has never seen.
var ErrUnknownRecipient = errors.New("discord: unknown recipient")

// ErrNotConnected is reported by [Gateway.Ping] before the gateway is ready.
var ErrNotConnected = errors.New("discord: not connected")

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID restricts the bot to one guild. Empty serves every guild the
	// bot is in, registers the slash command globally and names channel
	// sessions "#name@guild".
	GuildID string

	// GMRoleID is required for GM commands when set.
	GMRoleID string
}

// API is the part of *discordgo.Session the gateway calls.
type API interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// Completer offers reference names for slash command autocomplete.
type Completer interface {
	Domains() []string
	Complete(domain, prefix string, n int) ([]string, error)
}

// Gateway adapts a Discord session to [bot.Sender] and feeds a [bot.Bot].
type Gateway struct {
	cfg     Config
	log     *slog.Logger
	session *discordgo.Session
	api     API
	router  *CommandRouter
	perms   *PermissionChecker
	refs    Completer

	bot       *bot.Bot
	selfID    atomic.Value // string
	connected atomic.Bool

	mu           sync.RWMutex
	channels     map[string]string // "#name" key -> channel id
	channelNames map[string]string // channel id -> "#name"
	channelGuild map[string]string // channel id -> guild id
	users        map[string]string // name key -> user id
	dms          map[string]string // user id -> DM channel id
	registered   []*discordgo.ApplicationCommand
	closeOnce    sync.Once
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithCompleter enables autocomplete for /vellum lookup.
func WithCompleter(c Completer) Option {
	return func(g *Gateway) { g.refs = c }
}

// New creates a Gateway. The connection is opened by [Gateway.Run].
func New(cfg Config, opts ...Option) (*Gateway, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	g := newGateway(s, cfg, opts...)
	g.session = s
	return g, nil
}

func newGateway(api API, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:          cfg,
		log:          slog.Default(),
		api:          api,
		perms:        NewPermissionChecker(cfg.GMRoleID),
		channels:     make(map[string]string),
		channelNames: make(map[string]string),
		channelGuild: make(map[string]string),
		users:        make(map[string]string),
		dms:          make(map[string]string),
	}
	g.selfID.Store("")
	for _, o := range opts {
		o(g)
	}
	g.log = g.log.With("transport", "discord")
	g.router = NewCommandRouter(api, g.log)
	g.registerVellum()
	return g
}

// Attach sets the bot that receives chat lines. It must be called before
// [Gateway.Run].
func (g *Gateway) Attach(b *bot.Bot) { g.bot = b }

// Router returns the slash command router.
func (g *Gateway) Router() *CommandRouter { return g.router }

// Run opens the gateway, registers the slash commands and blocks until ctx
// is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	if g.bot == nil {
		return errors.New("discord: no bot attached")
	}
	s := g.session
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.Ready) { g.onReady(e) })
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildCreate) { g.onGuildCreate(ctx, e) })
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildDelete) { g.onGuildDelete(ctx, e) })
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelCreate) { g.onChannelCreate(ctx, e) })
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelDelete) { g.onChannelDelete(ctx, e) })
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberAdd) { g.onMemberAdd(ctx, e) })
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) { g.onMemberUpdate(ctx, e) })
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberRemove) { g.onMemberRemove(ctx, e) })
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageCreate) { g.onMessage(ctx, e) })
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.InteractionCreate) { g.router.Handle(e) })

	if err := s.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	defer g.close()

	if s.State != nil && s.State.User != nil {
		cmds := g.router.ApplicationCommands()
		registered, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, g.cfg.GuildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		g.mu.Lock()
		g.registered = registered
		g.mu.Unlock()
		g.log.Info("discord commands registered", "count", len(registered))
	}

	<-ctx.Done()
	return nil
}

// close unregisters the slash commands and disconnects.
func (g *Gateway) close() {
	g.closeOnce.Do(func() {
		g.connected.Store(false)
		s := g.session
		g.mu.RLock()
		registered := g.registered
		g.mu.RUnlock()
		if s.State != nil && s.State.User != nil {
			for _, cmd := range registered {
				if err := s.ApplicationCommandDelete(s.State.User.ID, g.cfg.GuildID, cmd.ID); err != nil {
					g.log.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}
		if err := s.Close(); err != nil {
			g.log.Warn("discord: close session", "err", err)
		}
		g.log.Info("discord gateway closed")
	})
}

// Ping reports whether the gateway is connected. It is a readiness check.
func (g *Gateway) Ping(context.Context) error {
	if !g.connected.Load() {
		return ErrNotConnected
	}
	return nil
}

// Send delivers text to a channel or, for a person, as a direct message.
func (g *Gateway) Send(ctx context.Context, to identity.Identity, text string) error {
	channelID, err := g.resolve(ctx, to)
	if err != nil {
		return err
	}
	if _, err := g.api.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send to %s: %w", to.Name, err)
	}
	return nil
}

func (g *Gateway) resolve(ctx context.Context, to identity.Identity) (string, error) {
	if to.IsChannel() {
		if to.Handle != "" {
			return to.Handle, nil
		}
		g.mu.RLock()
		id, ok := g.channels[to.Key()]
		g.mu.RUnlock()
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownRecipient, to.Name)
		}
		return id, nil
	}

	userID := to.Handle
	g.mu.RLock()
	if userID == "" {
		userID = g.users[to.Key()]
	}
	dm, ok := g.dms[userID]
	g.mu.RUnlock()
	if userID == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownRecipient, to.Name)
	}
	if ok {
		return dm, nil
	}
	ch, err := g.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: open DM with %s: %w", to.Name, err)
	}
	g.mu.Lock()
	g.dms[userID] = ch.ID
	g.mu.Unlock()
	return ch.ID, nil
}

func (g *Gateway) inGuild(guildID string) bool {
	return g.cfg.GuildID == "" || g.cfg.GuildID == guildID
}

func userIdentity(u *discordgo.User) identity.Identity {
	return identity.Identity{Handle: u.ID, Name: u.Username}
}

func (g *Gateway) rememberUser(u *discordgo.User) identity.Identity {
	id := userIdentity(u)
	g.mu.Lock()
	g.users[id.Key()] = u.ID
	g.mu.Unlock()
	return id
}

// rememberChannel records a text channel and returns the session name it is
// served under. The name is "#name" when the gateway is bound to one guild
// and "#name@guild" otherwise; a name already taken by another channel gets
// the channel id instead of the guild.
func (g *Gateway) rememberChannel(c *discordgo.Channel) (identity.Identity, bool) {
	if c.Type != discordgo.ChannelTypeGuildText {
		return identity.Identity{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if name, ok := g.channelNames[c.ID]; ok {
		return identity.Identity{Handle: c.ID, Name: name}, true
	}

	name := identity.Channel(c.Name).Name
	if g.cfg.GuildID == "" && c.GuildID != "" {
		name += "@" + c.GuildID
	}
	if owner, taken := g.channels[strings.ToLower(name)]; taken && owner != c.ID {
		name = identity.Channel(c.Name).Name + "@" + c.ID
	}
	g.channels[strings.ToLower(name)] = c.ID
	g.channelNames[c.ID] = name
	g.channelGuild[c.ID] = c.GuildID
	return identity.Identity{Handle: c.ID, Name: name}, true
}

func (g *Gateway) forgetChannel(id string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name, ok := g.channelNames[id]
	if !ok {
		return "", false
	}
	delete(g.channelNames, id)
	delete(g.channelGuild, id)
	delete(g.channels, strings.ToLower(name))
	return name, true
}

func (g *Gateway) channelName(id string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	name, ok := g.channelNames[id]
	return name, ok
}

func (g *Gateway) onReady(e *discordgo.Ready) {
	if e.User != nil {
		g.selfID.Store(e.User.ID)
	}
	g.connected.Store(true)
	g.log.Info("discord gateway ready", "guilds", len(e.Guilds))
}

func (g *Gateway) onGuildCreate(ctx context.Context, e *discordgo.GuildCreate) {
	if e.Guild == nil || !g.inGuild(e.ID) {
		return
	}
	for _, c := range e.Channels {
		if c.GuildID == "" {
			c.GuildID = e.ID
		}
		if ch, ok := g.rememberChannel(c); ok {
			g.bot.JoinChannel(ctx, ch)
		}
	}
	for _, m := range e.Members {
		if m.User != nil && !m.User.Bot {
			g.rememberUser(m.User)
		}
	}
}

func (g *Gateway) onGuildDelete(ctx context.Context, e *discordgo.GuildDelete) {
	if e.Guild == nil {
		return
	}
	g.mu.RLock()
	var ids []string
	for id, guild := range g.channelGuild {
		if guild == e.ID {
			ids = append(ids, id)
		}
	}
	g.mu.RUnlock()
	for _, id := range ids {
		if name, ok := g.forgetChannel(id); ok {
			g.bot.Kicked(ctx, name)
		}
	}
}

func (g *Gateway) onChannelCreate(ctx context.Context, e *discordgo.ChannelCreate) {
	if e.Channel == nil || !g.inGuild(e.GuildID) {
		return
	}
	if ch, ok := g.rememberChannel(e.Channel); ok {
		g.bot.JoinChannel(ctx, ch)
	}
}

func (g *Gateway) onChannelDelete(ctx context.Context, e *discordgo.ChannelDelete) {
	if e.Channel == nil {
		return
	}
	if name, ok := g.forgetChannel(e.ID); ok {
		g.bot.Left(ctx, name)
	}
}

func (g *Gateway) onMemberAdd(_ context.Context, e *discordgo.GuildMemberAdd) {
	if e.Member == nil || e.User == nil || !g.inGuild(e.GuildID) {
		return
	}
	g.rememberUser(e.User)
}

func (g *Gateway) onMemberUpdate(ctx context.Context, e *discordgo.GuildMemberUpdate) {
	if e.Member == nil || e.User == nil || e.BeforeUpdate == nil || e.BeforeUpdate.User == nil {
		return
	}
	oldName, newName := e.BeforeUpdate.User.Username, e.User.Username
	if oldName == newName {
		return
	}
	g.mu.Lock()
	delete(g.users, strings.ToLower(oldName))
	g.mu.Unlock()
	g.rememberUser(e.User)
	g.bot.UserRenamed(ctx, oldName, newName)
}

func (g *Gateway) onMemberRemove(ctx context.Context, e *discordgo.GuildMemberRemove) {
	if e.Member == nil || e.User == nil || !g.inGuild(e.GuildID) {
		return
	}
	g.bot.UserQuit(ctx, e.User.Username)
}

var mentionRE = regexp.MustCompile(`^<@!?(\d+)>[\s,:]*`)

// addressed rewrites a leading mention of the bot into "Nick: ".
func (g *Gateway) addressed(text string) string {
	m := mentionRE.FindStringSubmatch(text)
	if m == nil || m[1] != g.selfID.Load().(string) {
		return text
	}
	return g.bot.Nick() + ": " + text[len(m[0]):]
}

func (g *Gateway) onMessage(ctx context.Context, e *discordgo.MessageCreate) {
	if e.Message == nil || e.Author == nil || e.Author.Bot || e.Author.ID == g.selfID.Load().(string) {
		return
	}
	from := g.rememberUser(e.Author)
	text := g.addressed(e.Content)

	var channel string
	if e.GuildID != "" {
		if !g.inGuild(e.GuildID) {
			return
		}
		name, ok := g.channelName(e.ChannelID)
		if !ok {
			g.log.Debug("message in unknown channel", "channel_id", e.ChannelID)
			return
		}
		channel = name
		g.bot.UserJoined(ctx, from, channel)
	} else {
		g.mu.Lock()
		g.dms[e.Author.ID] = e.ChannelID
		g.mu.Unlock()
	}

	if cmd, denied := g.denied(e.Member, text); denied {
		to := from
		if channel != "" {
			to = identity.Identity{Handle: e.ChannelID, Name: channel}
		}
		msg := fmt.Sprintf("%s: only a GM can use .%s here.", from.Name, cmd)
		if err := g.Send(ctx, to, msg); err != nil {
			g.log.Warn("send denial failed", "err", err)
		}
		return
	}

	if err := g.bot.Message(ctx, bot.Inbound{From: from, Channel: channel, Text: text}); err != nil {
		g.log.Error("message failed", "user", from.Name, "err", err)
	}
}

// denied reports whether text is a GM command that member may not run.
func (g *Gateway) denied(member *discordgo.Member, text string) (string, bool) {
	sent, err := linesyntax.ParseSentence(text)
	if err != nil || !sent.IsCommand() {
		return "", false
	}
	cmd := strings.ToLower(sent.Command)
	return cmd, !g.perms.Allowed(member, cmd)
}
