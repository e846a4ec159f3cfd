package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/MrWong99/vellumbot/internal/alias"
	"github.com/MrWong99/vellumbot/internal/bot"
	"github.com/MrWong99/vellumbot/internal/d20"
	"github.com/MrWong99/vellumbot/internal/identity"
	"github.com/MrWong99/vellumbot/internal/reference"
	"github.com/MrWong99/vellumbot/internal/resolve"
	"github.com/MrWong99/vellumbot/internal/session"
	"github.com/MrWong99/vellumbot/internal/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sent struct{ ChannelID, Content string }

// fakeAPI records what the gateway asks Discord to do.
type fakeAPI struct {
	mu        sync.Mutex
	sent      []sent
	dmOpened  []string
	responses []*discordgo.InteractionResponse
	sendErr   error
}

func (f *fakeAPI) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sent{channelID, content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeAPI) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dmOpened = append(f.dmOpened, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (f *fakeAPI) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeAPI) takeSent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

func (f *fakeAPI) lastResponse() *discordgo.InteractionResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		return nil
	}
	return f.responses[len(f.responses)-1]
}

type minRoller struct{}

func (minRoller) IntN(int) int { return 0 }

const (
	guildID = "g1"
	selfID  = "999"
)

var (
	geeem  = &discordgo.User{ID: "1", Username: "GeeEm"}
	player = &discordgo.User{ID: "2", Username: "Player"}
)

func newTestGateway(t *testing.T, cfg Config) (*Gateway, *fakeAPI, *bot.Bot) {
	t.Helper()
	if cfg.GuildID == "" {
		cfg.GuildID = guildID
	}
	g, api, b := newUnboundGateway(t, cfg)
	g.onGuildCreate(context.Background(), &discordgo.GuildCreate{Guild: &discordgo.Guild{
		ID: guildID,
		Channels: []*discordgo.Channel{
			{ID: "c1", Name: "testing", Type: discordgo.ChannelTypeGuildText},
			{ID: "v1", Name: "voice", Type: discordgo.ChannelTypeGuildVoice},
		},
		Members: []*discordgo.Member{{User: geeem}, {User: player}},
	}})
	return g, api, b
}

// newUnboundGateway returns a ready gateway that has not seen any guild.
func newUnboundGateway(t *testing.T, cfg Config) (*Gateway, *fakeAPI, *bot.Bot) {
	t.Helper()
	lib, err := reference.Embedded()
	if err != nil {
		t.Fatalf("reference.Embedded: %v", err)
	}
	st := memory.New()
	tbl := alias.New(st)
	hooks := resolve.NewHookRegistry()
	engine := resolve.New(tbl, hooks, resolve.WithRoller(minRoller{}))
	ext := d20.New(hooks, d20.WithFinder(lib))
	factory := func(channel identity.Identity, isDefault bool) *session.Session {
		opts := []session.Option{session.WithExtension(ext), session.WithStore(st)}
		if isDefault {
			opts = append(opts, session.AsDefault())
		}
		return session.New(channel, engine, tbl, opts...)
	}

	api := &fakeAPI{}
	g := newGateway(api, cfg, WithCompleter(lib))
	b := bot.New("VellumTalk", g, factory, bot.WithLineDelay(0), bot.WithUsers(st))
	t.Cleanup(func() { _ = b.Close() })
	g.Attach(b)

	g.onReady(&discordgo.Ready{User: &discordgo.User{ID: selfID, Username: "VellumTalk"}})
	return g, api, b
}

func say(g *Gateway, b *bot.Bot, u *discordgo.User, channelID, text string, roles ...string) {
	gid := guildID
	if strings.HasPrefix(channelID, "dm-") {
		gid = ""
	}
	sayIn(g, b, u, gid, channelID, text, roles...)
}

func sayIn(g *Gateway, b *bot.Bot, u *discordgo.User, gid, channelID, text string, roles ...string) {
	var member *discordgo.Member
	if gid != "" {
		member = &discordgo.Member{User: u, Roles: roles}
	}
	g.onMessage(context.Background(), &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: channelID,
		GuildID:   gid,
		Author:    u,
		Member:    member,
		Content:   text,
	}})
	b.Wait()
}

func TestGuildCreate_JoinsTextChannels(t *testing.T) {
	t.Parallel()
	_, _, b := newTestGateway(t, Config{})

	var names []string
	for _, s := range b.Sessions() {
		names = append(names, s.Channel().Name)
	}
	if diff := cmp.Diff([]string{"#testing"}, names); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}
}

func TestGuildCreate_IgnoresOtherGuilds(t *testing.T) {
	t.Parallel()
	g, _, b := newTestGateway(t, Config{})
	g.onGuildCreate(context.Background(), &discordgo.GuildCreate{Guild: &discordgo.Guild{
		ID:       "elsewhere",
		Channels: []*discordgo.Channel{{ID: "x", Name: "general", Type: discordgo.ChannelTypeGuildText}},
	}})
	if n := len(b.Sessions()); n != 1 {
		t.Errorf("got %d sessions, want 1", n)
	}
}

func TestGuildCreate_ChannelHandle(t *testing.T) {
	t.Parallel()
	_, _, b := newTestGateway(t, Config{})

	want := identity.Identity{Handle: "c1", Name: "#testing"}
	if got := b.FindSession("#testing").Channel(); got != want {
		t.Errorf("session channel: got %+v, want %+v", got, want)
	}
}

func TestMessage_SameChannelNameInTwoGuilds(t *testing.T) {
	t.Parallel()
	g, api, b := newUnboundGateway(t, Config{})
	ctx := context.Background()

	g.onGuildCreate(ctx, &discordgo.GuildCreate{Guild: &discordgo.Guild{
		ID:       "ga",
		Channels: []*discordgo.Channel{{ID: "a-general", Name: "general", Type: discordgo.ChannelTypeGuildText}},
	}})
	g.onGuildCreate(ctx, &discordgo.GuildCreate{Guild: &discordgo.Guild{
		ID: "gb",
		Channels: []*discordgo.Channel{
			{ID: "b-general", Name: "general", Type: discordgo.ChannelTypeGuildText},
			{ID: "b-dup", Name: "General", Type: discordgo.ChannelTypeGuildText},
		},
	}})

	var names []string
	for _, s := range b.Sessions() {
		names = append(names, s.Channel().Name)
	}
	if diff := cmp.Diff([]string{"#general@ga", "#general@gb", "#General@b-dup"}, names); diff != "" {
		t.Fatalf("sessions mismatch (-want +got):\n%s", diff)
	}

	sayIn(g, b, geeem, "ga", "a-general", ".hello")
	sayIn(g, b, player, "gb", "b-general", ".hello")
	sayIn(g, b, player, "gb", "b-dup", ".hello")
	want := []sent{
		{"a-general", "Hello GeeEm."},
		{"b-general", "Hello Player."},
		{"b-dup", "Hello Player."},
	}
	if diff := cmp.Diff(want, api.takeSent()); diff != "" {
		t.Errorf("replies mismatch (-want +got):\n%s", diff)
	}

	a, bs := b.FindSession("#general@ga"), b.FindSession("#general@gb")
	if a == bs {
		t.Fatal("both guilds share one session")
	}
	if !a.MatchNick("GeeEm") || a.MatchNick("Player") {
		t.Errorf("guild a members: got %v, want only GeeEm", a.Nicks())
	}

	g.onGuildDelete(ctx, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "ga"}})
	if err := g.Send(ctx, identity.Channel("general@gb"), "still here"); err != nil {
		t.Fatalf("Send to the other guild after leave: %v", err)
	}
	if diff := cmp.Diff([]sent{{"b-general", "still here"}}, api.takeSent()); diff != "" {
		t.Errorf("send mismatch (-want +got):\n%s", diff)
	}
}

func TestMessage_ChannelReply(t *testing.T) {
	t.Parallel()
	g, api, b := newTestGateway(t, Config{})

	say(g, b, geeem, "c1", ".hello")
	say(g, b, geeem, "c1", "[4d1+2]")
	say(g, b, geeem, "c1", "just chatting")
	want := []sent{
		{"c1", "Hello GeeEm."},
		{"c1", "GeeEm, you rolled: 4d1+2 = [1+1+1+1+2 = 6]"},
	}
	if diff := cmp.Diff(want, api.takeSent()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if !b.FindSession("#testing").MatchNick("GeeEm") {
		t.Error("speaker was not added to the channel session")
	}
}

func TestMessage_MentionAddressesBot(t *testing.T) {
	t.Parallel()
	g, api, b := newTestGateway(t, Config{})

	say(g, b, geeem, "c1", "<@999> hello")
	say(g, b, geeem, "c1", "<@!999>, hello")
	say(g, b, geeem, "c1", "<@123> hello")
	want := []sent{{"c1", "Hello GeeEm."}, {"c1", "Hello GeeEm."}}
	if diff := cmp.Diff(want, api.takeSent()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestMessage_DirectReplyAndObserver(t *testing.T) {
	t.Parallel()
	g, api, b := newTestGateway(t, Config{})

	say(g, b, geeem, "c1", ".gm")
	say(g, b, player, "c1", "hi everyone")
	api.takeSent()

	say(g, b, player, "dm-2", "[stab 3]")
	want := []sent{
		{"dm-2", "Player, you rolled: stab 3 = [3] (observed)"},
		{"dm-1", "<Player>  [stab 3]  ===>  Player, you rolled: stab 3 = [3]"},
	}
	if diff := cmp.Diff(want, api.takeSent()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1"}, api.dmOpened); diff != "" {
		t.Errorf("DMs opened mismatch (-want +got):\n%s", diff)
	}
}

func TestMessage_IgnoresBots(t *testing.T) {
	t.Parallel()
	g, api, b := newTestGateway(t, Config{})

	say(g, b, &discordgo.User{ID: selfID, Username: "VellumTalk"}, "c1", ".hello")
	say(g, b, &discordgo.User{ID: "5", Username: "OtherBot", Bot: true}, "c1", ".hello")
	if got := api.takeSent(); len(got) != 0 {
		t.Errorf("got %v, want nothing", got)
	}
}

func TestMessage_GMRole(t *testing.T) {
	t.Parallel()
	g, api, b := newTestGateway(t, Config{Token: "x", GMRoleID: "gm"})

	say(g, b, player, "c1", ".gm")
	say(g, b, player, "c1", ".hello")
	say(g, b, geeem, "c1", ".gm", "gm")
	want := []sent{
		{"c1", "Player: only a GM can use .gm here."},
		{"c1", "Hello Player."},
		{"c1", "GeeEm is now a GM and will observe private messages for session #testing"},
	}
	if diff := cmp.Diff(want, api.takeSent()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSend(t *testing.T) {
	t.Parallel()
	g, api, _ := newTestGateway(t, Config{})
	ctx := context.Background()

	if err := g.Send(ctx, identity.Channel("testing"), "a"); err != nil {
		t.Fatalf("Send channel: %v", err)
	}
	if err := g.Send(ctx, identity.Named("player"), "b"); err != nil {
		t.Fatalf("Send user: %v", err)
	}
	if err := g.Send(ctx, identity.Identity{Handle: "2", Name: "Player"}, "c"); err != nil {
		t.Fatalf("Send user by handle: %v", err)
	}
	want := []sent{{"c1", "a"}, {"dm-2", "b"}, {"dm-2", "c"}}
	if diff := cmp.Diff(want, api.takeSent()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if len(api.dmOpened) != 1 {
		t.Errorf("DM channel opened %d times, want once", len(api.dmOpened))
	}

	for _, to := range []identity.Identity{identity.Channel("nowhere"), identity.Named("Stranger")} {
		if err := g.Send(ctx, to, "x"); !errors.Is(err, ErrUnknownRecipient) {
			t.Errorf("Send(%s) = %v, want ErrUnknownRecipient", to, err)
		}
	}

	api.sendErr = errors.New("rate limited")
	if err := g.Send(ctx, identity.Channel("testing"), "x"); err == nil {
		t.Error("expected the API error to surface")
	}
}

func TestMembershipEvents(t *testing.T) {
	t.Parallel()
	g, _, b := newTestGateway(t, Config{})
	ctx := context.Background()

	say(g, b, player, "c1", "hi")
	s := b.FindSession("#testing")

	g.onMemberUpdate(ctx, &discordgo.GuildMemberUpdate{
		Member:       &discordgo.Member{GuildID: guildID, User: &discordgo.User{ID: "2", Username: "Superman"}},
		BeforeUpdate: &discordgo.Member{GuildID: guildID, User: player},
	})
	if !s.MatchNick("Superman") || s.MatchNick("Player") {
		t.Errorf("rename not applied: %v", s.Nicks())
	}

	g.onMemberRemove(ctx, &discordgo.GuildMemberRemove{Member: &discordgo.Member{GuildID: guildID, User: &discordgo.User{ID: "2", Username: "Superman"}}})
	if s.MatchNick("Superman") {
		t.Errorf("quit not applied: %v", s.Nicks())
	}

	g.onChannelCreate(ctx, &discordgo.ChannelCreate{Channel: &discordgo.Channel{ID: "c2", GuildID: guildID, Name: "side", Type: discordgo.ChannelTypeGuildText}})
	if len(b.Sessions()) != 2 {
		t.Fatalf("sessions = %v, want 2", b.Sessions())
	}
	g.onChannelDelete(ctx, &discordgo.ChannelDelete{Channel: &discordgo.Channel{ID: "c2", GuildID: guildID}})
	if len(b.Sessions()) != 1 {
		t.Errorf("sessions = %v, want 1 after delete", b.Sessions())
	}

	g.onGuildDelete(ctx, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: guildID}})
	if len(b.Sessions()) != 0 {
		t.Errorf("sessions = %v, want none after leaving the guild", b.Sessions())
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	g := newGateway(&fakeAPI{}, Config{})
	if err := g.Ping(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ping before ready = %v, want ErrNotConnected", err)
	}
	g.onReady(&discordgo.Ready{User: &discordgo.User{ID: selfID}})
	if err := g.Ping(context.Background()); err != nil {
		t.Errorf("Ping after ready = %v", err)
	}
}

func TestNew_RequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}); err == nil {
		t.Error("expected an error without a token")
	}
}
