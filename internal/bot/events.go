package bot

import (
	"context"
	"slices"
	"strings"

	"github.com/MrWong99/vellumbot/internal/identity"
	"github.com/MrWong99/vellumbot/internal/session"
)

// Joined is called when the bot itself joins channel. It returns the
// channel's session, creating it and restoring its observers if needed.
func (b *Bot) Joined(ctx context.Context, channel string) *session.Session {
	return b.JoinChannel(ctx, identity.Channel(channel))
}

// JoinChannel is [Bot.Joined] for a transport that knows the channel's
// handle. Replies to the session's channel carry that handle.
func (b *Bot) JoinChannel(ctx context.Context, channel identity.Identity) *session.Session {
	if s := b.channelSession(channel.Name); s != nil {
		return s
	}

	s := b.newSession(channel, false)
	if err := s.Restore(ctx); err != nil {
		b.log.Warn("restore session failed", "session", channel.Name, "err", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Another join may have raced us.
	for _, existing := range b.sessions {
		if existing.Channel().Same(s.Channel()) {
			return existing
		}
	}
	b.sessions = append(b.sessions, s)
	if b.metrics != nil {
		b.metrics.ActiveSessions.Add(ctx, 1)
	}
	b.log.Info("joined channel", "session", s.Channel().Name)
	return s
}

// Left is called when the bot parts channel. The session and its stored
// record are dropped.
func (b *Bot) Left(ctx context.Context, channel string) {
	if s := b.drop(ctx, channel); s != nil {
		s.Forget(ctx)
	}
}

// Kicked is called when the bot is kicked from channel. The stored record
// survives so observers come back on rejoin.
func (b *Bot) Kicked(ctx context.Context, channel string) {
	b.drop(ctx, channel)
}

func (b *Bot) drop(ctx context.Context, channel string) *session.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := strings.ToLower(channel)
	i := slices.IndexFunc(b.sessions, func(s *session.Session) bool { return s.Channel().Key() == key })
	if i < 0 {
		return nil
	}
	s := b.sessions[i]
	b.sessions = slices.Delete(b.sessions, i, i+1)
	if b.metrics != nil {
		b.metrics.ActiveSessions.Add(ctx, -1)
	}
	b.log.Info("left channel", "session", s.Channel().Name)
	return s
}

// UserJoined adds user to channel's session.
func (b *Bot) UserJoined(ctx context.Context, user identity.Identity, channel string) {
	b.rememberUser(ctx, user)
	if s := b.channelSession(channel); s != nil {
		s.AddNick(user)
	}
}

// UserLeft removes name from channel's session after a part or a kick.
func (b *Bot) UserLeft(ctx context.Context, name, channel string) {
	if s := b.channelSession(channel); s != nil {
		s.RemoveNick(ctx, name)
	}
}

// UserQuit removes name from every session.
func (b *Bot) UserQuit(ctx context.Context, name string) {
	for _, s := range b.Sessions() {
		s.RemoveNick(ctx, name)
	}
}

// UserRenamed renames oldName in every session and carries the stored
// encoding over to the new name.
func (b *Bot) UserRenamed(ctx context.Context, oldName, newName string) {
	for _, s := range b.Sessions() {
		s.Rename(ctx, oldName, newName)
	}
	enc, _ := b.UserEncoding(ctx, oldName)
	b.rememberUser(ctx, identity.Named(newName).WithEncoding(enc))
}

// Names adds a channel roster to the channel's session. Operator and voice
// prefixes ('@', '+') are stripped.
func (b *Bot) Names(_ context.Context, channel string, names []string) {
	s := b.channelSession(channel)
	if s == nil {
		return
	}
	ids := make([]identity.Identity, 0, len(names))
	for _, n := range names {
		n = strings.TrimLeft(n, "@+")
		if n == "" {
			continue
		}
		ids = append(ids, identity.Named(n))
	}
	s.AddNick(ids...)
}
