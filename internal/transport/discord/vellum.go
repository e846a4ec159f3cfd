package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vellumbot/internal/bot"
)

// maxChoices is the Discord limit on autocomplete choices.
const maxChoices = 25

// interactionTimeout bounds the work done on behalf of one interaction.
const interactionTimeout = 10 * time.Second

func (g *Gateway) vellumDefinition() *discordgo.ApplicationCommand {
	lookup := &discordgo.ApplicationCommandOption{
		Name:        "lookup",
		Description: "Look something up in the rules reference",
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "domain",
				Description: "What kind of thing",
				Type:        discordgo.ApplicationCommandOptionString,
				Required:    true,
			},
			{
				Name:         "terms",
				Description:  "Name or search terms; * and ? are wildcards",
				Type:         discordgo.ApplicationCommandOptionString,
				Required:     true,
				Autocomplete: true,
			},
		},
	}
	if g.refs != nil {
		for _, d := range g.refs.Domains() {
			lookup.Options[0].Choices = append(lookup.Options[0].Choices,
				&discordgo.ApplicationCommandOptionChoice{Name: d, Value: d})
		}
	}

	return &discordgo.ApplicationCommand{
		Name:        "vellum",
		Description: "Game table assistant",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "say",
				Description: "Say a line to the bot, e.g. \".inits\" or \"I [attack 1d20+5]\"",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{{
					Name:        "line",
					Description: "The line",
					Type:        discordgo.ApplicationCommandOptionString,
					Required:    true,
				}},
			},
			{
				Name:        "roll",
				Description: "Roll dice, e.g. 2d6+3",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{{
					Name:        "dice",
					Description: "Dice expression, optionally prefixed by a verb",
					Type:        discordgo.ApplicationCommandOptionString,
					Required:    true,
				}},
			},
			lookup,
		},
	}
}

func (g *Gateway) registerVellum() {
	def := g.vellumDefinition()
	g.router.RegisterCommand("vellum/say", def, func(i *discordgo.InteractionCreate) {
		line, _ := option(i, "line")
		g.runLine(i, line)
	})
	g.router.RegisterCommand("vellum/roll", nil, func(i *discordgo.InteractionCreate) {
		dice, _ := option(i, "dice")
		g.runLine(i, "["+strings.Trim(dice, "[] ")+"]")
	})
	g.router.RegisterCommand("vellum/lookup", nil, func(i *discordgo.InteractionCreate) {
		domain, _ := option(i, "domain")
		terms, _ := option(i, "terms")
		g.runLine(i, fmt.Sprintf(".lookup %s %s", domain, terms))
	})
	g.router.RegisterAutocomplete("vellum/lookup", g.autocompleteLookup)
}

// interactionUser returns the invoking user and member. Member is nil in
// DMs.
func interactionUser(i *discordgo.InteractionCreate) (*discordgo.User, *discordgo.Member) {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User, i.Member
	}
	return i.User, nil
}

// runLine feeds line to the bot as if the invoker had typed it where the
// command was used. Replies arrive as ordinary messages.
func (g *Gateway) runLine(i *discordgo.InteractionCreate, line string) {
	u, member := interactionUser(i)
	if u == nil {
		RespondEphemeral(g.api, i, "I can't tell who you are.")
		return
	}
	from := g.rememberUser(u)

	var channel string
	if i.GuildID != "" {
		name, ok := g.channelName(i.ChannelID)
		if !ok {
			RespondEphemeral(g.api, i, "I'm not watching this channel.")
			return
		}
		channel = name
	} else {
		g.mu.Lock()
		g.dms[u.ID] = i.ChannelID
		g.mu.Unlock()
	}

	if cmd, denied := g.denied(member, line); denied {
		RespondEphemeral(g.api, i, fmt.Sprintf("Only a GM can use .%s here.", cmd))
		return
	}
	RespondEphemeral(g.api, i, "`"+line+"`")

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()
	if channel != "" {
		g.bot.UserJoined(ctx, from, channel)
	}
	if err := g.bot.Message(ctx, bot.Inbound{From: from, Channel: channel, Text: line}); err != nil {
		g.log.Error("slash command failed", "user", from.Name, "line", line, "err", err)
	}
}

func (g *Gateway) autocompleteLookup(i *discordgo.InteractionCreate) {
	if g.refs == nil {
		RespondChoices(g.api, i, nil)
		return
	}
	domain, _ := option(i, "domain")
	typed, _ := option(i, "terms")
	names, err := g.refs.Complete(domain, typed, maxChoices)
	if err != nil {
		g.log.Debug("autocomplete failed", "domain", domain, "err", err)
	}
	RespondChoices(g.api, i, names)
}

var _ bot.Sender = (*Gateway)(nil)
