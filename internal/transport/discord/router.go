package discord

import (
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc handles one application command or autocomplete interaction.
type HandlerFunc func(i *discordgo.InteractionCreate)

type commandEntry struct {
	command *discordgo.ApplicationCommand
	handler HandlerFunc
}

// CommandRouter dispatches interactions by "command" or
// "command/subcommand" key.
type CommandRouter struct {
	api API
	log *slog.Logger

	mu           sync.RWMutex
	commands     map[string]commandEntry
	autocomplete map[string]HandlerFunc
}

// NewCommandRouter creates an empty router answering through api.
func NewCommandRouter(api API, log *slog.Logger) *CommandRouter {
	return &CommandRouter{
		api:          api,
		log:          log,
		commands:     make(map[string]commandEntry),
		autocomplete: make(map[string]HandlerFunc),
	}
}

// RegisterCommand registers a handler under key. cmd is the top-level
// definition sent to Discord; pass nil for subcommand handlers whose parent
// is already registered.
func (r *CommandRouter) RegisterCommand(key string, cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = commandEntry{command: cmd, handler: handler}
}

// RegisterAutocomplete registers an autocomplete handler under key.
func (r *CommandRouter) RegisterAutocomplete(key string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autocomplete[key] = handler
}

// ApplicationCommands returns the distinct top-level definitions.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var cmds []*discordgo.ApplicationCommand
	for _, entry := range r.commands {
		if entry.command != nil && !seen[entry.command.Name] {
			seen[entry.command.Name] = true
			cmds = append(cmds, entry.command)
		}
	}
	return cmds
}

// Handle dispatches an interaction to its handler.
func (r *CommandRouter) Handle(i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		key := interactionKey(i.ApplicationCommandData())
		r.mu.RLock()
		entry, ok := r.commands[key]
		r.mu.RUnlock()
		if !ok {
			r.log.Warn("discord: unknown command", "key", key)
			RespondEphemeral(r.api, i, "Unknown command.")
			return
		}
		entry.handler(i)

	case discordgo.InteractionApplicationCommandAutocomplete:
		key := interactionKey(i.ApplicationCommandData())
		r.mu.RLock()
		handler, ok := r.autocomplete[key]
		r.mu.RUnlock()
		if !ok {
			r.log.Debug("discord: no autocomplete handler", "key", key)
			RespondChoices(r.api, i, nil)
			return
		}
		handler(i)

	default:
		r.log.Debug("discord: unhandled interaction type", "type", i.Type)
	}
}

func interactionKey(data discordgo.ApplicationCommandInteractionData) string {
	key := data.Name
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		key += "/" + data.Options[0].Name
	}
	return key
}

// subcommandOptions returns the options of the invoked subcommand.
func subcommandOptions(i *discordgo.InteractionCreate) []*discordgo.ApplicationCommandInteractionDataOption {
	data := i.ApplicationCommandData()
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Options[0].Options
	}
	return data.Options
}

// option returns the named string option and whether it has focus.
func option(i *discordgo.InteractionCreate, name string) (value string, focused bool) {
	for _, opt := range subcommandOptions(i) {
		if opt.Name == name {
			return opt.StringValue(), opt.Focused
		}
	}
	return "", false
}
