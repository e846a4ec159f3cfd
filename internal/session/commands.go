package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/vellumbot/internal/response"
)

// NoLookup is the reply for a lookup domain nobody registered.
const NoLookup = "I don't know how to look those things up."

func (s *Session) baseCommands() []Command {
	return []Command{
		{Name: "hello", Help: "Greet the speaker.", Run: cmdHello},
		{Name: "gm", Help: "Observe private messages for this session.", Run: cmdGM},
		{Name: "ungm", Help: "Stop observing private messages.", Run: cmdUnGM},
		{Name: "aliases", Usage: "[name...]", Help: "Show aliases for characters, or for yourself.", Run: cmdAliases},
		{Name: "unalias", Usage: "[name] key", Help: "Remove an alias.", Run: cmdUnalias},
		{Name: "lookup", Usage: "domain terms...", Help: "Look something up in the rules reference.", Run: cmdLookup},
		{Name: "help", Help: "This list.", Run: cmdHelp},
	}
}

func cmdHello(_ context.Context, c *Call) (response.Messager, error) {
	return c.Reply(fmt.Sprintf("Hello %s.", c.User()))
}

func cmdGM(ctx context.Context, c *Call) (response.Messager, error) {
	c.Session.AddObserver(ctx, c.Request.Speaker)
	return c.Reply(fmt.Sprintf("%s is now a GM and will observe private messages for session %s",
		c.User(), c.Session.Channel().Name))
}

func cmdUnGM(ctx context.Context, c *Call) (response.Messager, error) {
	if !c.Session.RemoveObserver(ctx, c.User()) {
		return c.Reply(fmt.Sprintf("%s was not a GM for session %s", c.User(), c.Session.Channel().Name))
	}
	return c.Reply(fmt.Sprintf("%s is no longer a GM for session %s", c.User(), c.Session.Channel().Name))
}

func cmdAliases(ctx context.Context, c *Call) (response.Messager, error) {
	names := c.Args
	if len(names) == 0 {
		names = []string{c.User()}
	}
	lines := make([]string, 0, len(names))
	for _, name := range names {
		short, err := c.Session.Aliases().ShortFormat(ctx, name)
		if err != nil {
			return nil, err
		}
		lines = append(lines, fmt.Sprintf("Aliases for %s:   %s", name, short))
	}
	return c.Reply(strings.Join(lines, "\n"))
}

func cmdUnalias(ctx context.Context, c *Call) (response.Messager, error) {
	var owner, key string
	switch len(c.Args) {
	case 0:
		return nil, errors.New("usage: unalias [name] key")
	case 1:
		owner, key = c.User(), c.Args[0]
	default:
		owner, key = c.Args[0], c.Args[1]
	}
	removed, err := c.Session.Aliases().Remove(ctx, owner, strings.ToLower(key))
	if err != nil {
		return nil, err
	}
	if !removed {
		return c.Reply(fmt.Sprintf("** No alias \"%s\" for %s", key, owner))
	}
	return c.Reply(fmt.Sprintf("%s, removed your alias for %s", owner, key))
}

func cmdLookup(ctx context.Context, c *Call) (response.Messager, error) {
	if len(c.Args) == 0 {
		return c.Reply(NoLookup)
	}
	lookup, ok := c.Session.lookups[strings.ToLower(c.Args[0])]
	if !ok {
		return c.Reply(NoLookup)
	}
	return lookup(ctx, c, c.Args[1:])
}

func cmdHelp(_ context.Context, c *Call) (response.Messager, error) {
	var b strings.Builder
	b.WriteString("Commands (prefix with . or address me by name):")
	for _, name := range slices.Sorted(maps.Keys(c.Session.commands)) {
		cmd := c.Session.commands[name]
		b.WriteString("\n    ")
		b.WriteString(name)
		if cmd.Usage != "" {
			b.WriteString(" " + cmd.Usage)
		}
		b.WriteString(": " + cmd.Help)
	}
	if len(c.Session.lookups) > 0 {
		b.WriteString("\nLookup domains: ")
		b.WriteString(strings.Join(slices.Sorted(maps.Keys(c.Session.lookups)), ", "))
	}
	return c.Reply(b.String())
}
