package d20

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/vellumbot/internal/response"
	"github.com/MrWong99/vellumbot/internal/session"
)

// lookup answers ".lookup <domain> <terms...>". An exact hit is said in
// place; teasers go to the requester one line each, followed by a summary
// to the original recipients.
func (x *Extension) lookup(domain string) session.Lookup {
	upper := strings.ToUpper(domain)
	return func(_ context.Context, c *session.Call, terms []string) (response.Messager, error) {
		query := strings.Join(terms, " ")
		looked, err := x.finder.Find(domain, terms, x.max)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", domain, err)
		}

		switch {
		case len(looked) == 0 && strings.Contains(query, "*"):
			return c.Reply(fmt.Sprintf("%s: No %s contains %q.", c.User(), upper, query))
		case len(looked) == 0:
			return c.Reply(fmt.Sprintf("%s: No %s contains %q.  Try searching with a wildcard e.g. .lookup %s %s*",
				c.User(), upper, query, domain, query))
		case strings.HasPrefix(looked[0], "<<"):
			return c.Reply(fmt.Sprintf("%s: %s %s", c.User(), upper, looked[0]))
		}

		group, _ := response.NewGroup()
		for _, line := range looked {
			r, err := c.Reply(line, response.WithRedirect(c.Request.Speaker))
			if err != nil {
				return nil, err
			}
			if err := group.Add(r); err != nil {
				return nil, err
			}
		}
		summary, err := c.Reply(fmt.Sprintf("Replied to %s with top %d matches for %s %q",
			c.User(), len(looked), upper, query))
		if err != nil {
			return nil, err
		}
		if err := group.Add(summary); err != nil {
			return nil, err
		}
		return group, nil
	}
}
