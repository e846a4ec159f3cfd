// Package d20 is the d20 game extension: combat initiative tracking driven
// by "init" rolls, and spell/monster reference lookups.
//
// One [Extension] serves every session. Initiative state is kept per
// channel, so combat in one channel never touches another.
package d20

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/vellumbot/internal/initiative"
	"github.com/MrWong99/vellumbot/internal/resolve"
	"github.com/MrWong99/vellumbot/internal/response"
	"github.com/MrWong99/vellumbot/internal/session"
)

// InitKey is the alias key whose rolls enter the initiative order.
const InitKey = "init"

// NewRoundN is the initiative of the new-round marker; it sorts first.
const NewRoundN = 9999

const newRoundLabel = "NEW ROUND"

// ErrNoCombat is returned by n and p when nobody has rolled initiative.
var ErrNoCombat = errors.New("nobody has rolled initiative; start with .combat")

// InitRoll is one entry of the initiative order. The zero Name is the
// new-round marker.
type InitRoll struct {
	N    int
	Name string
}

// IsMarker reports whether r is the new-round marker.
func (r InitRoll) IsMarker() bool { return r.Name == "" }

func (r InitRoll) String() string {
	if r.IsMarker() {
		return newRoundLabel
	}
	return fmt.Sprintf("%s (init %d)", r.Name, r.N)
}

func (r InitRoll) listing() string {
	if r.IsMarker() {
		return fmt.Sprintf("%s/%d", newRoundLabel, r.N)
	}
	return fmt.Sprintf("%s/%d", r.Name, r.N)
}

// descending sorts higher initiatives first.
func descending(a, b InitRoll) bool { return a.N > b.N }

type combat struct {
	ring *initiative.Ring[InitRoll]
	// started is set by the first n or p. Until then the cursor parks on
	// the last entry so the first n announces the new round.
	started bool
}

// Tracker holds the initiative order of every channel.
type Tracker struct {
	mu      sync.Mutex
	combats map[string]*combat
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{combats: make(map[string]*combat)}
}

func channelKey(channel string) string { return strings.ToLower(channel) }

func (t *Tracker) get(channel string) *combat {
	key := channelKey(channel)
	c, ok := t.combats[key]
	if !ok {
		c = &combat{ring: initiative.NewRing(descending)}
		t.combats[key] = c
	}
	return c
}

// Begin resets channel's order to the new-round marker alone.
func (t *Tracker) Begin(channel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.combats[channelKey(channel)] = &combat{
		ring: initiative.NewRing(descending, InitRoll{N: NewRoundN}),
	}
}

// Add enters a roll into channel's order.
func (t *Tracker) Add(channel string, roll InitRoll) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.get(channel)
	c.ring.AddSorted(roll)
	if !c.started {
		_ = c.ring.Seek(c.ring.Len() - 1)
	}
}

// Step rotates channel's order by delta and returns the entry now up and
// the one after it.
func (t *Tracker) Step(channel string, delta int) (current, next InitRoll, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.get(channel)
	if c.ring.Len() == 0 {
		return InitRoll{}, InitRoll{}, ErrNoCombat
	}
	c.started = true
	c.ring.Rotate(delta)
	if current, err = c.ring.Current(); err != nil {
		return InitRoll{}, InitRoll{}, err
	}
	if next, err = c.ring.Next(); err != nil {
		return InitRoll{}, InitRoll{}, err
	}
	return current, next, nil
}

// List returns channel's order starting from whoever is up.
func (t *Tracker) List(channel string) []InitRoll {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(channel).ring.AsRotatedList()
}

// Drop removes every entry for name from channel's order and reports how
// many were removed.
func (t *Tracker) Drop(channel, name string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.get(channel)
	dropped := 0
	for {
		i := c.ring.Index(func(r InitRoll) bool {
			return !r.IsMarker() && strings.EqualFold(r.Name, name)
		})
		if i < 0 {
			return dropped, nil
		}
		if err := c.ring.Delete(i); err != nil {
			return dropped, err
		}
		dropped++
	}
}

// OnInit is the resolve hook that records initiative rolls.
func (t *Tracker) OnInit(_ context.Context, ev resolve.Event) error {
	if len(ev.Results) == 0 {
		return nil
	}
	t.Add(ev.Channel, InitRoll{N: ev.Results[0].Sum(), Name: ev.Actor})
	return nil
}

// Finder answers reference lookups. *reference.Library implements it.
type Finder interface {
	Find(domain string, terms []string, max int) ([]string, error)
	Domains() []string
}

// Extension plugs the d20 commands and lookups into sessions.
type Extension struct {
	tracker *Tracker
	finder  Finder
	max     int
	log     *slog.Logger
}

var _ session.Extension = (*Extension)(nil)

// Option configures an [Extension].
type Option func(*Extension)

// WithFinder enables the lookup domains finder serves.
func WithFinder(f Finder) Option {
	return func(x *Extension) { x.finder = f }
}

// WithMaxMatches caps the number of teasers a lookup sends.
func WithMaxMatches(n int) Option {
	return func(x *Extension) {
		if n > 0 {
			x.max = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Extension) { x.log = l }
}

// New returns an Extension and registers its initiative hook on hooks.
func New(hooks *resolve.HookRegistry, opts ...Option) *Extension {
	x := &Extension{
		tracker: NewTracker(),
		max:     5,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(x)
	}
	if hooks != nil {
		hooks.Register(InitKey, "d20.initiative", x.tracker.OnInit)
	}
	return x
}

// Tracker exposes the initiative state.
func (x *Extension) Tracker() *Tracker { return x.tracker }

// Commands implements [session.Extension].
func (x *Extension) Commands() []session.Command {
	return []session.Command{
		{Name: "combat", Help: "Start combat by resetting initiatives.", Run: x.cmdCombat},
		{Name: "n", Help: "Next initiative.", Run: x.cmdStep(1)},
		{Name: "p", Help: "Previous initiative.", Run: x.cmdStep(-1)},
		{Name: "inits", Help: "List inits, starting with whoever is up.", Run: x.cmdInits},
		{Name: "drop", Usage: "name", Help: "Remove someone from the initiative order.", Run: x.cmdDrop},
	}
}

// Lookups implements [session.Extension].
func (x *Extension) Lookups() map[string]session.Lookup {
	if x.finder == nil {
		return nil
	}
	out := make(map[string]session.Lookup)
	for _, domain := range x.finder.Domains() {
		out[domain] = x.lookup(domain)
	}
	return out
}

func channelOf(c *session.Call) string { return c.Session.Channel().Name }

func (x *Extension) cmdCombat(_ context.Context, c *session.Call) (response.Messager, error) {
	x.tracker.Begin(channelOf(c))
	return c.Reply("** Beginning combat **")
}

func (x *Extension) cmdStep(delta int) session.Handler {
	return func(_ context.Context, c *session.Call) (response.Messager, error) {
		cur, next, err := x.tracker.Step(channelOf(c), delta)
		if err != nil {
			return nil, err
		}
		if cur.IsMarker() {
			return c.Reply(fmt.Sprintf("++ New round ++  Next: %s.", next))
		}
		return c.Reply(fmt.Sprintf("%s is ready to act . . .", cur))
	}
}

func (x *Extension) cmdInits(_ context.Context, c *session.Call) (response.Messager, error) {
	list := x.tracker.List(channelOf(c))
	if len(list) == 0 {
		return c.Reply("Initiative list: (none)")
	}
	parts := make([]string, len(list))
	for i, r := range list {
		parts[i] = r.listing()
	}
	return c.Reply("Initiative list: " + strings.Join(parts, ", "))
}

func (x *Extension) cmdDrop(_ context.Context, c *session.Call) (response.Messager, error) {
	if len(c.Args) != 1 {
		return nil, errors.New("usage: drop name")
	}
	name := c.Args[0]
	n, err := x.tracker.Drop(channelOf(c), name)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return c.Reply(fmt.Sprintf("%s is not in the initiative list.", name))
	}
	x.log.Debug("dropped from initiative", "session", channelOf(c), "name", name, "entries", n)
	return c.Reply(fmt.Sprintf("Dropped %s from the initiative list.", name))
}
