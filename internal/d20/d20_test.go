package d20

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/MrWong99/vellumbot/internal/alias"
	"github.com/MrWong99/vellumbot/internal/identity"
	"github.com/MrWong99/vellumbot/internal/linesyntax"
	"github.com/MrWong99/vellumbot/internal/reference"
	"github.com/MrWong99/vellumbot/internal/resolve"
	"github.com/MrWong99/vellumbot/internal/response"
	"github.com/MrWong99/vellumbot/internal/session"
	"github.com/MrWong99/vellumbot/internal/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	chanTesting = identity.Channel("#testing")
	geeem       = identity.Named("GeeEm")
	player      = identity.Named("Player")
)

type minRoller struct{}

func (minRoller) IntN(int) int { return 0 }

type fixture struct {
	session *session.Session
	ext     *Extension
	lib     *reference.Library
}

func newFixture(t *testing.T, channel identity.Identity) fixture {
	t.Helper()
	lib, err := reference.Embedded()
	if err != nil {
		t.Fatalf("reference.Embedded: %v", err)
	}
	hooks := resolve.NewHookRegistry()
	tbl := alias.New(memory.New())
	engine := resolve.New(tbl, hooks, resolve.WithRoller(minRoller{}))
	ext := New(hooks, WithFinder(lib))
	return fixture{
		session: session.New(channel, engine, tbl, session.WithExtension(ext)),
		ext:     ext,
		lib:     lib,
	}
}

type pair struct{ To, Text string }

func pairs(m response.Messager) []pair {
	var out []pair
	for _, msg := range response.Collect(m) {
		out = append(out, pair{msg.To.Name, msg.Text})
	}
	return out
}

func (f fixture) say(t *testing.T, speaker identity.Identity, line string) []pair {
	t.Helper()
	sent, err := linesyntax.ParseSentence(line)
	if err != nil {
		t.Fatalf("ParseSentence(%q): %v", line, err)
	}
	req := session.Request{Speaker: speaker, Line: line, Sentence: sent}
	var m response.Messager
	if sent.IsCommand() {
		m, err = f.session.Command(context.Background(), req)
	} else {
		m, err = f.session.Interaction(context.Background(), req)
	}
	if err != nil {
		t.Fatalf("%q: %v", line, err)
	}
	return pairs(m)
}

func TestCombat_Transcript(t *testing.T) {
	t.Parallel()
	f := newFixture(t, chanTesting)

	steps := []struct {
		line string
		want string
	}{
		{".inits", "Initiative list: (none)"},
		{".combat", "** Beginning combat **"},
		{"[4d1+2]", "GeeEm, you rolled: 4d1+2 = [1+1+1+1+2 = 6]"},
		{"[init 20]", "GeeEm, you rolled: init 20 = [20]"},
		{".n", "++ New round ++  Next: GeeEm (init 20)."},
		{".n", "GeeEm (init 20) is ready to act . . ."},
		{".p", "++ New round ++  Next: GeeEm (init 20)."},
		{".p", "GeeEm (init 20) is ready to act . . ."},
		{".inits", "Initiative list: GeeEm/20, NEW ROUND/9999"},
	}
	for _, s := range steps {
		got := f.say(t, geeem, s.line)
		if diff := cmp.Diff([]pair{{"#testing", s.want}}, got); diff != "" {
			t.Fatalf("%q mismatch (-want +got):\n%s", s.line, diff)
		}
	}
}

func TestCombat_EmptyRingApologises(t *testing.T) {
	t.Parallel()
	f := newFixture(t, chanTesting)

	got := f.say(t, geeem, ".n")
	want := []pair{{"#testing", "** Sorry, GeeEm: " + ErrNoCombat.Error()}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestCombat_Drop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, chanTesting)

	f.say(t, geeem, ".combat")
	f.say(t, geeem, "[init 20]")
	f.say(t, player, "[init 12]")

	tests := []struct {
		line string
		want string
	}{
		{".drop geeem", "Dropped geeem from the initiative list."},
		{".drop geeem", "geeem is not in the initiative list."},
		{".drop", "** Sorry, GeeEm: usage: drop name"},
		{".inits", "Initiative list: Player/12, NEW ROUND/9999"},
	}
	for _, tt := range tests {
		got := f.say(t, geeem, tt.line)
		if diff := cmp.Diff([]pair{{"#testing", tt.want}}, got); diff != "" {
			t.Errorf("%q mismatch (-want +got):\n%s", tt.line, diff)
		}
	}
}

func TestTracker_Order(t *testing.T) {
	t.Parallel()
	tr := NewTracker()

	tr.Begin("#a")
	tr.Add("#a", InitRoll{N: 10, Name: "Bob"})
	tr.Add("#a", InitRoll{N: 15, Name: "Al"})
	tr.Add("#a", InitRoll{N: 15, Name: "Cy"})

	cur, next, err := tr.Step("#a", 1)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !cur.IsMarker() || next.Name != "Al" {
		t.Errorf("Step = %v, %v, want marker then Al", cur, next)
	}
	if cur, next, _ = tr.Step("#A", 1); cur.Name != "Al" || next.Name != "Cy" {
		t.Errorf("Step = %v, %v, want Al then Cy", cur, next)
	}

	// A late roll does not change whose turn it is.
	tr.Add("#a", InitRoll{N: 20, Name: "Dee"})
	want := []InitRoll{{15, "Al"}, {15, "Cy"}, {10, "Bob"}, {NewRoundN, ""}, {20, "Dee"}}
	if diff := cmp.Diff(want, tr.List("#a")); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	if got := tr.List("#b"); len(got) != 0 {
		t.Errorf("other channel = %v, want empty", got)
	}
	if _, _, err := tr.Step("#b", 1); !errors.Is(err, ErrNoCombat) {
		t.Errorf("error = %v, want ErrNoCombat", err)
	}
}

func TestTracker_OnInitUsesFirstResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t, chanTesting)

	f.say(t, geeem, ".combat")
	f.say(t, geeem, "[init d20x2]")
	list := f.ext.Tracker().List("#TESTING")
	if len(list) != 2 || list[0].Name != "GeeEm" || list[0].N != 1 {
		t.Errorf("List = %v, want one GeeEm/1 entry before the marker", list)
	}
}

func TestLookup_Private(t *testing.T) {
	t.Parallel()
	f := newFixture(t, chanTesting)

	lines, err := f.lib.Find("spell", []string{"cure"}, 5)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	line := ".lookup spell cure"
	var want []pair
	for _, l := range lines {
		want = append(want,
			pair{"Player", l + " (observed)"},
			pair{"GeeEm", "<Player>  " + line + "  ===>  " + l})
	}
	summary := `Replied to Player with top 5 matches for SPELL "cure"`
	want = append(want,
		pair{"Player", summary + " (observed)"},
		pair{"GeeEm", "<Player>  " + line + "  ===>  " + summary})

	sent, _ := linesyntax.ParseSentence(line)
	m, err := f.session.PrivateCommand(context.Background(),
		session.Request{Speaker: player, Line: line, Sentence: sent}, geeem)
	if err != nil {
		t.Fatalf("PrivateCommand: %v", err)
	}
	if diff := cmp.Diff(want, pairs(m)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLookup_Public(t *testing.T) {
	t.Parallel()
	f := newFixture(t, chanTesting)

	lines, err := f.lib.Find("spell", []string{"heal*"}, 5)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	var want []pair
	for _, l := range lines {
		want = append(want, pair{"Player", l})
	}
	want = append(want, pair{"#testing", `Replied to Player with top 5 matches for SPELL "heal*"`})
	if diff := cmp.Diff(want, f.say(t, player, ".lookup spell heal*")); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		line string
		want string
	}{
		{".lookup spell wenis", `Player: No SPELL contains "wenis".  Try searching with a wildcard e.g. .lookup spell wenis*`},
		{".lookup spell wenis*", `Player: No SPELL contains "wenis*".`},
		{".lookup feat cleave", session.NoLookup},
	}
	for _, tt := range tests {
		if diff := cmp.Diff([]pair{{"#testing", tt.want}}, f.say(t, player, tt.line)); diff != "" {
			t.Errorf("%q mismatch (-want +got):\n%s", tt.line, diff)
		}
	}

	got := f.say(t, player, ".lookup monster mohrg")
	if len(got) != 1 || !strings.HasPrefix(got[0].Text, "Player: MONSTER <<Mohrg>> Chaotic Evil") ||
		!strings.HasSuffix(got[0].Text, "mohrg.htm") {
		t.Errorf("exact lookup = %v", got)
	}
	got = f.say(t, player, ".lookup spell cure serious wounds mass")
	if len(got) != 1 || !strings.HasPrefix(got[0].Text, "Player: SPELL <<Cure Serious Wounds, Mass>> Conjuration (Healing) || Level: Cleric 7, Druid 8") {
		t.Errorf("exact lookup = %v", got)
	}
}

func TestLookups_FollowFinderDomains(t *testing.T) {
	t.Parallel()

	if got := New(nil).Lookups(); got != nil {
		t.Errorf("Lookups without finder = %v, want nil", got)
	}
	f := newFixture(t, chanTesting)
	got := f.ext.Lookups()
	if _, ok := got["spell"]; !ok {
		t.Error("missing spell lookup")
	}
	if _, ok := got["monster"]; !ok {
		t.Error("missing monster lookup")
	}
}
