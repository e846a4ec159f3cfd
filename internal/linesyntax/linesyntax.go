// Package linesyntax parses chat lines into commands and sentences.
//
// A line is either a command or a free-form sentence.
//
// Commands start with the leader character '.' (".hello", ". hello") or
// address the bot by name followed by ':' or ',' ("VellumBot: hello"). The
// rest of the line is kept raw and split with shell quoting rules only when a
// handler asks for it.
//
// Anything else is a free-form sentence. Bracketed runs ("[attack d20+2]") are
// verb phrases, a single "*name" names the actor and any number of "@name"
// tags are targets:
//
//	The [machinegun] being fired at @Shara by the *ninja goes rat-a-tat.
//
// A sentence must contain at least one well-formed verb phrase; malformed
// bracket runs are skipped.
package linesyntax

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/MrWong99/vellumbot/pkg/dice"
)

// Leader is the character that introduces a command.
const Leader = "."

// ErrParseFailure is wrapped by every error returned from this package. The
// caller is expected to ignore the line.
var ErrParseFailure = errors.New("linesyntax: parse failure")

var (
	commandRE  = regexp.MustCompile(`^[ \t]*(?:([a-zA-Z][a-zA-Z0-9_]*)[ \t]*[:,][ \t]*|\.[ \t]*)([a-zA-Z][a-zA-Z0-9_]*)(?:[ \t]+([^\[]*?))?[ \t]*$`)
	verbsRE    = regexp.MustCompile(`\[[^\]]*\]`)
	actorRE    = regexp.MustCompile(`\*[a-zA-Z][a-zA-Z0-9_]*`)
	targetRE   = regexp.MustCompile(`@[a-zA-Z][a-zA-Z0-9_]*`)
	modifierRE = regexp.MustCompile(`^[+-][0-9]+$`)
)

// Sentence is the parsed form of one chat line. Exactly one of the command
// fields (Command) or the free-form fields (VerbPhrases) is populated.
type Sentence struct {
	// BotName is the lower-cased bot name a command was addressed to, empty
	// when the leader character was used.
	BotName string
	// Command is the command name.
	Command string
	// Args is the raw argument text of a command.
	Args string

	// Actor is the impersonated actor ("*grimlock1"), without the '*'.
	Actor string
	// VerbPhrases holds the bracketed phrases in line order.
	VerbPhrases []*VerbPhrase
	// Targets holds the "@name" tags in line order, without the '@'.
	Targets []string
}

// IsCommand reports whether s is a command.
func (s *Sentence) IsCommand() bool { return s.Command != "" }

// CommandArgs splits the raw arguments with shell quoting rules.
func (s *Sentence) CommandArgs() ([]string, error) {
	if strings.TrimSpace(s.Args) == "" {
		return []string{}, nil
	}
	args, err := shellquote.Split(s.Args)
	if err != nil {
		return nil, fmt.Errorf("%w: arguments %q: %v", ErrParseFailure, s.Args, err)
	}
	return args, nil
}

// String renders the sentence in a canonical form that parses back to an
// equivalent sentence.
func (s *Sentence) String() string {
	var b strings.Builder
	if s.IsCommand() {
		b.WriteString(Leader)
		b.WriteString(s.Command)
		args, err := s.CommandArgs()
		if err != nil {
			args = strings.Fields(s.Args)
		}
		for _, a := range args {
			b.WriteByte(' ')
			b.WriteString(quoteArg(a))
		}
		return b.String()
	}

	if s.Actor != "" {
		fmt.Fprintf(&b, "*%s does ", s.Actor)
	}
	for _, vp := range s.VerbPhrases {
		fmt.Fprintf(&b, "[%s]", vp)
	}
	for i, t := range s.Targets {
		if i == 0 {
			fmt.Fprintf(&b, " to @%s", t)
		} else {
			fmt.Fprintf(&b, " and @%s", t)
		}
	}
	b.WriteByte('.')
	return b.String()
}

// quoteArg double-quotes a when shell splitting would not return it as is.
// Inside double quotes a backslash, '"', '$' and '`' are escaped.
func quoteArg(a string) string {
	if a != "" && !strings.ContainsAny(a, " \t\n\\'\"") {
		return a
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range a {
		if strings.ContainsRune("\\\"$`", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// VerbPhrase is one bracketed fragment of a sentence.
type VerbPhrase struct {
	// Words are the lower-cased, space-normalised non-dice words.
	Words string
	// Modifier is a signed one-off bonus ("[attack +2]"); zero when absent.
	Modifier int
	// Expr is the dice expression, nil when absent.
	Expr *dice.Expr
}

// WordList splits Words into the alias key tuple.
func (vp *VerbPhrase) WordList() []string {
	return strings.Fields(vp.Words)
}

// String renders words, modifier and expression, space-joined.
func (vp *VerbPhrase) String() string {
	parts := make([]string, 0, 3)
	if vp.Words != "" {
		parts = append(parts, vp.Words)
	}
	if vp.Modifier != 0 {
		parts = append(parts, fmt.Sprintf("%+d", vp.Modifier))
	}
	if vp.Expr != nil {
		parts = append(parts, vp.Expr.String())
	}
	return strings.Join(parts, " ")
}

// ParseCommand parses line as a command and returns the lower-cased bot
// name (empty for leader commands), the command name and the raw arguments.
func ParseCommand(line string) (botName, name, args string, err error) {
	m := commandRE.FindStringSubmatch(line)
	if m == nil {
		return "", "", "", fmt.Errorf("%w: %q is not a command", ErrParseFailure, line)
	}
	return strings.ToLower(m[1]), m[2], m[3], nil
}

// ParseSentence parses one chat line.
func ParseSentence(line string) (*Sentence, error) {
	if bot, name, args, err := ParseCommand(line); err == nil {
		return &Sentence{BotName: bot, Command: name, Args: args}, nil
	}

	s := &Sentence{}
	for _, candidate := range verbsRE.FindAllString(line, -1) {
		vp, err := ParseVerbPhrase(candidate)
		if err != nil {
			// Bracketed text that is not a verb phrase is ordinary chat.
			continue
		}
		s.VerbPhrases = append(s.VerbPhrases, vp)
	}
	if len(s.VerbPhrases) == 0 {
		return nil, fmt.Errorf("%w: %q has no verb phrase or command", ErrParseFailure, line)
	}

	outside := verbsRE.ReplaceAllString(line, " ")
	actors := actorRE.FindAllString(outside, -1)
	switch {
	case len(actors) > 1:
		return nil, fmt.Errorf("%w: too many actors (only one allowed): %v", ErrParseFailure, actors)
	case len(actors) == 1:
		s.Actor = actors[0][1:]
	}
	for _, t := range targetRE.FindAllString(outside, -1) {
		s.Targets = append(s.Targets, t[1:])
	}
	return s, nil
}

// ParseVerbPhrase parses a bracketed candidate such as "[attack d20+2]".
// Alternatives are tried from most to least specific: a dice expression
// alone, words plus a signed modifier, words plus a dice expression, words
// alone.
func ParseVerbPhrase(candidate string) (*VerbPhrase, error) {
	if len(candidate) < 2 || candidate[0] != '[' || candidate[len(candidate)-1] != ']' {
		return nil, fmt.Errorf("%w: %q is not bracketed", ErrParseFailure, candidate)
	}
	inner := candidate[1 : len(candidate)-1]
	if strings.ContainsAny(inner, "[]") {
		return nil, fmt.Errorf("%w: nested brackets in %q", ErrParseFailure, candidate)
	}
	tokens := strings.Fields(inner)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty verb phrase", ErrParseFailure)
	}

	last := tokens[len(tokens)-1]
	if len(tokens) == 1 {
		if e, err := dice.Parse(last); err == nil {
			return &VerbPhrase{Expr: e}, nil
		}
	}

	head := tokens[:len(tokens)-1]
	if len(head) > 0 && allWords(head) {
		if modifierRE.MatchString(last) {
			mod, err := strconv.Atoi(last)
			if err == nil {
				return &VerbPhrase{Words: normalise(head), Modifier: mod}, nil
			}
		}
		if e, err := dice.Parse(last); err == nil {
			return &VerbPhrase{Words: normalise(head), Expr: e}, nil
		}
	}

	if allWords(tokens) {
		return &VerbPhrase{Words: normalise(tokens)}, nil
	}
	return nil, fmt.Errorf("%w: %q is not a verb phrase", ErrParseFailure, candidate)
}

// allWords reports whether no token is itself a dice expression.
func allWords(tokens []string) bool {
	for _, t := range tokens {
		if dice.IsExpression(t) {
			return false
		}
	}
	return true
}

func normalise(words []string) string {
	return strings.ToLower(strings.Join(words, " "))
}
