package wsline

import (
	"errors"
	"fmt"
	"strings"
)

// Client commands. Each WebSocket frame carries one line.
const (
	CmdJoin    = "JOIN"
	CmdPart    = "PART"
	CmdNick    = "NICK"
	CmdPrivmsg = "PRIVMSG"
	CmdNames   = "NAMES"
	CmdQuit    = "QUIT"
	CmdPing    = "PING"
)

// Server replies that are not relayed commands.
const (
	ReplyNames = "353"
	ReplyPong  = "PONG"
	ReplyError = "ERROR"
)

var errEmptyLine = errors.New("wsline: empty line")

// Line is one protocol line: "[:prefix] COMMAND [params...] [:trailing]".
type Line struct {
	Prefix   string
	Command  string
	Params   []string
	Trailing string
	// HasTrailing distinguishes an empty trailing parameter from none.
	HasTrailing bool
}

// Param returns the i-th middle parameter, or "".
func (l Line) Param(i int) string {
	if i < len(l.Params) {
		return l.Params[i]
	}
	return ""
}

// String renders l in wire form.
func (l Line) String() string {
	var b strings.Builder
	if l.Prefix != "" {
		b.WriteString(":" + l.Prefix + " ")
	}
	b.WriteString(l.Command)
	for _, p := range l.Params {
		b.WriteString(" " + p)
	}
	if l.HasTrailing || l.Trailing != "" {
		b.WriteString(" :" + l.Trailing)
	}
	return b.String()
}

// ParseLine splits a wire line. Commands are upper-cased.
func ParseLine(s string) (Line, error) {
	s = strings.TrimRight(s, "\r\n")
	if strings.TrimSpace(s) == "" {
		return Line{}, errEmptyLine
	}
	var l Line
	if strings.HasPrefix(s, ":") {
		prefix, rest, ok := strings.Cut(s[1:], " ")
		if !ok {
			return Line{}, fmt.Errorf("wsline: line %q has a prefix but no command", s)
		}
		l.Prefix, s = prefix, rest
	}
	if head, trailing, ok := strings.Cut(s, " :"); ok {
		s = head
		l.Trailing, l.HasTrailing = trailing, true
	} else if strings.HasPrefix(s, ":") {
		l.Trailing, l.HasTrailing, s = s[1:], true, ""
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Line{}, fmt.Errorf("wsline: line %q has no command", s)
	}
	l.Command = strings.ToUpper(fields[0])
	l.Params = fields[1:]
	return l, nil
}

// validNick reports whether name can be used as a nick.
func validNick(name string) bool {
	if name == "" || len(name) > 32 {
		return false
	}
	if strings.ContainsAny(name, " \t\r\n:,*@!#&") {
		return false
	}
	return true
}
