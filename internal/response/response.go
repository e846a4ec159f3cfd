// Package response turns one logical reply into per-recipient messages.
//
// A [Response] names its recipients in order. The first one is the primary
// audience; any others are observers (game masters) who get a copy framed
// with the speaker and the line that caused it. A [Group] strings responses
// together so a single command can answer several people.
package response

import (
	"errors"
	"fmt"
	"iter"

	"github.com/MrWong99/vellumbot/internal/identity"
)

var (
	// ErrEmptyText is returned for a response with no text.
	ErrEmptyText = errors.New("response: empty text")
	// ErrMissingRecipients is returned for a response with no recipients.
	ErrMissingRecipients = errors.New("response: missing recipients")
	// ErrNotResponse is returned when a nil item is added to a [Group].
	ErrNotResponse = errors.New("response: not a response")
)

// ObservedSuffix marks the primary copy of a response others also see.
const ObservedSuffix = " (observed)"

// Context is the request a response answers.
type Context struct {
	Speaker identity.Identity
	Line    string
}

// Message is one line of text for one recipient.
type Message struct {
	To   identity.Identity
	Text string
}

// Messager is implemented by [*Response] and [*Group] only.
type Messager interface {
	Messages() iter.Seq[Message]
	messager()
}

// Response is a reply with an ordered recipient list.
type Response struct {
	text       string
	req        Context
	recipients []identity.Identity
	redirect   *identity.Identity
}

// Option configures a [Response].
type Option func(*Response)

// WithRedirect sends the reply to to instead of a channel when the channel
// is the only recipient. Lookup teasers use it to avoid flooding a channel.
func WithRedirect(to identity.Identity) Option {
	return func(r *Response) { r.redirect = &to }
}

// New returns a Response. recipients[0] is the primary recipient.
func New(text string, req Context, recipients []identity.Identity, opts ...Option) (*Response, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingRecipients, text)
	}
	r := &Response{text: text, req: req, recipients: recipients}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Text returns the unframed reply text.
func (r *Response) Text() string { return r.text }

// Recipients returns the recipients in order.
func (r *Response) Recipients() []identity.Identity { return r.recipients }

func (r *Response) messager() {}

// Messages yields one message per recipient.
func (r *Response) Messages() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		primary, rest := r.recipients[0], r.recipients[1:]
		if len(rest) == 0 {
			to := primary
			if r.redirect != nil && primary.IsChannel() {
				to = *r.redirect
			}
			yield(Message{To: to, Text: r.text})
			return
		}

		if !yield(Message{To: primary, Text: r.text + ObservedSuffix}) {
			return
		}
		framed := fmt.Sprintf("<%s>  %s  ===>  %s", r.req.Speaker.Name, r.req.Line, r.text)
		for _, to := range rest {
			if !yield(Message{To: to, Text: framed}) {
				return
			}
		}
	}
}

// Group is an ordered sequence of messagers.
type Group struct {
	items []Messager
}

// NewGroup returns a group holding items.
func NewGroup(items ...Messager) (*Group, error) {
	g := &Group{}
	for _, it := range items {
		if err := g.Add(it); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Add appends m.
func (g *Group) Add(m Messager) error {
	switch v := m.(type) {
	case *Response:
		if v == nil {
			return ErrNotResponse
		}
	case *Group:
		if v == nil {
			return ErrNotResponse
		}
	default:
		return ErrNotResponse
	}
	g.items = append(g.items, m)
	return nil
}

// Len returns the number of direct items.
func (g *Group) Len() int { return len(g.items) }

func (g *Group) messager() {}

// Messages flattens the group recursively in insertion order.
func (g *Group) Messages() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for _, it := range g.items {
			for m := range it.Messages() {
				if !yield(m) {
					return
				}
			}
		}
	}
}

// Collect drains m. A nil m yields nothing.
func Collect(m Messager) []Message {
	if m == nil {
		return nil
	}
	var out []Message
	for msg := range m.Messages() {
		out = append(out, msg)
	}
	return out
}

// Flatten returns the responses in m in delivery order. A nil m yields nil.
func Flatten(m Messager) []*Response {
	switch v := m.(type) {
	case *Response:
		if v == nil {
			return nil
		}
		return []*Response{v}
	case *Group:
		if v == nil {
			return nil
		}
		var out []*Response
		for _, it := range v.items {
			out = append(out, Flatten(it)...)
		}
		return out
	default:
		return nil
	}
}
