// Package identity defines the single participant abstraction shared by
// responses, session membership and alias ownership.
//
// An [Identity] is either a person (an actor or speaker) or a channel. Both
// can receive messages. Each carries the character encoding its client
// expects on the wire so transports that are not UTF-8 clean can transcode
// outbound text.
package identity

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultEncoding is used when an identity does not name one.
const DefaultEncoding = "utf-8"

// Identity is a message recipient: a user or a channel.
type Identity struct {
	// Handle is the transport's stable id (Discord snowflake, connection
	// id). It may be empty for identities only known by name.
	Handle string

	// Name is the display name or channel name ("GeeEm", "#testing").
	Name string

	// Encoding is an IANA/WHATWG charset label. Empty means UTF-8.
	Encoding string
}

// Named returns an identity known only by its display name.
func Named(name string) Identity {
	return Identity{Name: name}
}

// Channel returns a channel identity. A missing '#' prefix is added.
func Channel(name string) Identity {
	if !IsChannelName(name) {
		name = "#" + name
	}
	return Identity{Name: name}
}

// IsChannelName reports whether name is channel-style.
func IsChannelName(name string) bool {
	return strings.HasPrefix(name, "#") || strings.HasPrefix(name, "&")
}

// IsChannel reports whether id is channel-style.
func (id Identity) IsChannel() bool { return IsChannelName(id.Name) }

// String returns the display name.
func (id Identity) String() string { return id.Name }

// Key is the case-insensitive comparison key used for membership and
// recipient deduplication.
func (id Identity) Key() string { return strings.ToLower(id.Name) }

// Same reports whether a and b name the same participant.
func (id Identity) Same(other Identity) bool { return id.Key() == other.Key() }

// WithEncoding returns a copy of id with the given charset label.
func (id Identity) WithEncoding(label string) Identity {
	id.Encoding = label
	return id
}

// Charset resolves the identity's encoding label.
func (id Identity) Charset() (encoding.Encoding, error) {
	label := id.Encoding
	if label == "" {
		label = DefaultEncoding
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("identity: unknown encoding %q for %s: %w", label, id.Name, err)
	}
	return enc, nil
}

// Encode converts UTF-8 text into the identity's wire encoding. Runes the
// charset cannot represent are replaced.
func (id Identity) Encode(text string) ([]byte, error) {
	enc, err := id.Charset()
	if err != nil {
		return nil, err
	}
	if enc == unicode.UTF8 {
		return []byte(text), nil
	}
	out, err := encoding.ReplaceUnsupported(enc.NewEncoder()).String(text)
	if err != nil {
		return nil, fmt.Errorf("identity: encode for %s: %w", id.Name, err)
	}
	return []byte(out), nil
}

// Decode converts bytes in the identity's wire encoding into UTF-8 text.
func (id Identity) Decode(b []byte) (string, error) {
	enc, err := id.Charset()
	if err != nil {
		return "", err
	}
	if enc == unicode.UTF8 {
		return string(b), nil
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("identity: decode from %s: %w", id.Name, err)
	}
	return string(out), nil
}

// Dedupe removes repeated participants, keeping first-seen order.
func Dedupe(ids []Identity) []Identity {
	seen := make(map[string]bool, len(ids))
	out := make([]Identity, 0, len(ids))
	for _, id := range ids {
		k := id.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, id)
	}
	return out
}
