package proto

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrMalformedFrame is returned by Parse for frames that cannot yield a
// single key/value pair (invalid UTF-8 or no parsable lines).
var ErrMalformedFrame = errors.New("malformed frame")

// Message is one LSNP frame: an ordered set of KEY: VALUE fields.
// Crafting emits keys in first-insertion order; setting an existing key
// overwrites its value in place. Values may be any UTF-8 except newline.
type Message struct {
	keys   []string
	fields map[string]string
}

// New creates a message with its TYPE field already set.
func New(msgType string) *Message {
	m := &Message{fields: make(map[string]string)}
	return m.Set(KeyType, msgType)
}

// Set stores a field, keeping the original position of a repeated key.
// It returns the message so craft sites can chain calls.
func (m *Message) Set(key, value string) *Message {
	if _, ok := m.fields[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.fields[key] = value
	return m
}

// Get returns the value for key, or "" when absent.
func (m *Message) Get(key string) string { return m.fields[key] }

// Has reports whether key is present, even with an empty value.
func (m *Message) Has(key string) bool {
	_, ok := m.fields[key]
	return ok
}

// Type returns the TYPE field.
func (m *Message) Type() string { return m.fields[KeyType] }

// Len returns the number of fields.
func (m *Message) Len() int { return len(m.keys) }

// Keys returns the field keys in wire order.
func (m *Message) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Fields returns a copy of all fields for display purposes.
func (m *Message) Fields() map[string]string {
	out := make(map[string]string, len(m.fields))
	for k, v := range m.fields {
		out[k] = v
	}
	return out
}

// Craft serializes the message to its wire form: one "KEY: VALUE" line per
// field, terminated by a blank line.
func (m *Message) Craft() []byte {
	var b strings.Builder
	for _, k := range m.keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(m.fields[k])
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

func (m *Message) String() string { return string(m.Craft()) }

// Parse decodes a raw datagram into a Message. Lines without a colon are
// skipped; keys and values are trimmed of surrounding whitespace; a later
// duplicate key overwrites the earlier value. Unknown keys are preserved.
func Parse(raw []byte) (*Message, error) {
	if !utf8.Valid(raw) {
		return nil, ErrMalformedFrame
	}
	m := &Message{fields: make(map[string]string)}
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		m.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if len(m.keys) == 0 {
		return nil, ErrMalformedFrame
	}
	return m, nil
}
