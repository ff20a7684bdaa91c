// Package message holds the wire-level message model used throughout the
// engine: an ordered header block plus a raw body. Header order and
// duplicate header fields are preserved exactly as received, since the
// pipeline rewrites individual fields and hands the rest through untouched.
package message

import (
	"bytes"
	"strings"

	"github.com/trevor/mailman3/consts"
)

// Header is a single message header field. The same name may occur
// multiple times in one message.
type Header struct {
	Name  string
	Value string
}

// Message is an ordered sequence of header fields and a raw body.
type Message struct {
	Headers []Header
	Body    []byte
}

// Parse splits raw message bytes into the ordered header block and body.
// Both CRLF and bare LF line endings are accepted; continuation lines are
// folded into the preceding field's value.
func Parse(raw []byte) (*Message, error) {
	headerBlock := raw
	var body []byte
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx != -1 {
		headerBlock = raw[:idx]
		body = raw[idx+4:]
	} else if idx := bytes.Index(raw, []byte("\n\n")); idx != -1 {
		headerBlock = raw[:idx]
		body = raw[idx+2:]
	}

	msg := &Message{Body: body}
	lines := strings.Split(string(headerBlock), "\n")
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			// Continuation of the previous field
			if len(msg.Headers) == 0 {
				return nil, consts.ErrMalformedMessage
			}
			last := &msg.Headers[len(msg.Headers)-1]
			last.Value += " " + strings.TrimSpace(line)
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found || name == "" || strings.ContainsAny(name, " \t") {
			return nil, consts.ErrMalformedMessage
		}
		msg.Headers = append(msg.Headers, Header{
			Name:  name,
			Value: strings.TrimSpace(value),
		})
	}
	return msg, nil
}

// Bytes serializes the message to its transport form: header block, blank
// line, body. Lines are CRLF-terminated.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer
	for _, h := range m.Headers {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(m.Body)
	return buf.Bytes()
}

// Get returns the value of the first header with the given name
// (case-insensitive), or "" if the header is absent.
func (m *Message) Get(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// GetAll returns all values for the given header name, in order.
func (m *Message) GetAll(name string) []string {
	var values []string
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			values = append(values, h.Value)
		}
	}
	return values
}

// Append adds a header field at the end of the header block.
func (m *Message) Append(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// Prepend adds a header field at the front of the header block.
func (m *Message) Prepend(name, value string) {
	m.Headers = append([]Header{{Name: name, Value: value}}, m.Headers...)
}

// DeleteAll removes every header with the given name (case-insensitive)
// and reports how many were removed.
func (m *Message) DeleteAll(name string) int {
	kept := m.Headers[:0]
	removed := 0
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			removed++
			continue
		}
		kept = append(kept, h)
	}
	m.Headers = kept
	return removed
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := &Message{
		Headers: make([]Header, len(m.Headers)),
		Body:    make([]byte, len(m.Body)),
	}
	copy(c.Headers, m.Headers)
	copy(c.Body, m.Body)
	return c
}
