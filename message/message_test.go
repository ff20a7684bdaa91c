package message

import (
	"bytes"
	"strings"
	"testing"
)

func TestParsePreservesHeaderOrderAndDuplicates(t *testing.T) {
	raw := []byte("Received: from a\r\nReceived: from b\r\nFrom: anne@example.com\r\nSubject: hi\r\n\r\nbody text\r\n")

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(msg.Headers) != 4 {
		t.Fatalf("Expected 4 headers, got %d", len(msg.Headers))
	}
	if msg.Headers[0].Value != "from a" || msg.Headers[1].Value != "from b" {
		t.Errorf("Duplicate Received headers out of order: %+v", msg.Headers[:2])
	}
	if got := msg.GetAll("received"); len(got) != 2 {
		t.Errorf("Expected 2 Received values, got %d", len(got))
	}
	if !bytes.Equal(msg.Body, []byte("body text\r\n")) {
		t.Errorf("Unexpected body: %q", msg.Body)
	}
}

func TestParseContinuationLines(t *testing.T) {
	raw := []byte("Subject: a very\r\n long subject\r\nFrom: anne@example.com\r\n\r\n")

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := msg.Get("Subject"); got != "a very long subject" {
		t.Errorf("Expected folded subject, got %q", got)
	}
}

func TestParseBareLF(t *testing.T) {
	msg, err := Parse([]byte("From: anne@example.com\nSubject: hi\n\nbody"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if msg.Get("subject") != "hi" {
		t.Errorf("Case-insensitive Get failed: %q", msg.Get("subject"))
	}
	if string(msg.Body) != "body" {
		t.Errorf("Unexpected body: %q", msg.Body)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"Continuation without field", " folded\r\n\r\n"},
		{"Missing colon", "NotAHeader\r\n\r\n"},
		{"Space in name", "Bad Header: x\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.raw)); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestBytesRoundTrip(t *testing.T) {
	raw := []byte("From: anne@example.com\r\nSubject: hi\r\n\r\nbody\r\n")
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !bytes.Equal(msg.Bytes(), raw) {
		t.Errorf("Round trip mismatch:\n got %q\nwant %q", msg.Bytes(), raw)
	}
}

func TestDeleteAll(t *testing.T) {
	msg := &Message{}
	msg.Append("To", "a@example.com")
	msg.Append("X-To", "b@example.com")
	msg.Append("to", "c@example.com")

	if removed := msg.DeleteAll("To"); removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	if len(msg.Headers) != 1 || msg.Headers[0].Name != "X-To" {
		t.Errorf("Unexpected remaining headers: %+v", msg.Headers)
	}
}

func TestClone(t *testing.T) {
	msg, err := Parse([]byte("From: anne@example.com\r\n\r\nbody"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c := msg.Clone()
	c.Append("Subject", "changed")
	c.Body[0] = 'X'

	if msg.Get("Subject") != "" {
		t.Error("Clone shares header slice with original")
	}
	if !strings.HasPrefix(string(msg.Body), "body") {
		t.Error("Clone shares body with original")
	}
}
