package message

import (
	"errors"
	"testing"

	"github.com/trevor/mailman3/consts"
)

const antHash = "MS6QLWERIJLGCRF44J7USBFDELMNT2BW"

func TestIDHashKnownValue(t *testing.T) {
	if got := IDHash("<ant>"); got != antHash {
		t.Errorf("IDHash(<ant>) = %q, want %q", got, antHash)
	}
	// Stable across repeated computation
	if IDHash("<ant>") != IDHash("<ant>") {
		t.Error("IDHash is not deterministic")
	}
	// The angle brackets are delimiters, not part of the id
	if IDHash("ant") != antHash {
		t.Errorf("IDHash(ant) = %q, want %q", IDHash("ant"), antHash)
	}
	if len(IDHash("<other>")) != 32 {
		t.Errorf("Expected fixed 32-character hash, got %d", len(IDHash("<other>")))
	}
}

func TestAssignIDHash(t *testing.T) {
	msg, err := Parse([]byte("From: anne@example.com\r\nMessage-ID: <ant>\r\nSubject: hi\r\n\r\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	hash, err := AssignIDHash(msg)
	if err != nil {
		t.Fatalf("AssignIDHash failed: %v", err)
	}
	if hash != antHash {
		t.Errorf("Expected %q, got %q", antHash, hash)
	}
	if got := msg.GetAll(HeaderIDHash); len(got) != 1 || got[0] != antHash {
		t.Errorf("Expected exactly one hash header %q, got %v", antHash, got)
	}
}

func TestAssignIDHashOverwritesExisting(t *testing.T) {
	msg, err := Parse([]byte("Message-ID: <ant>\r\nX-Message-ID-Hash: IGNOREME\r\nX-Message-ID-Hash: METOO\r\n\r\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if _, err := AssignIDHash(msg); err != nil {
		t.Fatalf("AssignIDHash failed: %v", err)
	}
	got := msg.GetAll(HeaderIDHash)
	if len(got) != 1 {
		t.Fatalf("Expected exactly one hash header, got %d", len(got))
	}
	if got[0] != antHash {
		t.Errorf("Pre-existing hash not overwritten: %q", got[0])
	}
}

func TestAssignIDHashIdempotent(t *testing.T) {
	msg, _ := Parse([]byte("Message-ID: <ant>\r\n\r\n"))

	first, err := AssignIDHash(msg)
	if err != nil {
		t.Fatalf("AssignIDHash failed: %v", err)
	}
	second, err := AssignIDHash(msg)
	if err != nil {
		t.Fatalf("Second AssignIDHash failed: %v", err)
	}
	if first != second {
		t.Errorf("Hash changed between runs: %q vs %q", first, second)
	}
	if got := msg.GetAll(HeaderIDHash); len(got) != 1 {
		t.Errorf("Expected exactly one hash header after re-run, got %d", len(got))
	}
}

func TestAssignIDHashMissingIdentity(t *testing.T) {
	msg, _ := Parse([]byte("From: anne@example.com\r\nSubject: no id\r\n\r\n"))

	_, err := AssignIDHash(msg)
	if !errors.Is(err, consts.ErrMissingIdentity) {
		t.Errorf("Expected ErrMissingIdentity, got %v", err)
	}
	if CurrentIDHash(msg) != "" {
		t.Error("Hash header added despite missing identity")
	}
}
