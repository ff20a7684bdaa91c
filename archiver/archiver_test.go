package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/trevor/mailman3/list"
	"github.com/trevor/mailman3/message"
)

func testList() *list.MailingList {
	return &list.MailingList{ListName: "ant@example.com", DisplayName: "Ant"}
}

func testMessage(t *testing.T, withHash bool) *message.Message {
	t.Helper()
	msg, err := message.Parse([]byte("From: anne@example.com\r\nMessage-ID: <ant>\r\n\r\nbody\r\n"))
	if err != nil {
		t.Fatalf("Failed to parse test message: %v", err)
	}
	if withHash {
		if _, err := message.AssignIDHash(msg); err != nil {
			t.Fatalf("Failed to assign identity hash: %v", err)
		}
	}
	return msg
}

func TestListURL(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		expected string
	}{
		{"Listname placeholder", "http://archive.example.com/$listname", "http://archive.example.com/ant"},
		{"Hostname placeholder", "http://$hostname/archives/$listname", "http://example.com/archives/ant"},
		{"Fqdn placeholder", "http://archive.example.com/$fqdn_listname", "http://archive.example.com/ant@example.com"},
		{"No base URL", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(Options{BaseURL: tt.baseURL})
			if got := a.ListURL(testList()); got != tt.expected {
				t.Errorf("ListURL = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPermalink(t *testing.T) {
	a := NewAdapter(Options{BaseURL: "http://archive.example.com/$listname"})

	t.Run("With identity hash", func(t *testing.T) {
		msg := testMessage(t, true)
		want := "http://archive.example.com/ant/MS6QLWERIJLGCRF44J7USBFDELMNT2BW"
		if got := a.Permalink(testList(), msg); got != want {
			t.Errorf("Permalink = %q, want %q", got, want)
		}
	})

	t.Run("Without identity hash", func(t *testing.T) {
		msg := testMessage(t, false)
		if got := a.Permalink(testList(), msg); got != "" {
			t.Errorf("Expected empty permalink, got %q", got)
		}
	})
}

func TestArchiveMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("Feeds message on stdin with expanded argv", func(t *testing.T) {
		dir := t.TempDir()
		script := filepath.Join(dir, "archive.sh")
		captured := filepath.Join(dir, "captured.txt")
		body := fmt.Sprintf("#!/bin/sh\n{ printf '%%s\\n' \"$@\"; cat; } > %s\n", captured)
		if err := os.WriteFile(script, []byte(body), 0755); err != nil {
			t.Fatalf("Failed to write archiver script: %v", err)
		}

		a := NewAdapter(Options{Command: script + " --list $fqdn_listname"})
		if err := a.ArchiveMessage(ctx, testList(), testMessage(t, true)); err != nil {
			t.Fatalf("ArchiveMessage failed: %v", err)
		}

		raw, err := os.ReadFile(captured)
		if err != nil {
			t.Fatalf("Archiver command was not invoked: %v", err)
		}
		out := string(raw)
		if !strings.HasPrefix(out, "--list\nant@example.com\n") {
			t.Errorf("Argv not expanded:\n%s", out)
		}
		if !strings.Contains(out, "Message-ID: <ant>") {
			t.Errorf("Message not fed on stdin:\n%s", out)
		}
	})

	t.Run("Command failure is swallowed", func(t *testing.T) {
		a := NewAdapter(Options{Command: "/bin/false"})
		if err := a.ArchiveMessage(ctx, testList(), testMessage(t, true)); err != nil {
			t.Errorf("Archiver exit status leaked to caller: %v", err)
		}
	})

	t.Run("No command configured is a no-op", func(t *testing.T) {
		a := NewAdapter(Options{})
		if err := a.ArchiveMessage(ctx, testList(), testMessage(t, true)); err != nil {
			t.Errorf("ArchiveMessage failed: %v", err)
		}
	})
}
