package delivery

import (
	"bytes"
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
	return &list.MailingList{
		ListName:    "ant@example.com",
		DisplayName: "Ant",
	}
}

func parseMessage(t *testing.T, raw string) *message.Message {
	t.Helper()
	msg, err := message.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Failed to parse test message: %v", err)
	}
	return msg
}

func TestQuotePeriods(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Bare dot line", "before\n.\nafter", "before\n .\nafter"},
		{"Dot with CR", "before\r\n.\r\nafter", "before\r\n .\r\nafter"},
		{"Dot with trailing text untouched", ".x\n.. \n", ".x\n.. \n"},
		{"Dot at start", ".\nrest", " .\nrest"},
		{"Dot at end", "rest\n.", "rest\n ."},
		{"No dots", "hello\nworld", "hello\nworld"},
		{"Empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuotePeriods(tt.input); got != tt.expected {
				t.Errorf("QuotePeriods(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestBuildListMessage(t *testing.T) {
	raw := "From: anne@example.com\r\nTo: someone@example.com\r\nX-To: other@example.com\r\nSubject: hi\r\n\r\nbody\r\n.\r\nend\r\n"

	t.Run("Regular delivery keeps To headers", func(t *testing.T) {
		msg := parseMessage(t, raw)
		out := string(BuildListMessage(testList(), msg, "", "", false))
		if !strings.Contains(out, "To: someone@example.com\r\n") {
			t.Error("Original To header removed in regular delivery")
		}
		if !strings.Contains(out, "Errors-To: ant-owner@example.com\r\n") {
			t.Errorf("Errors-To header missing:\n%s", out)
		}
		if strings.Contains(out, "Reply-To:") {
			t.Error("Reply-To added although reply_goes_to_list is off")
		}
		if !strings.Contains(out, "\r\n .\r\n") {
			t.Errorf("Body periods not quoted:\n%s", out)
		}
	})

	t.Run("Digest delivery rewrites To", func(t *testing.T) {
		msg := parseMessage(t, raw)
		out := string(BuildListMessage(testList(), msg, "", "", true))
		if strings.Contains(out, "someone@example.com") || strings.Contains(out, "X-To:") {
			t.Errorf("Existing To/X-To headers survived:\n%s", out)
		}
		if !strings.Contains(out, "To: ant@example.com\r\n") {
			t.Errorf("Canonical To header missing:\n%s", out)
		}
	})

	t.Run("Reply-To follows list setting", func(t *testing.T) {
		mlist := testList()
		mlist.ReplyGoesToList = true
		out := string(BuildListMessage(mlist, parseMessage(t, raw), "", "", false))
		if !strings.Contains(out, "Reply-To: ant@example.com\r\n") {
			t.Errorf("Reply-To header missing:\n%s", out)
		}
	})

	t.Run("Header and footer blocks", func(t *testing.T) {
		out := string(BuildListMessage(testList(), parseMessage(t, raw), "HEADER-BLOCK", "FOOTER-BLOCK", false))
		if !strings.Contains(out, "\r\n\r\nHEADER-BLOCK\nbody") {
			t.Errorf("Header block not placed before body:\n%s", out)
		}
		if !strings.HasSuffix(out, "FOOTER-BLOCK") {
			t.Errorf("Footer block not appended:\n%s", out)
		}
	})

	t.Run("Input message is not mutated", func(t *testing.T) {
		msg := parseMessage(t, raw)
		before := string(msg.Bytes())
		BuildListMessage(testList(), msg, "H", "F", true)
		if string(msg.Bytes()) != before {
			t.Error("BuildListMessage mutated its input")
		}
	})
}

// writeTransportScript installs a shell script that records its argv and
// copies the spool payload, standing in for the real transport.
func writeTransportScript(t *testing.T, exitCode int) (script, argsFile, payloadFile string) {
	t.Helper()
	dir := t.TempDir()
	script = filepath.Join(dir, "transport.sh")
	argsFile = filepath.Join(dir, "args.txt")
	payloadFile = filepath.Join(dir, "payload.txt")

	body := fmt.Sprintf("#!/bin/sh\nprintf '%%s\\n' \"$@\" > %s\ncat \"$1\" > %s\nexit %d\n",
		argsFile, payloadFile, exitCode)
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatalf("Failed to write transport script: %v", err)
	}
	return script, argsFile, payloadFile
}

func TestDeliverToList(t *testing.T) {
	t.Run("Invokes transport with contract arguments", func(t *testing.T) {
		script, argsFile, payloadFile := writeTransportScript(t, 0)
		engine := NewEngine(Options{TransportPath: script, SpawnCount: 3})
		msg := parseMessage(t, "From: anne@example.com\r\nSubject: hi\r\n\r\nhello\r\n")

		err := engine.DeliverToList(context.Background(), testList(), msg,
			[]string{"bart@example.com", "cate@example.com"}, "", "", false)
		if err != nil {
			t.Fatalf("DeliverToList failed: %v", err)
		}

		argsRaw, err := os.ReadFile(argsFile)
		if err != nil {
			t.Fatalf("Transport was not invoked: %v", err)
		}
		args := strings.Split(strings.TrimRight(string(argsRaw), "\n"), "\n")
		if len(args) != 4 {
			t.Fatalf("Expected 4 transport arguments, got %d: %v", len(args), args)
		}
		if args[1] != "ant-owner@example.com" {
			t.Errorf("Admin argument wrong: %s", args[1])
		}
		if args[2] != "3" {
			t.Errorf("Spawn count argument wrong: %s", args[2])
		}
		if args[3] != "bart@example.com cate@example.com" {
			t.Errorf("Recipient argument wrong: %s", args[3])
		}
		if _, err := os.Stat(args[0]); !os.IsNotExist(err) {
			t.Errorf("Spool file %s not cleaned up", args[0])
		}

		payload, err := os.ReadFile(payloadFile)
		if err != nil {
			t.Fatalf("Transport did not see the spool payload: %v", err)
		}
		if !bytes.Contains(payload, []byte("Errors-To: ant-owner@example.com")) {
			t.Errorf("Spool payload missing rewritten headers:\n%s", payload)
		}
	})

	t.Run("Empty recipients is a no-op", func(t *testing.T) {
		script, argsFile, _ := writeTransportScript(t, 0)
		engine := NewEngine(Options{TransportPath: script})
		msg := parseMessage(t, "From: anne@example.com\r\n\r\nhello\r\n")

		if err := engine.DeliverToList(context.Background(), testList(), msg, nil, "", "", false); err != nil {
			t.Fatalf("DeliverToList failed: %v", err)
		}
		if _, err := os.Stat(argsFile); !os.IsNotExist(err) {
			t.Error("Transport invoked despite empty recipient list")
		}
	})

	t.Run("Transport failure is not propagated", func(t *testing.T) {
		script, _, _ := writeTransportScript(t, 1)
		engine := NewEngine(Options{TransportPath: script})
		msg := parseMessage(t, "From: anne@example.com\r\n\r\nhello\r\n")

		err := engine.DeliverToList(context.Background(), testList(), msg,
			[]string{"bart@example.com"}, "", "", false)
		if err != nil {
			t.Errorf("Transport exit status leaked to caller: %v", err)
		}
	})
}

func TestSendTextToUserSynchronous(t *testing.T) {
	script, argsFile, payloadFile := writeTransportScript(t, 0)
	engine := NewEngine(Options{TransportPath: script, Hostname: "example.com"})

	err := engine.SendTextToUser(context.Background(), testList(),
		"Welcome", "hello there\n", "bart@example.com", "", "")
	if err != nil {
		t.Fatalf("SendTextToUser failed: %v", err)
	}

	argsRaw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("Transport was not invoked: %v", err)
	}
	args := strings.Split(strings.TrimRight(string(argsRaw), "\n"), "\n")
	if args[3] != "bart@example.com" {
		t.Errorf("Recipient argument wrong: %s", args[3])
	}

	payload, err := os.ReadFile(payloadFile)
	if err != nil {
		t.Fatalf("Transport did not see the payload: %v", err)
	}
	for _, want := range []string{
		"Subject: Welcome",
		"To: bart@example.com",
		"From: ant-owner@example.com",
		"Errors-To: ant-owner@example.com",
		"hello there",
	} {
		if !strings.Contains(string(payload), want) {
			t.Errorf("Composed message missing %q:\n%s", want, payload)
		}
	}
}
