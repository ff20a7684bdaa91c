package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/trevor/mailman3/consts"
	"github.com/trevor/mailman3/list"
	"github.com/trevor/mailman3/message"
)

type sentText struct {
	subject   string
	text      string
	recipient string
}

type recordingSender struct {
	sent []sentText
}

func (r *recordingSender) SendTextToUser(ctx context.Context, mlist *list.MailingList, subject, text, recipient, sender, errorsTo string) error {
	r.sent = append(r.sent, sentText{subject: subject, text: text, recipient: recipient})
	return nil
}

func testList() *list.MailingList {
	return &list.MailingList{
		ListName:      "ant@example.com",
		DisplayName:   "Ant",
		SubjectPrefix: "[Ant]",
	}
}

func TestSendPostAck(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender)
	mlist := testList()

	msg, err := message.Parse([]byte("Subject: [Ant] Hello there\r\nMessage-ID: <x@example.com>\r\n\r\nbody\r\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if err := n.SendPostAck(context.Background(), mlist, msg, "anne@example.com"); err != nil {
		t.Fatalf("SendPostAck: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("Expected 1 send, got %d", len(sender.sent))
	}
	got := sender.sent[0]
	if got.recipient != "anne@example.com" {
		t.Errorf("Recipient = %q", got.recipient)
	}
	if got.subject != "Ant post acknowledgement" {
		t.Errorf("Subject = %q", got.subject)
	}
	if !strings.Contains(got.text, "Hello there") {
		t.Errorf("Acknowledgement does not echo the subject: %q", got.text)
	}
	if strings.Contains(got.text, "[Ant] Hello") {
		t.Errorf("List prefix not stripped from echoed subject: %q", got.text)
	}
}

func TestSendPostAckEmptySubject(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender)

	msg, err := message.Parse([]byte("Message-ID: <x@example.com>\r\n\r\nbody\r\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := n.SendPostAck(context.Background(), testList(), msg, "anne@example.com"); err != nil {
		t.Fatalf("SendPostAck: %v", err)
	}
	if !strings.Contains(sender.sent[0].text, "[none]") {
		t.Errorf("Empty subject should render as [none]: %q", sender.sent[0].text)
	}
}

func TestSendSubscribeAck(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender)
	mlist := testList()

	if err := n.SendSubscribeAck(context.Background(), mlist, "anne@example.com", "hunter2", false); err != nil {
		t.Fatalf("SendSubscribeAck: %v", err)
	}
	got := sender.sent[0]
	if !strings.HasPrefix(got.subject, `Welcome To "Ant"!`) {
		t.Errorf("Subject = %q", got.subject)
	}
	if strings.Contains(got.subject, "Digest") {
		t.Errorf("Regular subscription should not carry the digest marker: %q", got.subject)
	}
	for _, want := range []string{"hunter2", "ant@example.com", "ant-request@example.com"} {
		if !strings.Contains(got.text, want) {
			t.Errorf("Welcome text missing %q", want)
		}
	}
	if strings.Contains(got.text, "being migrated") {
		t.Errorf("Migration notice rendered for a non-migrating list")
	}
}

func TestSendSubscribeAckDigestAndMigration(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender)
	mlist := testList()
	mlist.MigrationNotice = true

	if err := n.SendSubscribeAck(context.Background(), mlist, "anne@example.com", "pw", true); err != nil {
		t.Fatalf("SendSubscribeAck: %v", err)
	}
	got := sender.sent[0]
	if !strings.Contains(got.subject, "(Digest mode)") {
		t.Errorf("Digest marker missing from subject: %q", got.subject)
	}
	if !strings.HasPrefix(got.text, "[Ant mailing list member:") {
		t.Errorf("Migration notice should lead the welcome text: %q", got.text)
	}
}

func TestSendSubscribeAckWelcomeText(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender)
	mlist := testList()
	mlist.WelcomeText = "Be excellent to each other."

	if err := n.SendSubscribeAck(context.Background(), mlist, "anne@example.com", "pw", false); err != nil {
		t.Fatalf("SendSubscribeAck: %v", err)
	}
	text := sender.sent[0].text
	if !strings.Contains(text, "Here is the list-specific information:") {
		t.Errorf("Welcome header missing: %q", text)
	}
	if !strings.Contains(text, "Be excellent to each other.") {
		t.Errorf("List welcome block missing: %q", text)
	}
}

func TestSendAdminUnsubscribeNotice(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender)
	mlist := testList()

	if err := n.SendAdminUnsubscribeNotice(context.Background(), mlist, "Anne Person <anne@example.com>"); err != nil {
		t.Fatalf("SendAdminUnsubscribeNotice: %v", err)
	}
	got := sender.sent[0]
	if got.recipient != "ant-owner@example.com" {
		t.Errorf("Notice should go to the administrator, got %q", got.recipient)
	}
	if got.text != "Anne Person <anne@example.com> has been removed from Ant.\n" {
		t.Errorf("Notice text = %q", got.text)
	}
}

func TestMailUserPassword(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender)
	mlist := testList()
	mlist.LegacyPasswords = map[string]string{"anne@example.com": "hunter2"}

	if err := n.MailUserPassword(context.Background(), mlist, "Anne@Example.com"); err != nil {
		t.Fatalf("MailUserPassword: %v", err)
	}
	got := sender.sent[0]
	if got.recipient != "Anne@Example.com" {
		t.Errorf("Reminder recipient = %q", got.recipient)
	}
	if got.subject != "Ant@example.com maillist reminder" {
		t.Errorf("Subject = %q", got.subject)
	}
	if !strings.Contains(got.text, "hunter2") {
		t.Errorf("Reminder does not contain the password: %q", got.text)
	}
}

func TestMailUserPasswordMissing(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender)
	mlist := testList()

	err := n.MailUserPassword(context.Background(), mlist, "ghost@example.com")
	if err != consts.ErrMissingPassword {
		t.Fatalf("Expected ErrMissingPassword, got %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("Expected the administrator alert, got %d sends", len(sender.sent))
	}
	got := sender.sent[0]
	if got.recipient != "ant-owner@example.com" {
		t.Errorf("Alert recipient = %q", got.recipient)
	}
	if !strings.Contains(got.text, "ghost@example.com") || !strings.Contains(got.text, "no stored password") {
		t.Errorf("Alert text = %q", got.text)
	}
}

func TestFormatMember(t *testing.T) {
	if got := FormatMember("Anne Person", "anne@example.com"); got != "Anne Person <anne@example.com>" {
		t.Errorf("FormatMember = %q", got)
	}
	if got := FormatMember("  ", "anne@example.com"); got != "anne@example.com" {
		t.Errorf("FormatMember without name = %q", got)
	}
}
