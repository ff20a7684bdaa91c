package notify

import (
	"context"
	"fmt"

	"github.com/trevor/mailman3/consts"
	"github.com/trevor/mailman3/helpers"
	"github.com/trevor/mailman3/list"
	"github.com/trevor/mailman3/message"
	"github.com/trevor/mailman3/pkg/metrics"
)

// TextSender delivers a rendered notification to a single recipient.
// Satisfied by delivery.Engine. An empty sender means "the list
// administrator address".
type TextSender interface {
	SendTextToUser(ctx context.Context, mlist *list.MailingList, subject, text, recipient, sender, errorsTo string) error
}

// Notifier binds the notification templates to the delivery engine.
type Notifier struct {
	sender TextSender
}

// NewNotifier creates a Notifier delivering through the given sender.
func NewNotifier(sender TextSender) *Notifier {
	return &Notifier{sender: sender}
}

// SendPostAck acknowledges an accepted post to its sender. The subject is
// taken from the posted message with the list's subject prefix stripped
// when it is a literal leading match.
func (n *Notifier) SendPostAck(ctx context.Context, mlist *list.MailingList, msg *message.Message, sender string) error {
	ack := PostAck{
		Subject:     helpers.StripSubjectPrefix(msg.Get("Subject"), mlist.SubjectPrefix),
		ListName:    mlist.DisplayName,
		ListinfoURL: mlist.ListinfoURL(),
	}
	metrics.Notifications.WithLabelValues("post_ack").Inc()
	subject := fmt.Sprintf("%s post acknowledgement", mlist.DisplayName)
	return n.sender.SendTextToUser(ctx, mlist, subject, ack.Render(), sender, "", "")
}

// SendSubscribeAck welcomes a freshly subscribed member.
func (n *Notifier) SendSubscribeAck(ctx context.Context, mlist *list.MailingList, recipient, password string, digest bool) error {
	ack := SubscribeAck{
		ListName:        mlist.DisplayName,
		Host:            mlist.Domain(),
		ListinfoURL:     mlist.ListinfoURL(),
		RequestEmail:    mlist.RequestEmail(),
		PostEmail:       mlist.ListName,
		Password:        password,
		Digest:          digest,
		WelcomeText:     mlist.WelcomeText,
		MigrationNotice: mlist.MigrationNotice,
	}
	metrics.Notifications.WithLabelValues("subscribe_ack").Inc()
	subject := fmt.Sprintf("Welcome To %q! %s", mlist.DisplayName, ack.DigestModeMarker())
	return n.sender.SendTextToUser(ctx, mlist, subject, ack.Render(), recipient, "", "")
}

// SendUnsubscribeAck sends the list's goodbye text to a departing member.
func (n *Notifier) SendUnsubscribeAck(ctx context.Context, mlist *list.MailingList, recipient string) error {
	ack := UnsubscribeAck{Goodbye: mlist.GoodbyeText}
	metrics.Notifications.WithLabelValues("unsubscribe_ack").Inc()
	subject := fmt.Sprintf("Unsubscribed from %q", mlist.DisplayName)
	return n.sender.SendTextToUser(ctx, mlist, subject, ack.Render(), recipient, "", "")
}

// SendAdminUnsubscribeNotice informs the list administrator about a
// completed unsubscribe.
func (n *Notifier) SendAdminUnsubscribeNotice(ctx context.Context, mlist *list.MailingList, member string) error {
	notice := AdminUnsubscribeNotice{
		ListName: mlist.DisplayName,
		Member:   member,
	}
	metrics.Notifications.WithLabelValues("admin_unsubscribe_notice").Inc()
	subject := fmt.Sprintf("%s unsubscription notification", mlist.DisplayName)
	return n.sender.SendTextToUser(ctx, mlist, subject, notice.Render(), mlist.AdminEmail(), "", "")
}

// MailUserPassword sends the legacy password reminder for the given member
// address. When the address has a stored reminder password, the reminder is
// sent to the member. When it does not, a diagnostic is sent to the list
// administrator instead and consts.ErrMissingPassword is returned to the
// caller; the administrative alert is dispatched either way.
func (n *Notifier) MailUserPassword(ctx context.Context, mlist *list.MailingList, user string) error {
	subjPrefix := fmt.Sprintf("%s@%s", mlist.DisplayName, mlist.Domain())

	password, ok := mlist.LegacyPasswords[helpers.FoldAddress(user)]
	if !ok {
		alert := MissingPasswordAlert{User: user, ListName: mlist.ListName}
		subject := fmt.Sprintf("%s user %s missing password!", subjPrefix, user)
		metrics.Notifications.WithLabelValues("missing_password_alert").Inc()
		if err := n.sender.SendTextToUser(ctx, mlist, subject, alert.Render(), mlist.AdminEmail(), "", ""); err != nil {
			return fmt.Errorf("failed to send missing password alert: %w", err)
		}
		return consts.ErrMissingPassword
	}

	reminder := PasswordReminder{
		ListName:     mlist.DisplayName,
		Host:         mlist.Domain(),
		Password:     password,
		ListinfoURL:  mlist.ListinfoURL(),
		RequestEmail: mlist.RequestEmail(),
	}
	metrics.Notifications.WithLabelValues("password_reminder").Inc()
	subject := fmt.Sprintf("%s maillist reminder", subjPrefix)
	return n.sender.SendTextToUser(ctx, mlist, subject, reminder.Render(), user, "", "")
}
