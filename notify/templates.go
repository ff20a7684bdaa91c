// Package notify renders the engine's outbound member notifications. Each
// notification kind is a typed record with an explicit field per template
// parameter, rendered by a pure function; there is no dynamic dictionary
// interpolation, so a missing parameter is a compile error instead of a
// silent formatting failure.
package notify

import (
	"fmt"
	"strings"
)

// PostAck acknowledges an accepted list post to its sender.
type PostAck struct {
	Subject     string // Original subject, list prefix already stripped
	ListName    string // Display name
	ListinfoURL string
}

func (p PostAck) Render() string {
	subject := p.Subject
	if subject == "" {
		subject = "[none]"
	}
	return fmt.Sprintf(`
Your message entitled:

	%s

was successfully received by the %s mailing list.

(List info page: %s )
`, subject, p.ListName, p.ListinfoURL)
}

// migrationNotice is prepended to subscribe acknowledgements for lists
// flagged as migrating from a previous list mechanism.
const migrationNotice = `[%s mailing list member: your mailing list
is being migrated to a new mailing list mechanism, one which offers
more control both to the list members and to the administrator.
Subscriptions are carried over; see the instructions below for changing
your options.  Actual communication on the list works the same.]

`

// SubscribeAck welcomes a new member.
type SubscribeAck struct {
	ListName        string // Display name
	Host            string
	ListinfoURL     string
	RequestEmail    string
	PostEmail       string
	Password        string
	Digest          bool
	WelcomeText     string // Optional list-specific welcome block
	MigrationNotice bool
}

func (s SubscribeAck) Render() string {
	var welcomeHeader, welcome string
	if s.WelcomeText != "" {
		welcomeHeader = "Here is the list-specific information:"
		welcome = s.WelcomeText
	}
	body := fmt.Sprintf(`Welcome to the %s@%s mailing list!

If you ever want to unsubscribe or change your options (eg, switch to
or from digest mode, change your password, etc.), visit the web page:

      %s

You can also make such adjustments via email - send a message to:

      %s

with the text "help" in the subject or body, and you will get back a
message with instructions.

You must know your password to change your options (including changing
the password itself) or to unsubscribe.  It is:

      %s

To post to this list, send your email to:

      %s

%s

%s
`, s.ListName, s.Host, s.ListinfoURL, s.RequestEmail, s.Password,
		s.PostEmail, welcomeHeader, welcome)

	if s.MigrationNotice {
		body = fmt.Sprintf(migrationNotice, s.ListName) + body
	}
	return body
}

// DigestModeMarker returns the digest-mode indicator used in the welcome
// subject line, or "" for regular delivery.
func (s SubscribeAck) DigestModeMarker() string {
	if s.Digest {
		return "(Digest mode)"
	}
	return ""
}

// UnsubscribeAck carries the list's configured goodbye text.
type UnsubscribeAck struct {
	Goodbye string
}

func (u UnsubscribeAck) Render() string {
	return u.Goodbye
}

// PasswordReminder renders the legacy password reminder mail.
type PasswordReminder struct {
	ListName     string // Display name
	Host         string
	Password     string
	ListinfoURL  string
	RequestEmail string
}

func (p PasswordReminder) Render() string {
	return fmt.Sprintf(`
This is a reminder of how to unsubscribe or change your configuration
for the mailing list "%s".  You need to have your password for
these things.  YOUR PASSWORD IS:

      %s

To make changes, use this password on the web site:

      %s

You can also make such adjustments via email - send a message to:

      %s

with the text "help" in the subject or body, and you will get back a
message with instructions.

Questions or comments?  Send mail to mailman-owner@%s
`, p.ListName, p.Password, p.ListinfoURL, p.RequestEmail, p.Host)
}

// MissingPasswordAlert is the administrator-facing diagnostic sent when a
// password reminder is requested for an address with no stored password.
type MissingPasswordAlert struct {
	User     string
	ListName string
}

func (m MissingPasswordAlert) Render() string {
	return fmt.Sprintf(`The password reminder for:

	User: %s
	List: %s

could not be sent because the user has no stored password.  Please
notify the list system manager.
`, m.User, m.ListName)
}

// AdminUnsubscribeNotice informs the list administrator that a member
// unsubscribed.
type AdminUnsubscribeNotice struct {
	ListName string // Display name
	Member   string // Formatted "Real Name <address>" or bare address
}

func (a AdminUnsubscribeNotice) Render() string {
	return fmt.Sprintf(`%s has been removed from %s.
`, a.Member, a.ListName)
}

// FormatMember renders a member for administrator notifications.
func FormatMember(realname, email string) string {
	if strings.TrimSpace(realname) == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", realname, email)
}
