// Package list defines the mailing-list domain model and the repository
// contracts the engine consumes. The storage engine itself lives behind
// these interfaces; db provides the PostgreSQL implementation and
// NewMemStore an in-memory one.
package list

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/trevor/mailman3/helpers"
)

// Role of a subscription.
type Role string

const (
	RoleMember    Role = "member"
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
)

// DeliveryMode of a subscription.
type DeliveryMode string

const (
	DeliveryRegular DeliveryMode = "regular"
	DeliveryDigest  DeliveryMode = "digest"
)

// MailingList holds per-list identity, policy flags, and notification text.
// ListName is always the canonical lower-cased local@domain form.
type MailingList struct {
	ListName            string
	DisplayName         string
	SubjectPrefix       string
	WelcomeText         string
	GoodbyeText         string
	ReplyGoesToList     bool
	SendGoodbyeMsg      bool
	AdminNotifyMchanges bool
	MigrationNotice     bool

	// BanPatterns are matched against sender/subscriber addresses. A
	// pattern starting with "^" is an anchored case-insensitive regular
	// expression; anything else is a literal full-address match.
	BanPatterns []string

	// LegacyPasswords maps member email to the clear-text reminder
	// password used by the monthly password reminder mail.
	LegacyPasswords map[string]string
}

// LocalPart returns the part of the list address before the "@".
func (l *MailingList) LocalPart() string {
	local, _ := helpers.SplitEmailAddress(l.ListName)
	return local
}

// Domain returns the part of the list address after the "@".
func (l *MailingList) Domain() string {
	_, domain := helpers.SplitEmailAddress(l.ListName)
	return domain
}

// AdminEmail is the list administrator address.
func (l *MailingList) AdminEmail() string {
	return fmt.Sprintf("%s-owner@%s", l.LocalPart(), l.Domain())
}

// RequestEmail is the address serving mail-based subscription commands.
func (l *MailingList) RequestEmail() string {
	return fmt.Sprintf("%s-request@%s", l.LocalPart(), l.Domain())
}

// ListinfoURL is the list's self-service information page.
func (l *MailingList) ListinfoURL() string {
	return fmt.Sprintf("http://%s/mailman/listinfo/%s", l.Domain(), l.LocalPart())
}

// IsBanned reports whether the given address matches any ban pattern.
func (l *MailingList) IsBanned(email string) bool {
	folded := helpers.FoldAddress(email)
	for _, pattern := range l.BanPatterns {
		if strings.HasPrefix(pattern, "^") {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				continue
			}
			if re.MatchString(folded) {
				return true
			}
		} else if helpers.FoldAddress(pattern) == folded {
			return true
		}
	}
	return false
}

// User is an account owning one or more addresses.
type User struct {
	ID           int64
	RealName     string
	PasswordHash string
	Language     string
	CreatedAt    time.Time
}

// Address is a single email address, optionally linked to a User. The
// original casing is preserved for display; lookups use the canonical form.
type Address struct {
	ID         int64
	Email      string
	Canonical  string
	RealName   string
	UserID     int64 // 0 when not linked to a user
	VerifiedAt time.Time
}

// Linked reports whether the address is linked to a user.
func (a *Address) Linked() bool { return a.UserID != 0 }

// Member is one (list, address, role) subscription.
type Member struct {
	ID           int64
	ListName     string
	AddressID    int64
	Role         Role
	DeliveryMode DeliveryMode
	Language     string
	CreatedAt    time.Time
}
