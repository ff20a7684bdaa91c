package helpers

import (
	"net/mail"
	"strings"

	"github.com/trevor/mailman3/consts"
)

// FoldAddress returns the canonical (lower-cased) form of an email address.
// List and address lookups are always performed on the folded form while the
// original casing is preserved for display.
func FoldAddress(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SplitEmailAddress splits a canonical address into local part and domain.
func SplitEmailAddress(email string) (string, string) {
	email = FoldAddress(email)
	local, domain, found := strings.Cut(email, "@")
	if !found {
		return email, ""
	}
	return local, domain
}

// ValidateEmail checks that the given string is a syntactically valid,
// bare (no display name) email address.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return consts.ErrInvalidEmailAddress
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return consts.ErrInvalidEmailAddress
	}
	// Reject display-name forms like "Anne <anne@example.com>"; the
	// subscription API takes a bare address.
	if addr.Address != email {
		return consts.ErrInvalidEmailAddress
	}
	if !strings.Contains(addr.Address, "@") {
		return consts.ErrInvalidEmailAddress
	}
	return nil
}
