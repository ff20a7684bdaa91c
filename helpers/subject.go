package helpers

import "strings"

// StripSubjectPrefix removes a list's configured subject prefix from a
// subject line, once, and only when the prefix is a literal leading match.
// Mailing lists commonly tag posts as "[listname] original subject"; the
// post acknowledgement echoes the subject as the sender wrote it.
func StripSubjectPrefix(subject, prefix string) string {
	if prefix == "" || len(subject) <= len(prefix) {
		return subject
	}
	if !strings.HasPrefix(subject, prefix) {
		return subject
	}
	return strings.TrimLeft(subject[len(prefix):], " ")
}
