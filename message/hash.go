package message

import (
	"crypto/sha1"
	"encoding/base32"
	"strings"

	"github.com/trevor/mailman3/consts"
)

// HeaderIDHash is the header carrying the message identity hash. After
// AssignIDHash a message carries exactly one such header.
const HeaderIDHash = "X-Message-ID-Hash"

// IDHash computes the identity hash over a Message-ID header value:
// the base32-encoded SHA-1 digest of the id with the surrounding angle
// brackets stripped. SHA-1's 160 bits encode to exactly 32 base32
// characters, so the textual form is fixed-length and unpadded. For the
// value "<ant>" this yields "MS6QLWERIJLGCRF44J7USBFDELMNT2BW".
func IDHash(messageID string) string {
	sum := sha1.Sum([]byte(strings.Trim(messageID, "<>")))
	return base32.StdEncoding.EncodeToString(sum[:])
}

// AssignIDHash computes the identity hash from the message's Message-ID
// header and rewrites the X-Message-ID-Hash header to hold it: every
// pre-existing hash header is removed and a single fresh one appended.
// Returns consts.ErrMissingIdentity when the message has no Message-ID.
// The operation is idempotent.
func AssignIDHash(msg *Message) (string, error) {
	messageID := strings.TrimSpace(msg.Get("Message-ID"))
	if messageID == "" {
		return "", consts.ErrMissingIdentity
	}
	hash := IDHash(messageID)
	msg.DeleteAll(HeaderIDHash)
	msg.Append(HeaderIDHash, hash)
	return hash, nil
}

// CurrentIDHash returns the message's identity hash header value, or ""
// when the message has not been through AssignIDHash.
func CurrentIDHash(msg *Message) string {
	return msg.Get(HeaderIDHash)
}
