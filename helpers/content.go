package helpers

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// HashContent returns a hex-encoded BLAKE3 digest of the given content.
// Used to fingerprint queued message payloads for de-duplication and
// operator diagnostics; not related to the X-Message-ID-Hash header,
// which is a protocol contract.
func HashContent(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}
