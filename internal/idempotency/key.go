package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyFor derives the storage key from the caller-supplied idempotency key and
// the raw request body. Hashing both means a reused key with a different body
// lands on a different record instead of replaying the wrong response.
func KeyFor(idempotencyKey string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(idempotencyKey))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
