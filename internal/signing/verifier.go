// Package signing verifies signed webhook deliveries per spec.md §4.1.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature validates the HMAC-SHA256 signature header over the raw
// request body using a constant-time comparator. It returns false when the
// secret is empty or the header is missing/malformed -- no exceptions
// escape, matching spec.md §4.1.
func VerifySignature(secret []byte, signatureHeader string, body []byte) bool {
	if len(secret) == 0 {
		return false
	}
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}

	sigBytes, err := hex.DecodeString(signatureHeader[len(signaturePrefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	return hmac.Equal(sigBytes, expected)
}
