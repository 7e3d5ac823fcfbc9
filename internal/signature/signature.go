// Package signature verifies that a webhook body originated from the
// payment gateway. The gateway signs the raw body with HMAC-SHA256 and
// sends the hex digest in a header.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Compute returns the hex-encoded HMAC-SHA256 of body under secret
func Compute(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header is a valid signature for body.
// Comparison is constant time. A missing header or empty secret never
// verifies; skipping verification for unconfigured deployments is a
// processor-level decision, not done here.
func Verify(body []byte, header string, secret string) bool {
	if header == "" || secret == "" {
		return false
	}

	expected, err := hex.DecodeString(Compute(body, secret))
	if err != nil {
		return false
	}

	got, err := hex.DecodeString(header)
	if err != nil {
		return false
	}

	return hmac.Equal(got, expected)
}
