package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const (
	HeaderGitHubSignature = "X-Hub-Signature-256"
	HeaderGitHubEvent     = "X-GitHub-Event"
	HeaderGitHubDelivery  = "X-GitHub-Delivery"
	prefixGitHub          = "sha256="
)

// Sign returns the GitHub-style signature header value for body.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return prefixGitHub + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether header is the sha256= HMAC of the exact
// body bytes under secret. The comparison is constant time; a missing or
// malformed header is a mismatch, never an error.
func VerifySignature(body []byte, header string, secret []byte) bool {
	if len(secret) == 0 || len(header) != len(prefixGitHub)+sha256.Size*2 {
		return false
	}
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(header))
}
