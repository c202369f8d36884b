// Package webhook verifies and decodes inbound Checkr notifications.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// RawBodyKey is the gin context key holding the verified request body
const RawBodyKey = "webhook.raw_body"

// ErrInvalidSignature is returned when a notification fails HMAC verification
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign returns the lowercase hex HMAC-SHA256 of payload under secret
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signatureHeader is the hex HMAC-SHA256 of the exact
// payload bytes under secret. The comparison is constant-time.
func Verify(signatureHeader string, payload, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	signature := strings.TrimSpace(signatureHeader)
	if signature == "" {
		return false
	}

	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return hmac.Equal(given, mac.Sum(nil))
}
