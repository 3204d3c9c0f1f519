package webhookutils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrMissingSignature is returned when a signed delivery carries no signature.
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrSignatureMismatch is returned when the signature does not match the payload.
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
)

// SignHMACSHA256 returns the lowercase hex HMAC-SHA256 of payload keyed by secret.
func SignHMACSHA256(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSHA256 checks a hex signature, optionally carrying a scheme prefix such as
// "sha256=", against payload.
func VerifyHMACSHA256(secret string, payload []byte, signature, prefix string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	if prefix != "" {
		if !strings.HasPrefix(strings.ToLower(signature), prefix) {
			return ErrSignatureMismatch
		}
		signature = signature[len(prefix):]
	}
	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return ErrSignatureMismatch
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrSignatureMismatch
	}
	return nil
}

// TokensEqual compares two shared tokens in constant time. Empty tokens never match.
func TokensEqual(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
