package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// SessionKeyLength matches the session_key column width.
const SessionKeyLength = 40

// GenerateSessionKey returns a random URL-safe key of SessionKeyLength chars.
func GenerateSessionKey() (string, error) {
	b := make([]byte, SessionKeyLength*3/4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidSessionKey reports whether key looks like a key this service issued.
func ValidSessionKey(key string) bool {
	if len(key) != SessionKeyLength {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(key)
	return err == nil
}
