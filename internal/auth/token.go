package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TokenKeyBytes is the entropy of a token key. Hex-encoded it is 40 characters.
const TokenKeyBytes = 20

// GenerateTokenKey returns a fresh opaque bearer token key.
//
// WHY NOT A JWT?
// A token here is just a random lookup key into the tokens table. Logging out
// deletes the row, which revokes the key immediately. A signed self-contained
// token stays valid until it expires no matter what the server does.
func GenerateTokenKey() (string, error) {
	buf := make([]byte, TokenKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generating token key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
