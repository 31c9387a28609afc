// Package auth holds the security primitives of the account service:
// password hashing, the password policy, token key generation, and the
// access-control gate (Identity, tiers and HTTP middleware).
//
// WHY BCRYPT?
// bcrypt is a password hashing function specifically designed to be slow.
// That slowness is a security feature: it makes brute-force attacks expensive.
//
// bcrypt automatically:
//   - Generates a random salt (so two users with the same password get different hashes)
//   - Embeds the salt in the output hash (no separate salt column needed)
//   - Controls the work factor via "cost" (higher = slower = harder to crack)
//
// Hash format (the full output of bcrypt.GenerateFromPassword):
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 = 4096 iterations)
//	 version
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used in production.
// BCRYPT_COST overrides it; tests use bcrypt.MinCost (4).
const DefaultCost = 12

// MaxPasswordBytes is bcrypt's input limit. Longer inputs would be silently
// truncated, so the policy rejects them up front and Hash refuses them.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned by Hash for inputs over MaxPasswordBytes.
var ErrPasswordTooLong = errors.New("auth: password must be 72 bytes or fewer")

// PasswordService hashes and verifies passwords with bcrypt.
//
// It's a struct (not free functions) so that the cost can be injected:
// cost 4 makes a test hash take microseconds instead of ~250ms.
type PasswordService struct {
	cost      int
	dummyHash []byte
}

// NewPasswordService creates a PasswordService with the given cost. Values
// outside bcrypt's range fall back to DefaultCost.
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}

	// The dummy hash is computed once at the service's own cost so that a
	// comparison against it takes as long as a comparison against a real hash.
	dummy, err := bcrypt.GenerateFromPassword([]byte("accounts-timing-equalizer"), cost)
	if err != nil {
		panic(fmt.Sprintf("auth: generating dummy hash: %v", err))
	}

	return &PasswordService{cost: cost, dummyHash: dummy}
}

// Hash hashes the given plaintext password with bcrypt.
//
// Store the result directly in the database. It includes the salt and
// cost — bcrypt.CompareHashAndPassword knows how to decode it.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches the stored hash.
//
// TIMING SAFETY:
// bcrypt.CompareHashAndPassword compares in constant time. A malformed stored
// hash is reported as a mismatch: the caller cannot do anything more useful
// with it than refuse the login.
func (p *PasswordService) Verify(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// VerifyDummy burns one bcrypt comparison and always returns false.
//
// Login calls it when the username does not exist, so "unknown user" and
// "wrong password" take the same time and cannot be told apart by a client.
func (p *PasswordService) VerifyDummy(plaintext string) bool {
	_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(plaintext))
	return false
}
