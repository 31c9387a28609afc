package auth

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// PASSWORD POLICY:
// A policy is an ordered list of rules. Validate runs every rule and returns
// all failure messages, so a client learns about every problem at once
// (e.g. "too short" AND "entirely numeric" for "1234").
//
// The default rule set mirrors the conventional one for account services:
//
//	1. not too similar to the user's own attributes
//	2. at least N characters
//	3. not in a list of common passwords
//	4. not entirely numeric
//	5. no more than 72 bytes (bcrypt's input limit)

// PasswordRule checks one property of a candidate password.
// It returns "" when the password passes, otherwise a user-facing message.
//
// attrs maps human-readable attribute names ("username", "email address", ...)
// to the user's values. It may be nil when no user context exists.
type PasswordRule interface {
	Check(password string, attrs map[string]string) string
}

// PasswordPolicy is an ordered set of rules.
type PasswordPolicy struct {
	rules []PasswordRule
}

// NewPasswordPolicy builds a policy that runs rules in the given order.
func NewPasswordPolicy(rules ...PasswordRule) *PasswordPolicy {
	return &PasswordPolicy{rules: rules}
}

// DefaultPolicy returns the standard rule set with the given minimum length.
func DefaultPolicy(minLength int) *PasswordPolicy {
	return NewPasswordPolicy(
		SimilarityRule{MaxSimilarity: 0.7},
		MinLengthRule{Min: minLength},
		CommonPasswordRule{},
		NumericRule{},
		MaxBytesRule{Max: MaxPasswordBytes},
	)
}

// Validate returns the messages of every failing rule, in rule order.
// A nil result means the password is acceptable.
func (p *PasswordPolicy) Validate(password string, attrs map[string]string) []string {
	var msgs []string
	for _, rule := range p.rules {
		if msg := rule.Check(password, attrs); msg != "" {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// =========================================================================
// LENGTH
// =========================================================================

// MinLengthRule counts characters (runes), not bytes.
type MinLengthRule struct {
	Min int
}

// Check fails passwords shorter than Min characters.
func (r MinLengthRule) Check(password string, _ map[string]string) string {
	if utf8.RuneCountInString(password) >= r.Min {
		return ""
	}
	unit := "characters"
	if r.Min == 1 {
		unit = "character"
	}
	return fmt.Sprintf("This password is too short. It must contain at least %d %s.", r.Min, unit)
}

// MaxBytesRule rejects passwords bcrypt would silently truncate.
type MaxBytesRule struct {
	Max int
}

// Check fails passwords longer than Max bytes.
func (r MaxBytesRule) Check(password string, _ map[string]string) string {
	if len(password) <= r.Max {
		return ""
	}
	return fmt.Sprintf("This password is too long. It must contain at most %d bytes.", r.Max)
}

// =========================================================================
// NUMERIC
// =========================================================================

// NumericRule rejects passwords made only of digits.
type NumericRule struct{}

// Check fails passwords that are entirely numeric.
func (NumericRule) Check(password string, _ map[string]string) string {
	if password == "" {
		return ""
	}
	for _, r := range password {
		if !unicode.IsDigit(r) {
			return ""
		}
	}
	return "This password is entirely numeric."
}

// =========================================================================
// COMMON PASSWORDS
// =========================================================================

//go:embed common_passwords.txt
var commonPasswordsFile string

var (
	commonPasswordsOnce sync.Once
	commonPasswords     map[string]struct{}
)

func loadCommonPasswords() map[string]struct{} {
	commonPasswordsOnce.Do(func() {
		lines := strings.Split(commonPasswordsFile, "\n")
		commonPasswords = make(map[string]struct{}, len(lines))
		for _, line := range lines {
			if line = strings.TrimSpace(line); line != "" {
				commonPasswords[strings.ToLower(line)] = struct{}{}
			}
		}
	})
	return commonPasswords
}

// CommonPasswordRule matches case-insensitively, ignoring surrounding spaces.
type CommonPasswordRule struct{}

// Check fails passwords found in the embedded common-password list.
func (CommonPasswordRule) Check(password string, _ map[string]string) string {
	if _, found := loadCommonPasswords()[strings.ToLower(strings.TrimSpace(password))]; found {
		return "This password is too common."
	}
	return ""
}

// =========================================================================
// SIMILARITY
// =========================================================================

// similarityAttributes fixes the order attributes are checked in. Only the
// first similar attribute is reported.
var similarityAttributes = []string{"username", "first name", "last name", "email address"}

var nonWord = regexp.MustCompile(`\W+`)

// SimilarityRule rejects passwords too close to the user's own attributes.
//
// Each attribute is compared whole and split on non-word runs, so for
// "jane.doe@example.com" the parts jane, doe, example and com are checked too.
// Similarity is the quick ratio of the two strings' character multisets
// (2*matches / total length), computed by go-difflib's SequenceMatcher.
//
// Parts much shorter than the password are skipped: a 3-letter name can't
// make a 40-character password guessable.
type SimilarityRule struct {
	MaxSimilarity float64
}

// Check fails passwords too close to any user attribute or part of one.
func (r SimilarityRule) Check(password string, attrs map[string]string) string {
	if len(attrs) == 0 || password == "" {
		return ""
	}

	pwd := splitChars(strings.ToLower(password))
	for _, name := range similarityAttributes {
		value := strings.ToLower(attrs[name])
		if value == "" {
			continue
		}

		parts := append(nonWord.Split(value, -1), value)
		for _, part := range parts {
			if r.exceedsLengthRatio(len(pwd), utf8.RuneCountInString(part)) {
				continue
			}
			m := difflib.NewMatcher(pwd, splitChars(part))
			if m.QuickRatio() >= r.MaxSimilarity {
				return fmt.Sprintf("The password is too similar to the %s.", name)
			}
		}
	}
	return ""
}

// exceedsLengthRatio reports whether a part is too short, relative to the
// password, for any similarity to matter.
func (r SimilarityRule) exceedsLengthRatio(pwdLen, partLen int) bool {
	bound := r.MaxSimilarity / 2 * float64(pwdLen)
	return pwdLen >= 10*partLen && float64(partLen) < bound
}

// splitChars turns a string into one element per rune, the sequence shape
// difflib.SequenceMatcher works on.
func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
