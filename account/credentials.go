package account

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Credentials decides how a password is stored and checked.
type Credentials interface {
	// Seal returns the value written to the record's password field.
	Seal(password string) (string, error)

	// Verify reports whether supplied matches the stored value.
	Verify(stored, supplied string) bool
}

const bcryptPrefix = "bcrypt:"

// PlaintextCredentials stores the password as typed and compares it
// byte-for-byte. This is the historical behavior and a known weakness;
// it stays the default so existing records keep working.
type PlaintextCredentials struct{}

func (PlaintextCredentials) Seal(password string) (string, error) {
	return password, nil
}

// Verify accepts an exact match first, so a password that happens to start
// with "bcrypt:" still logs in, then a hash written by BcryptCredentials.
func (PlaintextCredentials) Verify(stored, supplied string) bool {
	if stored == supplied {
		return true
	}
	matched, _ := compareHash(stored, supplied)
	return matched
}

// BcryptCredentials stores "bcrypt:<hash>". Records written before hashing
// was enabled still log in with their plaintext value.
type BcryptCredentials struct {
	Cost int // zero means bcrypt.DefaultCost
}

func (b BcryptCredentials) Seal(password string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return bcryptPrefix + string(hash), nil
}

// Verify never accepts the stored hash itself as a password. Values that
// are not a well-formed hash are legacy plaintext and compare exactly.
func (BcryptCredentials) Verify(stored, supplied string) bool {
	matched, isHash := compareHash(stored, supplied)
	if isHash {
		return matched
	}
	return stored == supplied
}

// compareHash checks supplied against a "bcrypt:<hash>" value. isHash is
// false when stored is not a well-formed bcrypt hash.
func compareHash(stored, supplied string) (matched, isHash bool) {
	hash, ok := strings.CutPrefix(stored, bcryptPrefix)
	if !ok {
		return false, false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(supplied))
	switch {
	case err == nil:
		return true, true
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, true
	default:
		return false, false
	}
}

// CredentialsFor maps the auth.credentials setting to a policy.
func CredentialsFor(name string) (Credentials, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "plaintext":
		return PlaintextCredentials{}, nil
	case "bcrypt":
		return BcryptCredentials{}, nil
	default:
		return nil, fmt.Errorf("unknown credential policy %q", name)
	}
}
