/*
keycodec.go - Email to storage key mapping

PURPOSE:
  The record store forbids "." inside path segments, so every account is
  stored under a key derived from its email address. The mapping is pure
  and total: trim, lowercase, replace "." with ",".

EDGE CASES:
  - Empty input yields an empty key. Callers must reject it before use.
  - ToIdentifier is lossy when the email already contained ",".
    Such input never round-trips; this is accepted.

EXAMPLE:
  keycodec.ToKey(" Jane.Doe@Example.COM ")  // "jane,doe@example,com"
  keycodec.ToIdentifier("jane,doe@example,com") // "jane.doe@example.com"
*/
package keycodec

import "strings"

// ToKey maps a user identifier (email) to a storage-safe key.
func ToKey(id string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(id)), ".", ",")
}

// ToIdentifier reverses ToKey for keys produced from comma-free emails.
func ToIdentifier(key string) string {
	return strings.ReplaceAll(key, ",", ".")
}

// DisplayName returns the lowercased local part of an email, or "User" when
// there is none.
func DisplayName(email string) string {
	local, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(email)), "@")
	if local == "" {
		return "User"
	}
	return local
}
