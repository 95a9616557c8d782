// Package identity derives stable, opaque user handles from email addresses.
//
// A handle is a SHA-256 digest over the normalized email, prefixed with a
// deployment namespace. It survives exchange credential rotation, is not
// reversible, and is the sole tenant key used by the storage layer.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultNamespace is the handle derivation namespace. Bumping it (with a
// data migration) rotates every handle in a deployment.
const DefaultNamespace = "fm-identity-v1"

// ErrInvalidEmail is returned when the input does not look like an email
// address.
var ErrInvalidEmail = errors.New("invalid email address")

// aliasDomains are domains whose local parts are dot-insensitive and
// support "+tag" suffixes. Addresses at these domains are collapsed to a
// canonical form so the same mailbox always maps to the same handle.
var aliasDomains = map[string]string{
	"gmail.com":      "gmail.com",
	"googlemail.com": "gmail.com",
}

// emailPattern is a simplified RFC 5322 shape check. Anything stricter
// rejects real-world addresses; anything looser admits garbage handles.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Deriver computes user handles for a fixed namespace.
type Deriver struct {
	namespace string
}

// NewDeriver creates a Deriver. An empty namespace selects DefaultNamespace.
func NewDeriver(namespace string) *Deriver {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Deriver{namespace: namespace}
}

// DeriveHandle maps an email address to its 64-hex-character user handle.
// The mapping is total, pure and deterministic: equal addresses under
// Normalize always produce the identical handle.
func (d *Deriver) DeriveHandle(email string) (string, error) {
	normalized, err := Normalize(email)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(d.namespace + ":" + normalized))
	return hex.EncodeToString(sum[:]), nil
}

// Namespace returns the namespace this deriver was constructed with.
func (d *Deriver) Namespace() string {
	return d.namespace
}

// Normalize canonicalizes an email address: surrounding whitespace is
// trimmed, the whole address is lowercased, and for alias-normalizing
// domains the local part is stripped of dots and "+tag" suffixes.
func Normalize(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if !ValidEmail(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, redact(email))
	}

	at := strings.LastIndex(trimmed, "@")
	local, domain := trimmed[:at], trimmed[at+1:]

	if canonical, ok := aliasDomains[domain]; ok {
		if plus := strings.Index(local, "+"); plus >= 0 {
			local = local[:plus]
		}
		local = strings.ReplaceAll(local, ".", "")
		domain = canonical
		if local == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidEmail, redact(email))
		}
	}

	return local + "@" + domain, nil
}

// ValidEmail reports whether s has a plausible email shape.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || !strings.Contains(s, "@") {
		return false
	}
	return emailPattern.MatchString(s)
}

// ValidHandle reports whether s is a well-formed user handle
// (exactly 64 lowercase hex characters).
func ValidHandle(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// redact shortens an invalid input for error messages so full addresses
// never end up in logs.
func redact(email string) string {
	email = strings.TrimSpace(email)
	if len(email) <= 3 {
		return email
	}
	return email[:3] + "..."
}
