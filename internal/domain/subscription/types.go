package subscription

import (
	"errors"
	"strings"
	"time"
)

// KeyPrefix is the required prefix of every subscription key.
const KeyPrefix = "fm_sub_"

// minKeyBodyLen is the minimum length of the key body after the prefix.
const minKeyBodyLen = 8

// Status is the lifecycle state of a subscription record.
type Status string

const (
	StatusActive  Status = "active"
	StatusGrace   Status = "grace"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Record is a subscription as stored in the registry. The key itself is
// kept only long enough to compare; it is never logged or persisted by
// this package.
type Record struct {
	Email      string
	Key        string
	Tier       Tier
	Status     Status
	ExpiresAt  time.Time
	GraceUntil time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Reason explains why a validation produced its result.
type Reason string

const (
	ReasonValid              Reason = "valid"
	ReasonMalformedKey       Reason = "malformed_key"
	ReasonNotFound           Reason = "not_found"
	ReasonKeyMismatch        Reason = "key_mismatch"
	ReasonRevoked            Reason = "revoked"
	ReasonExpired            Reason = "expired"
	ReasonBackendUnavailable Reason = "backend_unavailable"
)

// ValidationResult is the outcome of checking an (email, key) pair
// against the registry.
type ValidationResult struct {
	Valid      bool
	Tier       Tier
	Reason     Reason
	GraceUntil time.Time
	CheckedAt  time.Time
}

// ErrStoreUnavailable signals that the subscription registry could not be
// reached. Callers must not treat it as a definitive denial.
var ErrStoreUnavailable = errors.New("subscription store unavailable")

// ErrNotFound signals that no subscription exists for the given email.
var ErrNotFound = errors.New("subscription not found")

// ValidKeyFormat reports whether key has the required shape: the
// KeyPrefix followed by at least eight URL-safe characters. Format
// checking happens before any registry lookup so malformed keys never
// generate backend traffic.
func ValidKeyFormat(key string) bool {
	if !strings.HasPrefix(key, KeyPrefix) {
		return false
	}
	body := key[len(KeyPrefix):]
	if len(body) < minKeyBodyLen {
		return false
	}
	for _, c := range body {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
