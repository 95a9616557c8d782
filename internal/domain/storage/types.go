// Package storage defines the persistent data model and the backend port.
// Every row is keyed by the opaque user handle; raw emails never reach
// this layer except inside the subscription registry.
package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested row does not exist or
// belongs to a different user handle. The two cases are deliberately
// indistinguishable.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a uniqueness constraint is violated.
var ErrConflict = errors.New("record already exists")

// ErrUnavailable is returned when the backend cannot be reached.
var ErrUnavailable = errors.New("storage backend unavailable")

// ErrQuotaExceeded is returned when a write would exceed the user's tier
// allowance for entries or bytes.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// JournalEntry is one trading journal record.
type JournalEntry struct {
	ID         string          `json:"id"`
	UserHandle string          `json:"-"`
	Title      string          `json:"title,omitempty"`
	Content    string          `json:"content"`
	EntryType  string          `json:"entry_type,omitempty"`
	Symbol     string          `json:"symbol,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// JournalFilter narrows journal listings. Zero values mean no filter.
type JournalFilter struct {
	EntryType string
	Symbol    string
	Tag       string
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// Preference is one user setting. Values are arbitrary JSON.
type Preference struct {
	UserHandle string          `json:"-"`
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Record is a generic typed blob with optional expiry, used by tools that
// need persistence beyond the journal and preferences.
type Record struct {
	ID         string          `json:"id"`
	UserHandle string          `json:"-"`
	RecordType string          `json:"record_type"`
	RecordKey  string          `json:"record_key"`
	Data       json.RawMessage `json:"data"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// UserStats summarizes one user's stored footprint.
type UserStats struct {
	JournalEntries int       `json:"journal_entries"`
	EntriesMonth   int       `json:"entries_this_month"`
	Preferences    int       `json:"preferences"`
	Records        int       `json:"records"`
	StorageBytes   int64     `json:"storage_bytes"`
	OldestEntry    time.Time `json:"oldest_entry,omitempty"`
	NewestEntry    time.Time `json:"newest_entry,omitempty"`
}
