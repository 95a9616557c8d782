package storage

import (
	"context"
	"time"
)

// Backend is the outbound port to persistent storage. Every method takes
// the caller's user handle and must scope reads and writes to it; a row
// owned by another handle behaves exactly like a missing row.
type Backend interface {
	// StoreJournalEntry persists a new entry and returns it with its
	// generated id and timestamps.
	StoreJournalEntry(ctx context.Context, handle string, entry JournalEntry) (*JournalEntry, error)

	// GetJournalEntries lists the handle's entries, newest first.
	GetJournalEntries(ctx context.Context, handle string, filter JournalFilter) ([]JournalEntry, error)

	// GetJournalEntry fetches one entry by id.
	GetJournalEntry(ctx context.Context, handle, id string) (*JournalEntry, error)

	// UpdateJournalEntry overwrites an entry's mutable fields.
	UpdateJournalEntry(ctx context.Context, handle string, entry JournalEntry) (*JournalEntry, error)

	// DeleteJournalEntry removes an entry. Below the enterprise tier
	// backends may soft delete to honor retention windows.
	DeleteJournalEntry(ctx context.Context, handle, id string) error

	// SetPreference upserts one preference key.
	SetPreference(ctx context.Context, handle string, pref Preference) error

	// GetPreference fetches one preference by key.
	GetPreference(ctx context.Context, handle, key string) (*Preference, error)

	// GetPreferences lists all of the handle's preferences.
	GetPreferences(ctx context.Context, handle string) ([]Preference, error)

	// StoreRecord upserts a typed blob keyed by (record_type, record_key).
	StoreRecord(ctx context.Context, handle string, rec Record) (*Record, error)

	// GetRecord fetches one blob by type and key.
	GetRecord(ctx context.Context, handle, recordType, recordKey string) (*Record, error)

	// GetRecords lists the handle's blobs of one type, optionally
	// narrowed to keys starting with keyPrefix. Expired rows are skipped.
	GetRecords(ctx context.Context, handle, recordType, keyPrefix string) ([]Record, error)

	// DeleteRecord removes one blob.
	DeleteRecord(ctx context.Context, handle, recordType, recordKey string) error

	// GetUserStats summarizes the handle's stored footprint.
	GetUserStats(ctx context.Context, handle string) (*UserStats, error)

	// CleanupExpired purges records whose expiry has passed. Returns the
	// number of rows removed.
	CleanupExpired(ctx context.Context) (int64, error)

	// EnforceRetention removes the handle's journal entries created
	// before cutoff. Returns the number of entries removed.
	EnforceRetention(ctx context.Context, handle string, cutoff time.Time) (int64, error)

	// Health probes backend connectivity.
	Health(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
