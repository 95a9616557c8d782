// Package memory provides in-memory implementations of outbound ports.
// Thread-safe, for development and testing. Data does not survive a
// restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fortunamind/persistgate/internal/domain/storage"
)

// Storage implements storage.Backend with per-handle maps. Handle
// scoping is structural: every lookup goes through the caller's own
// bucket, so cross-tenant reads are impossible by construction.
type Storage struct {
	mu    sync.RWMutex
	users map[string]*userData
	clock func() time.Time
}

type userData struct {
	journal     map[string]storage.JournalEntry
	preferences map[string]storage.Preference
	records     map[string]storage.Record // keyed by recordType + "\x00" + recordKey
}

// NewStorage creates an empty in-memory backend.
func NewStorage() *Storage {
	return &Storage{
		users: make(map[string]*userData),
		clock: time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Storage) WithClock(clock func() time.Time) *Storage {
	s.clock = clock
	return s
}

func (s *Storage) bucket(handle string) *userData {
	u, ok := s.users[handle]
	if !ok {
		u = &userData{
			journal:     make(map[string]storage.JournalEntry),
			preferences: make(map[string]storage.Preference),
			records:     make(map[string]storage.Record),
		}
		s.users[handle] = u
	}
	return u
}

func recordKey(recordType, key string) string {
	return recordType + "\x00" + key
}

// StoreJournalEntry implements storage.Backend.
func (s *Storage) StoreJournalEntry(_ context.Context, handle string, entry storage.JournalEntry) (*storage.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	entry.ID = uuid.NewString()
	entry.UserHandle = handle
	entry.CreatedAt = now
	entry.UpdatedAt = now

	s.bucket(handle).journal[entry.ID] = entry
	return &entry, nil
}

// GetJournalEntries implements storage.Backend.
func (s *Storage) GetJournalEntries(_ context.Context, handle string, filter storage.JournalFilter) ([]storage.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[handle]
	if !ok {
		return nil, nil
	}

	entries := make([]storage.JournalEntry, 0, len(u.journal))
	for _, e := range u.journal {
		if !matchesFilter(e, filter) {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[filter.Offset:]
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

func matchesFilter(e storage.JournalEntry, f storage.JournalFilter) bool {
	if f.EntryType != "" && e.EntryType != f.EntryType {
		return false
	}
	if f.Symbol != "" && e.Symbol != f.Symbol {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, tag := range e.Tags {
			if tag == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

// GetJournalEntry implements storage.Backend.
func (s *Storage) GetJournalEntry(_ context.Context, handle, id string) (*storage.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[handle]
	if !ok {
		return nil, storage.ErrNotFound
	}
	e, ok := u.journal[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &e, nil
}

// UpdateJournalEntry implements storage.Backend.
func (s *Storage) UpdateJournalEntry(_ context.Context, handle string, entry storage.JournalEntry) (*storage.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[handle]
	if !ok {
		return nil, storage.ErrNotFound
	}
	existing, ok := u.journal[entry.ID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	if entry.Title != "" {
		existing.Title = entry.Title
	}
	if entry.Content != "" {
		existing.Content = entry.Content
	}
	if entry.EntryType != "" {
		existing.EntryType = entry.EntryType
	}
	if entry.Symbol != "" {
		existing.Symbol = entry.Symbol
	}
	if entry.Tags != nil {
		existing.Tags = entry.Tags
	}
	if entry.Metadata != nil {
		existing.Metadata = entry.Metadata
	}
	existing.UpdatedAt = s.clock()

	u.journal[entry.ID] = existing
	return &existing, nil
}

// DeleteJournalEntry implements storage.Backend.
func (s *Storage) DeleteJournalEntry(_ context.Context, handle, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[handle]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := u.journal[id]; !ok {
		return storage.ErrNotFound
	}
	delete(u.journal, id)
	return nil
}

// SetPreference implements storage.Backend.
func (s *Storage) SetPreference(_ context.Context, handle string, pref storage.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pref.UserHandle = handle
	pref.UpdatedAt = s.clock()
	s.bucket(handle).preferences[pref.Key] = pref
	return nil
}

// GetPreference implements storage.Backend.
func (s *Storage) GetPreference(_ context.Context, handle, key string) (*storage.Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[handle]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p, ok := u.preferences[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

// GetPreferences implements storage.Backend.
func (s *Storage) GetPreferences(_ context.Context, handle string) ([]storage.Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[handle]
	if !ok {
		return nil, nil
	}
	prefs := make([]storage.Preference, 0, len(u.preferences))
	for _, p := range u.preferences {
		prefs = append(prefs, p)
	}
	sort.Slice(prefs, func(i, j int) bool { return prefs[i].Key < prefs[j].Key })
	return prefs, nil
}

// StoreRecord implements storage.Backend.
func (s *Storage) StoreRecord(_ context.Context, handle string, rec storage.Record) (*storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	u := s.bucket(handle)
	k := recordKey(rec.RecordType, rec.RecordKey)

	if existing, ok := u.records[k]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.ID = uuid.NewString()
		rec.CreatedAt = now
	}
	rec.UserHandle = handle
	rec.UpdatedAt = now

	u.records[k] = rec
	return &rec, nil
}

// GetRecord implements storage.Backend.
func (s *Storage) GetRecord(_ context.Context, handle, recordType, key string) (*storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[handle]
	if !ok {
		return nil, storage.ErrNotFound
	}
	r, ok := u.records[recordKey(recordType, key)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if r.ExpiresAt != nil && s.clock().After(*r.ExpiresAt) {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

// GetRecords implements storage.Backend.
func (s *Storage) GetRecords(_ context.Context, handle, recordType, keyPrefix string) ([]storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[handle]
	if !ok {
		return nil, nil
	}
	now := s.clock()
	var recs []storage.Record
	for _, r := range u.records {
		if r.RecordType != recordType {
			continue
		}
		if keyPrefix != "" && !strings.HasPrefix(r.RecordKey, keyPrefix) {
			continue
		}
		if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
			continue
		}
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].RecordKey < recs[j].RecordKey })
	return recs, nil
}

// DeleteRecord implements storage.Backend.
func (s *Storage) DeleteRecord(_ context.Context, handle, recordType, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[handle]
	if !ok {
		return storage.ErrNotFound
	}
	k := recordKey(recordType, key)
	if _, ok := u.records[k]; !ok {
		return storage.ErrNotFound
	}
	delete(u.records, k)
	return nil
}

// GetUserStats implements storage.Backend.
func (s *Storage) GetUserStats(_ context.Context, handle string) (*storage.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.UserStats{}
	u, ok := s.users[handle]
	if !ok {
		return stats, nil
	}

	stats.JournalEntries = len(u.journal)
	stats.Preferences = len(u.preferences)
	stats.Records = len(u.records)

	now := s.clock().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var bytes int64
	for _, e := range u.journal {
		if !e.CreatedAt.Before(monthStart) {
			stats.EntriesMonth++
		}
		bytes += int64(len(e.Content) + len(e.Title) + len(e.Metadata))
		if stats.OldestEntry.IsZero() || e.CreatedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = e.CreatedAt
		}
		if e.CreatedAt.After(stats.NewestEntry) {
			stats.NewestEntry = e.CreatedAt
		}
	}
	for _, p := range u.preferences {
		bytes += int64(len(p.Key) + len(p.Value))
	}
	for _, r := range u.records {
		bytes += int64(len(r.Data))
	}
	stats.StorageBytes = bytes
	return stats, nil
}

// CleanupExpired implements storage.Backend.
func (s *Storage) CleanupExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var removed int64
	for _, u := range s.users {
		for k, r := range u.records {
			if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
				delete(u.records, k)
				removed++
			}
		}
	}
	return removed, nil
}

// EnforceRetention implements storage.Backend.
func (s *Storage) EnforceRetention(_ context.Context, handle string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[handle]
	if !ok {
		return 0, nil
	}
	var removed int64
	for id, e := range u.journal {
		if e.CreatedAt.Before(cutoff) {
			delete(u.journal, id)
			removed++
		}
	}
	return removed, nil
}

// Health implements storage.Backend.
func (s *Storage) Health(context.Context) error { return nil }

// Close implements storage.Backend.
func (s *Storage) Close() error { return nil }

// Compile-time interface verification.
var _ storage.Backend = (*Storage)(nil)
