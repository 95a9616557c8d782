package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fortunamind/persistgate/internal/domain/storage"
)

func TestJournalRoundTrip(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	stored, err := s.StoreJournalEntry(ctx, "handle-a", storage.JournalEntry{
		Title:   "First trade",
		Content: "Bought BTC at 60k",
		Symbol:  "BTC-USD",
		Tags:    []string{"btc", "entry"},
	})
	if err != nil {
		t.Fatalf("StoreJournalEntry failed: %v", err)
	}
	if stored.ID == "" {
		t.Fatal("expected generated id")
	}
	if stored.CreatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	got, err := s.GetJournalEntry(ctx, "handle-a", stored.ID)
	if err != nil {
		t.Fatalf("GetJournalEntry failed: %v", err)
	}
	if got.Content != "Bought BTC at 60k" {
		t.Errorf("Content = %q", got.Content)
	}
}

func TestTenantIsolation(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	stored, _ := s.StoreJournalEntry(ctx, "handle-a", storage.JournalEntry{Content: "private"})
	s.SetPreference(ctx, "handle-a", storage.Preference{Key: "theme", Value: json.RawMessage(`"dark"`)})
	s.StoreRecord(ctx, "handle-a", storage.Record{RecordType: "watchlist", RecordKey: "main", Data: json.RawMessage(`[]`)})

	// Another handle must see none of it, and its absence must be
	// indistinguishable from a missing row.
	if _, err := s.GetJournalEntry(ctx, "handle-b", stored.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cross-tenant journal read: %v, want ErrNotFound", err)
	}
	if _, err := s.GetPreference(ctx, "handle-b", "theme"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cross-tenant preference read: %v, want ErrNotFound", err)
	}
	if _, err := s.GetRecord(ctx, "handle-b", "watchlist", "main"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cross-tenant record read: %v, want ErrNotFound", err)
	}
	if err := s.DeleteJournalEntry(ctx, "handle-b", stored.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cross-tenant delete: %v, want ErrNotFound", err)
	}

	entries, _ := s.GetJournalEntries(ctx, "handle-b", storage.JournalFilter{})
	if len(entries) != 0 {
		t.Errorf("cross-tenant listing returned %d entries", len(entries))
	}

	// Original owner still sees everything.
	if _, err := s.GetJournalEntry(ctx, "handle-a", stored.ID); err != nil {
		t.Errorf("owner read failed: %v", err)
	}
}

func TestJournalFilterAndOrder(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewStorage().WithClock(func() time.Time { return now })
	ctx := context.Background()

	s.StoreJournalEntry(ctx, "h", storage.JournalEntry{Content: "a", Symbol: "BTC-USD", EntryType: "trade"})
	now = now.Add(time.Minute)
	s.StoreJournalEntry(ctx, "h", storage.JournalEntry{Content: "b", Symbol: "ETH-USD", EntryType: "trade"})
	now = now.Add(time.Minute)
	s.StoreJournalEntry(ctx, "h", storage.JournalEntry{Content: "c", Symbol: "BTC-USD", EntryType: "note", Tags: []string{"idea"}})

	all, _ := s.GetJournalEntries(ctx, "h", storage.JournalFilter{})
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Content != "c" {
		t.Errorf("expected newest first, got %q", all[0].Content)
	}

	btc, _ := s.GetJournalEntries(ctx, "h", storage.JournalFilter{Symbol: "BTC-USD"})
	if len(btc) != 2 {
		t.Errorf("symbol filter returned %d entries, want 2", len(btc))
	}

	tagged, _ := s.GetJournalEntries(ctx, "h", storage.JournalFilter{Tag: "idea"})
	if len(tagged) != 1 || tagged[0].Content != "c" {
		t.Errorf("tag filter returned %v", tagged)
	}

	limited, _ := s.GetJournalEntries(ctx, "h", storage.JournalFilter{Limit: 1, Offset: 1})
	if len(limited) != 1 || limited[0].Content != "b" {
		t.Errorf("limit/offset returned %v", limited)
	}
}

func TestUpdateJournalEntry(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	stored, _ := s.StoreJournalEntry(ctx, "h", storage.JournalEntry{Content: "before", Symbol: "BTC-USD"})

	updated, err := s.UpdateJournalEntry(ctx, "h", storage.JournalEntry{ID: stored.ID, Content: "after"})
	if err != nil {
		t.Fatalf("UpdateJournalEntry failed: %v", err)
	}
	if updated.Content != "after" {
		t.Errorf("Content = %q", updated.Content)
	}
	if updated.Symbol != "BTC-USD" {
		t.Errorf("unset fields must be preserved, Symbol = %q", updated.Symbol)
	}

	if _, err := s.UpdateJournalEntry(ctx, "h", storage.JournalEntry{ID: "missing"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing id, got %v", err)
	}
}

func TestPreferenceUpsert(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	s.SetPreference(ctx, "h", storage.Preference{Key: "theme", Value: json.RawMessage(`"dark"`)})
	s.SetPreference(ctx, "h", storage.Preference{Key: "theme", Value: json.RawMessage(`"light"`)})
	s.SetPreference(ctx, "h", storage.Preference{Key: "currency", Value: json.RawMessage(`"USD"`)})

	p, err := s.GetPreference(ctx, "h", "theme")
	if err != nil {
		t.Fatalf("GetPreference failed: %v", err)
	}
	if string(p.Value) != `"light"` {
		t.Errorf("upsert did not replace value, got %s", p.Value)
	}

	all, _ := s.GetPreferences(ctx, "h")
	if len(all) != 2 {
		t.Errorf("expected 2 preferences, got %d", len(all))
	}
	if all[0].Key != "currency" {
		t.Errorf("expected sorted keys, first = %q", all[0].Key)
	}
}

func TestRecordExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewStorage().WithClock(func() time.Time { return now })
	ctx := context.Background()

	expires := now.Add(time.Hour)
	s.StoreRecord(ctx, "h", storage.Record{
		RecordType: "cache", RecordKey: "quote",
		Data: json.RawMessage(`{}`), ExpiresAt: &expires,
	})

	if _, err := s.GetRecord(ctx, "h", "cache", "quote"); err != nil {
		t.Fatalf("fresh record should be readable: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := s.GetRecord(ctx, "h", "cache", "quote"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expired record should read as missing, got %v", err)
	}

	removed, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("CleanupExpired removed %d, want 1", removed)
	}
}

func TestGetRecordsPrefixFilter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewStorage().WithClock(func() time.Time { return now })
	ctx := context.Background()

	s.StoreRecord(ctx, "h", storage.Record{RecordType: "watchlist", RecordKey: "crypto/btc", Data: json.RawMessage(`{}`)})
	s.StoreRecord(ctx, "h", storage.Record{RecordType: "watchlist", RecordKey: "crypto/eth", Data: json.RawMessage(`{}`)})
	s.StoreRecord(ctx, "h", storage.Record{RecordType: "watchlist", RecordKey: "stocks/aapl", Data: json.RawMessage(`{}`)})
	s.StoreRecord(ctx, "h", storage.Record{RecordType: "cache", RecordKey: "crypto/btc", Data: json.RawMessage(`{}`)})
	expired := now.Add(-time.Minute)
	s.StoreRecord(ctx, "h", storage.Record{RecordType: "watchlist", RecordKey: "crypto/old", Data: json.RawMessage(`{}`), ExpiresAt: &expired})

	all, err := s.GetRecords(ctx, "h", "watchlist", "")
	if err != nil {
		t.Fatalf("GetRecords failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 live watchlist records, got %d", len(all))
	}

	crypto, _ := s.GetRecords(ctx, "h", "watchlist", "crypto/")
	if len(crypto) != 2 {
		t.Fatalf("expected 2 crypto records, got %d", len(crypto))
	}
	if crypto[0].RecordKey != "crypto/btc" {
		t.Errorf("expected key-sorted output, first = %q", crypto[0].RecordKey)
	}

	other, _ := s.GetRecords(ctx, "other-handle", "watchlist", "")
	if len(other) != 0 {
		t.Errorf("foreign handle must see nothing, got %d records", len(other))
	}
}

func TestEnforceRetentionCutoff(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewStorage().WithClock(func() time.Time { return now })
	ctx := context.Background()

	s.StoreJournalEntry(ctx, "h", storage.JournalEntry{Content: "old"})
	now = now.Add(48 * time.Hour)
	s.StoreJournalEntry(ctx, "h", storage.JournalEntry{Content: "recent"})
	s.StoreJournalEntry(ctx, "other", storage.JournalEntry{Content: "old elsewhere"})

	removed, err := s.EnforceRetention(ctx, "h", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("EnforceRetention failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	left, _ := s.GetJournalEntries(ctx, "h", storage.JournalFilter{})
	if len(left) != 1 || left[0].Content != "recent" {
		t.Errorf("expected only the recent entry to survive, got %v", left)
	}
	other, _ := s.GetJournalEntries(ctx, "other", storage.JournalFilter{})
	if len(other) != 1 {
		t.Errorf("other handle's entries must be untouched, got %d", len(other))
	}
}

func TestRecordUpsertKeepsIdentity(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	first, _ := s.StoreRecord(ctx, "h", storage.Record{RecordType: "watchlist", RecordKey: "main", Data: json.RawMessage(`["BTC"]`)})
	second, _ := s.StoreRecord(ctx, "h", storage.Record{RecordType: "watchlist", RecordKey: "main", Data: json.RawMessage(`["BTC","ETH"]`)})

	if first.ID != second.ID {
		t.Error("upsert must keep the original record id")
	}
	got, _ := s.GetRecord(ctx, "h", "watchlist", "main")
	if string(got.Data) != `["BTC","ETH"]` {
		t.Errorf("Data = %s", got.Data)
	}
}

func TestUserStats(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	s.StoreJournalEntry(ctx, "h", storage.JournalEntry{Content: "0123456789"})
	s.SetPreference(ctx, "h", storage.Preference{Key: "k", Value: json.RawMessage(`"v"`)})

	stats, err := s.GetUserStats(ctx, "h")
	if err != nil {
		t.Fatalf("GetUserStats failed: %v", err)
	}
	if stats.JournalEntries != 1 || stats.Preferences != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.StorageBytes == 0 {
		t.Error("expected nonzero storage bytes")
	}

	empty, _ := s.GetUserStats(ctx, "nobody")
	if empty.JournalEntries != 0 || empty.StorageBytes != 0 {
		t.Errorf("unknown handle stats = %+v", empty)
	}
}
