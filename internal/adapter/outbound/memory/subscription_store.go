package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fortunamind/persistgate/internal/domain/identity"
	"github.com/fortunamind/persistgate/internal/domain/subscription"
)

// SubscriptionStore implements subscription.Store from a static map.
// Used in development mode and tests; records are seeded at construction
// or added later with Put.
type SubscriptionStore struct {
	mu      sync.RWMutex
	records map[string]*subscription.Record
}

// NewSubscriptionStore creates an empty in-memory registry.
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{records: make(map[string]*subscription.Record)}
}

// NewPermissiveStore creates a registry that accepts a fixed development
// key for the given emails at the given tier. Keys expire far in the
// future so local sessions never hit renewal paths.
func NewPermissiveStore(key string, tier subscription.Tier, emails ...string) *SubscriptionStore {
	s := NewSubscriptionStore()
	for _, email := range emails {
		s.Put(&subscription.Record{
			Email:     email,
			Key:       key,
			Tier:      tier,
			Status:    subscription.StatusActive,
			ExpiresAt: time.Now().Add(10 * 365 * 24 * time.Hour),
		})
	}
	return s
}

// Put inserts or replaces a record. The email is normalized so lookups
// by normalized email always match.
func (s *SubscriptionStore) Put(rec *subscription.Record) {
	email := rec.Email
	if normalized, err := identity.Normalize(email); err == nil {
		email = normalized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.Email = email
	s.records[email] = &cp
}

// Remove deletes a record by email.
func (s *SubscriptionStore) Remove(email string) {
	if normalized, err := identity.Normalize(email); err == nil {
		email = normalized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, email)
}

// Lookup implements subscription.Store.
func (s *SubscriptionStore) Lookup(_ context.Context, email string) (*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[email]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// All returns every subscription record, for the retention sweep.
func (s *SubscriptionStore) All(context.Context) ([]subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]subscription.Record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, *rec)
	}
	return recs, nil
}

// Health implements subscription.Store.
func (s *SubscriptionStore) Health(context.Context) error { return nil }

// Compile-time interface verification.
var _ subscription.Store = (*SubscriptionStore)(nil)
