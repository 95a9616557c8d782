package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/fortunamind/persistgate/internal/domain/subscription"
)

func TestSubscriptionLookupNormalizesEmail(t *testing.T) {
	s := NewSubscriptionStore()
	s.Put(&subscription.Record{
		Email:  "User.Name+tag@Gmail.com",
		Key:    "fm_sub_devkey123",
		Tier:   subscription.TierStarter,
		Status: subscription.StatusActive,
	})

	// Lookups are by normalized email, matching what the gateway derives.
	rec, err := s.Lookup(context.Background(), "username@gmail.com")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if rec.Tier != subscription.TierStarter {
		t.Errorf("Tier = %q", rec.Tier)
	}
}

func TestSubscriptionLookupMissing(t *testing.T) {
	s := NewSubscriptionStore()
	if _, err := s.Lookup(context.Background(), "nobody@example.com"); !errors.Is(err, subscription.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPermissiveStoreSeedsAllEmails(t *testing.T) {
	s := NewPermissiveStore("fm_sub_devkey123", subscription.TierEnterprise,
		"dev@example.com", "qa@example.com")

	for _, email := range []string{"dev@example.com", "qa@example.com"} {
		rec, err := s.Lookup(context.Background(), email)
		if err != nil {
			t.Fatalf("Lookup(%q) failed: %v", email, err)
		}
		if rec.Tier != subscription.TierEnterprise {
			t.Errorf("Tier = %q", rec.Tier)
		}
		if rec.Status != subscription.StatusActive {
			t.Errorf("Status = %q", rec.Status)
		}
	}
}

func TestRemove(t *testing.T) {
	s := NewSubscriptionStore()
	s.Put(&subscription.Record{Email: "user@example.com", Key: "fm_sub_devkey123", Tier: subscription.TierFree, Status: subscription.StatusActive})
	s.Remove("user@example.com")
	if _, err := s.Lookup(context.Background(), "user@example.com"); !errors.Is(err, subscription.ErrNotFound) {
		t.Errorf("expected ErrNotFound after Remove, got %v", err)
	}
}
