package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fortunamind/persistgate/internal/domain/subscription"
)

// SubscriptionStore implements subscription.Store on the
// user_subscriptions table. Lookups are by normalized email; rows are
// written by the billing pipeline, not by this service, except for the
// Upsert helper used by the admin CLI.
type SubscriptionStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSubscriptionStore wraps an existing pool.
func NewSubscriptionStore(db *sql.DB, logger *slog.Logger) *SubscriptionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionStore{db: db, logger: logger.With("component", "postgres_subscriptions")}
}

// Lookup implements subscription.Store.
func (s *SubscriptionStore) Lookup(ctx context.Context, email string) (*subscription.Record, error) {
	var (
		rec        subscription.Record
		tier       string
		status     string
		expiresAt  sql.NullTime
		graceUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT email, subscription_key, tier, status, expires_at, grace_until, created_at, updated_at
		FROM user_subscriptions
		WHERE email = $1`,
		email).Scan(&rec.Email, &rec.Key, &tier, &status, &expiresAt, &graceUntil, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", subscription.ErrStoreUnavailable, err)
	}

	rec.Tier = subscription.Tier(tier)
	rec.Status = subscription.Status(status)
	if expiresAt.Valid {
		rec.ExpiresAt = expiresAt.Time
	}
	if graceUntil.Valid {
		rec.GraceUntil = graceUntil.Time
	}
	return &rec, nil
}

// Upsert inserts or replaces a subscription row. Used by the admin CLI
// and tests.
func (s *SubscriptionStore) Upsert(ctx context.Context, rec *subscription.Record) error {
	var expires, grace interface{}
	if !rec.ExpiresAt.IsZero() {
		expires = rec.ExpiresAt
	}
	if !rec.GraceUntil.IsZero() {
		grace = rec.GraceUntil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_subscriptions (email, subscription_key, tier, status, expires_at, grace_until, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (email) DO UPDATE SET
			subscription_key = EXCLUDED.subscription_key,
			tier = EXCLUDED.tier,
			status = EXCLUDED.status,
			expires_at = EXCLUDED.expires_at,
			grace_until = EXCLUDED.grace_until,
			updated_at = now()`,
		rec.Email, rec.Key, string(rec.Tier), string(rec.Status), expires, grace)
	if err != nil {
		return fmt.Errorf("%w: %v", subscription.ErrStoreUnavailable, err)
	}
	return nil
}

// All returns every subscription row, for the retention sweep. Keys stay
// in the records; callers must not log or serialize them.
func (s *SubscriptionStore) All(ctx context.Context) ([]subscription.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, subscription_key, tier, status, expires_at, grace_until, created_at, updated_at
		FROM user_subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", subscription.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var recs []subscription.Record
	for rows.Next() {
		var (
			rec        subscription.Record
			tier       string
			status     string
			expiresAt  sql.NullTime
			graceUntil sql.NullTime
		)
		if err := rows.Scan(&rec.Email, &rec.Key, &tier, &status, &expiresAt, &graceUntil, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", subscription.ErrStoreUnavailable, err)
		}
		rec.Tier = subscription.Tier(tier)
		rec.Status = subscription.Status(status)
		if expiresAt.Valid {
			rec.ExpiresAt = expiresAt.Time
		}
		if graceUntil.Valid {
			rec.GraceUntil = graceUntil.Time
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", subscription.ErrStoreUnavailable, err)
	}
	return recs, nil
}

// Health implements subscription.Store.
func (s *SubscriptionStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", subscription.ErrStoreUnavailable, err)
	}
	return nil
}

// Compile-time interface verification.
var _ subscription.Store = (*SubscriptionStore)(nil)
