package subscription

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// cacheShards spreads cache entries over independent locks.
	cacheShards = 16

	// maxEntriesPerShard bounds memory. On overflow the shard drops its
	// expired entries first, then evicts arbitrarily.
	maxEntriesPerShard = 1024

	defaultPositiveTTL = 5 * time.Minute
	defaultNegativeTTL = 30 * time.Second
)

type cacheEntry struct {
	result    ValidationResult
	expiresAt time.Time
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// Validator checks (email, key) pairs against the subscription registry
// and caches the outcome so repeated requests within the TTL cost a single
// registry round trip. Registry outages are never cached.
type Validator struct {
	store       Store
	logger      *slog.Logger
	positiveTTL time.Duration
	negativeTTL time.Duration
	clock       func() time.Time

	shards [cacheShards]*cacheShard

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithPositiveTTL overrides how long successful validations are cached.
func WithPositiveTTL(d time.Duration) ValidatorOption {
	return func(v *Validator) { v.positiveTTL = d }
}

// WithNegativeTTL overrides how long definitive denials are cached.
func WithNegativeTTL(d time.Duration) ValidatorOption {
	return func(v *Validator) { v.negativeTTL = d }
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) ValidatorOption {
	return func(v *Validator) { v.clock = clock }
}

// NewValidator creates a Validator backed by store.
func NewValidator(store Store, logger *slog.Logger, opts ...ValidatorOption) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{
		store:       store,
		logger:      logger.With("component", "subscription_validator"),
		positiveTTL: defaultPositiveTTL,
		negativeTTL: defaultNegativeTTL,
		clock:       time.Now,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for i := range v.shards {
		v.shards[i] = &cacheShard{entries: make(map[string]cacheEntry)}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks the presented key against the registry record for the
// normalized email. The presented key never appears in logs, errors or
// cache keys; only its digest is used for caching.
func (v *Validator) Validate(ctx context.Context, email, key string) ValidationResult {
	now := v.clock()

	if !ValidKeyFormat(key) {
		// Malformed keys are rejected before any lookup or caching.
		return ValidationResult{Valid: false, Reason: ReasonMalformedKey, CheckedAt: now}
	}

	cacheKey := email + ":" + keyDigest(key)
	if cached, ok := v.cacheGet(cacheKey, now); ok {
		return cached
	}

	result := v.validateUncached(ctx, email, key, now)

	// Outages must not poison the cache: the next request retries the
	// registry instead of replaying a stale denial.
	if result.Reason != ReasonBackendUnavailable {
		ttl := v.negativeTTL
		if result.Valid {
			ttl = v.positiveTTL
		}
		v.cachePut(cacheKey, result, now.Add(ttl))
	}
	return result
}

func (v *Validator) validateUncached(ctx context.Context, email, key string, now time.Time) ValidationResult {
	rec, err := v.store.Lookup(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ValidationResult{Valid: false, Reason: ReasonNotFound, CheckedAt: now}
		}
		v.logger.Warn("subscription registry lookup failed", "error", err)
		return ValidationResult{Valid: false, Reason: ReasonBackendUnavailable, CheckedAt: now}
	}

	if subtle.ConstantTimeCompare([]byte(rec.Key), []byte(key)) != 1 {
		return ValidationResult{Valid: false, Reason: ReasonKeyMismatch, CheckedAt: now}
	}

	switch rec.Status {
	case StatusRevoked:
		return ValidationResult{Valid: false, Reason: ReasonRevoked, CheckedAt: now}
	case StatusExpired:
		return ValidationResult{Valid: false, Reason: ReasonExpired, CheckedAt: now}
	case StatusGrace:
		if !rec.GraceUntil.IsZero() && now.After(rec.GraceUntil) {
			return ValidationResult{Valid: false, Reason: ReasonExpired, CheckedAt: now}
		}
		return ValidationResult{
			Valid:      true,
			Tier:       rec.Tier,
			Reason:     ReasonValid,
			GraceUntil: rec.GraceUntil,
			CheckedAt:  now,
		}
	}

	if !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt) {
		return ValidationResult{Valid: false, Reason: ReasonExpired, CheckedAt: now}
	}

	return ValidationResult{Valid: true, Tier: rec.Tier, Reason: ReasonValid, CheckedAt: now}
}

// Invalidate drops all cached results for the email, forcing the next
// request through to the registry. Used after admin-side subscription
// changes.
func (v *Validator) Invalidate(email string) {
	prefix := email + ":"
	for _, shard := range v.shards {
		shard.mu.Lock()
		for k := range shard.entries {
			if len(k) > len(prefix) && k[:len(prefix)] == prefix {
				delete(shard.entries, k)
			}
		}
		shard.mu.Unlock()
	}
}

// StartCleanup launches a background goroutine that drops expired cache
// entries at the given interval. Call Stop to terminate it. Repeated
// calls are no-ops.
func (v *Validator) StartCleanup(interval time.Duration) {
	if !v.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(v.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				v.evictExpired(v.clock())
			case <-v.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the cleanup goroutine and waits for it to exit. When
// StartCleanup was never called there is nothing to wait for.
func (v *Validator) Stop() {
	v.stopOnce.Do(func() { close(v.stopCh) })
	if !v.started.Load() {
		return
	}
	select {
	case <-v.doneCh:
	case <-time.After(time.Second):
	}
}

func (v *Validator) shardFor(key string) *cacheShard {
	return v.shards[xxhash.Sum64String(key)%cacheShards]
}

func (v *Validator) cacheGet(key string, now time.Time) (ValidationResult, bool) {
	shard := v.shardFor(key)
	shard.mu.RLock()
	entry, ok := shard.entries[key]
	shard.mu.RUnlock()
	if !ok || now.After(entry.expiresAt) {
		return ValidationResult{}, false
	}
	return entry.result, true
}

func (v *Validator) cachePut(key string, result ValidationResult, expiresAt time.Time) {
	shard := v.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if len(shard.entries) >= maxEntriesPerShard {
		now := v.clock()
		for k, e := range shard.entries {
			if now.After(e.expiresAt) {
				delete(shard.entries, k)
			}
		}
		// Still full: evict one arbitrary entry rather than grow.
		if len(shard.entries) >= maxEntriesPerShard {
			for k := range shard.entries {
				delete(shard.entries, k)
				break
			}
		}
	}
	shard.entries[key] = cacheEntry{result: result, expiresAt: expiresAt}
}

func (v *Validator) evictExpired(now time.Time) {
	for _, shard := range v.shards {
		shard.mu.Lock()
		for k, e := range shard.entries {
			if now.After(e.expiresAt) {
				delete(shard.entries, k)
			}
		}
		shard.mu.Unlock()
	}
}

// keyDigest returns the hex SHA-256 of a subscription key. Digests, never
// raw keys, are used in cache keys.
func keyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
