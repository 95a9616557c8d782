package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"
)

// Limiter is the port implemented by rate limiter backends.
type Limiter interface {
	// Allow checks all quota windows for the handle and, only if every
	// window admits the request, records it in all of them. Denials never
	// advance any counter.
	Allow(ctx context.Context, handle string, quota Quota) (Decision, error)

	// Usage returns the handle's current consumption snapshot.
	Usage(ctx context.Context, handle string) (Usage, error)
}

const (
	// numBuckets is the sliding-window resolution. Sixty buckets keep
	// the boundary error under 2% of the window span.
	numBuckets = 60

	numStripes = 64

	defaultCleanupInterval = 5 * time.Minute
	defaultIdleTTL         = 31 * 24 * time.Hour
)

// bucketWindow is a fixed-resolution sliding window counter. Buckets are
// addressed by absolute index (time / width) so stale slots are detected
// without timestamps per slot.
type bucketWindow struct {
	width   time.Duration
	counts  [numBuckets]int
	current int64
	total   int
}

func newBucketWindow(span time.Duration) *bucketWindow {
	return &bucketWindow{width: span / numBuckets, current: -1}
}

func (w *bucketWindow) advance(now time.Time) {
	idx := now.UnixNano() / int64(w.width)
	if w.current < 0 || idx-w.current >= numBuckets {
		w.counts = [numBuckets]int{}
		w.total = 0
		w.current = idx
		return
	}
	for i := w.current + 1; i <= idx; i++ {
		slot := i % numBuckets
		w.total -= w.counts[slot]
		w.counts[slot] = 0
	}
	w.current = idx
}

func (w *bucketWindow) count(now time.Time) int {
	w.advance(now)
	return w.total
}

func (w *bucketWindow) add(now time.Time) {
	w.advance(now)
	w.counts[w.current%numBuckets]++
	w.total++
}

// retryAfter returns how long until the oldest occupied bucket rotates
// out of the window, freeing at least one slot.
func (w *bucketWindow) retryAfter(now time.Time) time.Duration {
	w.advance(now)
	oldest := w.current - numBuckets + 1
	if oldest < 0 {
		oldest = 0
	}
	for i := oldest; i <= w.current; i++ {
		if w.counts[i%numBuckets] > 0 {
			expiry := time.Unix(0, (i+numBuckets)*int64(w.width))
			d := expiry.Sub(now)
			if d < 0 {
				d = w.width
			}
			return d
		}
	}
	return w.width
}

type userState struct {
	hour     *bucketWindow
	day      *bucketWindow
	month    *bucketWindow
	minute   *rate.Limiter
	lastSeen time.Time
}

type stripe struct {
	mu    sync.Mutex
	users map[string]*userState
}

// SlidingLimiter is an in-memory Limiter using bucketed sliding windows
// for the hour, day and month quotas and a token bucket for the
// per-minute burst floor. User states are spread over lock stripes so
// unrelated tenants never contend.
type SlidingLimiter struct {
	stripes [numStripes]*stripe
	logger  *slog.Logger
	clock   func() time.Time

	cleanupInterval time.Duration
	idleTTL         time.Duration
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
}

// SlidingLimiterOption configures a SlidingLimiter.
type SlidingLimiterOption func(*SlidingLimiter)

// WithLimiterClock overrides the time source, for tests.
func WithLimiterClock(clock func() time.Time) SlidingLimiterOption {
	return func(l *SlidingLimiter) { l.clock = clock }
}

// WithCleanup overrides the cleanup cadence and idle eviction TTL.
func WithCleanup(interval, idleTTL time.Duration) SlidingLimiterOption {
	return func(l *SlidingLimiter) {
		l.cleanupInterval = interval
		l.idleTTL = idleTTL
	}
}

// NewSlidingLimiter creates a SlidingLimiter.
func NewSlidingLimiter(logger *slog.Logger, opts ...SlidingLimiterOption) *SlidingLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &SlidingLimiter{
		logger:          logger.With("component", "rate_limiter"),
		clock:           time.Now,
		cleanupInterval: defaultCleanupInterval,
		idleTTL:         defaultIdleTTL,
		stopChan:        make(chan struct{}),
	}
	for i := range l.stripes {
		l.stripes[i] = &stripe{users: make(map[string]*userState)}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow implements Limiter. The check and the commit happen under one
// stripe lock, so a request is either counted in every window or none.
func (l *SlidingLimiter) Allow(_ context.Context, handle string, quota Quota) (Decision, error) {
	if quota.Unlimited() {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	now := l.clock()
	s := l.stripeFor(handle)
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[handle]
	if u == nil {
		u = &userState{
			hour:  newBucketWindow(WindowHour.Span()),
			day:   newBucketWindow(WindowDay.Span()),
			month: newBucketWindow(WindowMonth.Span()),
		}
		s.users[handle] = u
	}
	u.lastSeen = now
	if quota.PerMinute > 0 && u.minute == nil {
		u.minute = rate.NewLimiter(rate.Limit(float64(quota.PerMinute)/60.0), quota.PerMinute)
	}

	type capped struct {
		window Window
		limit  int
		bucket *bucketWindow
	}
	windows := []capped{
		{WindowHour, quota.PerHour, u.hour},
		{WindowDay, quota.PerDay, u.day},
		{WindowMonth, quota.PerMonth, u.month},
	}

	// Check every capped window before committing to any of them.
	var (
		breached    []capped
		minRemain   = -1
		minRetry    time.Duration
		breachedWin Window
		breachedCap int
	)
	for _, c := range windows {
		if c.limit < 0 {
			continue
		}
		n := c.bucket.count(now)
		if n >= c.limit {
			breached = append(breached, c)
			retry := c.bucket.retryAfter(now)
			if breachedWin == "" || retry < minRetry {
				minRetry = retry
				breachedWin = c.window
				breachedCap = c.limit
			}
			continue
		}
		if remain := c.limit - n - 1; minRemain < 0 || remain < minRemain {
			minRemain = remain
		}
	}
	if len(breached) > 0 {
		return Decision{
			Allowed:    false,
			Window:     breachedWin,
			Limit:      breachedCap,
			Remaining:  0,
			RetryAfter: minRetry,
		}, nil
	}

	// Burst floor: the token bucket smooths intra-minute spikes that the
	// coarser windows cannot see.
	if u.minute != nil {
		r := u.minute.ReserveN(now, 1)
		if !r.OK() {
			return Decision{Allowed: false, Window: WindowMinute, Limit: quota.PerMinute, RetryAfter: time.Minute}, nil
		}
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			return Decision{
				Allowed:    false,
				Window:     WindowMinute,
				Limit:      quota.PerMinute,
				Remaining:  0,
				RetryAfter: delay,
			}, nil
		}
	}

	u.hour.add(now)
	u.day.add(now)
	u.month.add(now)

	return Decision{Allowed: true, Remaining: minRemain}, nil
}

// Usage implements Limiter.
func (l *SlidingLimiter) Usage(_ context.Context, handle string) (Usage, error) {
	now := l.clock()
	s := l.stripeFor(handle)
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[handle]
	if u == nil {
		return Usage{}, nil
	}
	return Usage{
		Hour:  u.hour.count(now),
		Day:   u.day.count(now),
		Month: u.month.count(now),
	}, nil
}

// StartCleanup launches the background goroutine that evicts user states
// idle longer than the configured TTL. It stops when ctx is cancelled or
// Stop is called.
func (l *SlidingLimiter) StartCleanup(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopChan:
				return
			case <-ticker.C:
				l.cleanup()
			}
		}
	}()
}

func (l *SlidingLimiter) cleanup() {
	cutoff := l.clock().Add(-l.idleTTL)
	cleaned := 0
	for _, s := range l.stripes {
		s.mu.Lock()
		for handle, u := range s.users {
			if u.lastSeen.Before(cutoff) {
				delete(s.users, handle)
				cleaned++
			}
		}
		s.mu.Unlock()
	}
	if cleaned > 0 {
		l.logger.Debug("rate limiter cleanup completed", "cleaned_users", cleaned)
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (l *SlidingLimiter) Stop() {
	l.once.Do(func() { close(l.stopChan) })
	l.wg.Wait()
}

// Size returns the number of tracked user states, for tests and the
// status endpoint.
func (l *SlidingLimiter) Size() int {
	total := 0
	for _, s := range l.stripes {
		s.mu.Lock()
		total += len(s.users)
		s.mu.Unlock()
	}
	return total
}

func (l *SlidingLimiter) stripeFor(handle string) *stripe {
	return l.stripes[xxhash.Sum64String(handle)%numStripes]
}

// Compile-time interface verification.
var _ Limiter = (*SlidingLimiter)(nil)
