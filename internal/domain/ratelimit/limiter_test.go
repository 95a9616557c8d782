package ratelimit

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestLimiter(now *time.Time) *SlidingLimiter {
	return NewSlidingLimiter(testLogger(), WithLimiterClock(func() time.Time { return *now }))
}

func TestAllowUnderLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)
	quota := Quota{PerMinute: -1, PerHour: 10, PerDay: 100, PerMonth: 1000}

	for i := 0; i < 10; i++ {
		d, err := l.Allow(context.Background(), "handle-a", quota)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
}

func TestDenyAtHourlyLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)
	quota := Quota{PerMinute: -1, PerHour: 5, PerDay: 100, PerMonth: 1000}

	for i := 0; i < 5; i++ {
		if d, _ := l.Allow(context.Background(), "handle-a", quota); !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	d, err := l.Allow(context.Background(), "handle-a", quota)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("request over the hourly limit must be denied")
	}
	if d.Window != WindowHour {
		t.Errorf("breached window = %q, want hour", d.Window)
	}
	if d.Limit != 5 {
		t.Errorf("breached limit = %d, want 5", d.Limit)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Hour {
		t.Errorf("retry_after out of range: %v", d.RetryAfter)
	}
}

func TestDenialDoesNotConsume(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)
	quota := Quota{PerMinute: -1, PerHour: 100, PerDay: 3, PerMonth: 1000}

	for i := 0; i < 3; i++ {
		l.Allow(context.Background(), "handle-a", quota)
	}
	// Hammer past the daily cap; denials must not advance any window.
	for i := 0; i < 50; i++ {
		if d, _ := l.Allow(context.Background(), "handle-a", quota); d.Allowed {
			t.Fatal("request over daily limit allowed")
		}
	}

	usage, err := l.Usage(context.Background(), "handle-a")
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if usage.Day != 3 {
		t.Errorf("daily usage = %d, want 3 (denials must not count)", usage.Day)
	}
	if usage.Hour != 3 {
		t.Errorf("hourly usage = %d, want 3", usage.Hour)
	}
}

func TestWindowSlidesOpen(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)
	quota := Quota{PerMinute: -1, PerHour: 2, PerDay: -1, PerMonth: -1}

	l.Allow(context.Background(), "handle-a", quota)
	l.Allow(context.Background(), "handle-a", quota)
	if d, _ := l.Allow(context.Background(), "handle-a", quota); d.Allowed {
		t.Fatal("third request within the hour should be denied")
	}

	now = now.Add(61 * time.Minute)
	if d, _ := l.Allow(context.Background(), "handle-a", quota); !d.Allowed {
		t.Fatal("request after the window slid open should be allowed")
	}
}

func TestShortestBreachedWindowWins(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)
	// Hour and day breach on the same request. The hour window clears
	// first, so the decision should name it.
	quota := Quota{PerMinute: -1, PerHour: 2, PerDay: 2, PerMonth: -1}

	l.Allow(context.Background(), "handle-a", quota)
	l.Allow(context.Background(), "handle-a", quota)

	d, _ := l.Allow(context.Background(), "handle-a", quota)
	if d.Allowed {
		t.Fatal("expected denial")
	}
	if d.Window != WindowHour {
		t.Errorf("breached window = %q, want hour (clears soonest)", d.Window)
	}
	if d.RetryAfter > time.Hour {
		t.Errorf("retry_after %v exceeds the hour window", d.RetryAfter)
	}
}

func TestUnlimitedQuotaFastPath(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)
	quota := Quota{PerMinute: -1, PerHour: -1, PerDay: -1, PerMonth: -1}

	for i := 0; i < 10_000; i++ {
		if d, _ := l.Allow(context.Background(), "handle-a", quota); !d.Allowed {
			t.Fatal("unlimited quota must never deny")
		}
	}
	if l.Size() != 0 {
		t.Errorf("unlimited users should not be tracked, size = %d", l.Size())
	}
}

func TestMinuteBurstFloor(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)
	quota := Quota{PerMinute: 5, PerHour: 1000, PerDay: -1, PerMonth: -1}

	allowed := 0
	for i := 0; i < 20; i++ {
		if d, _ := l.Allow(context.Background(), "handle-a", quota); d.Allowed {
			allowed++
		} else if d.Window != WindowMinute {
			t.Errorf("expected minute window breach, got %q", d.Window)
		}
	}
	if allowed != 5 {
		t.Errorf("burst floor admitted %d requests at once, want 5", allowed)
	}
}

func TestUsersAreIndependent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)
	quota := Quota{PerMinute: -1, PerHour: 2, PerDay: -1, PerMonth: -1}

	l.Allow(context.Background(), "handle-a", quota)
	l.Allow(context.Background(), "handle-a", quota)
	if d, _ := l.Allow(context.Background(), "handle-a", quota); d.Allowed {
		t.Fatal("handle-a should be exhausted")
	}
	if d, _ := l.Allow(context.Background(), "handle-b", quota); !d.Allowed {
		t.Fatal("handle-b must not be affected by handle-a's usage")
	}
}

func TestCleanupEvictsIdleUsers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewSlidingLimiter(testLogger(),
		WithLimiterClock(func() time.Time { return now }),
		WithCleanup(time.Minute, time.Hour))
	quota := Quota{PerMinute: -1, PerHour: 10, PerDay: -1, PerMonth: -1}

	l.Allow(context.Background(), "handle-a", quota)
	if l.Size() != 1 {
		t.Fatalf("expected 1 tracked user, got %d", l.Size())
	}

	now = now.Add(2 * time.Hour)
	l.cleanup()
	if l.Size() != 0 {
		t.Errorf("idle user should be evicted, size = %d", l.Size())
	}
}
