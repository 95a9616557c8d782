// Package ratelimit enforces tiered sliding-window quotas per user handle.
package ratelimit

import (
	"fmt"
	"time"
)

// Window identifies one of the enforced quota windows.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
	WindowMonth  Window = "month"
)

// Span returns the duration the window covers.
func (w Window) Span() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	case WindowMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Quota is the set of caps applied to one user. A value of -1 disables
// the cap for that window.
type Quota struct {
	PerMinute int
	PerHour   int
	PerDay    int
	PerMonth  int
}

// Unlimited reports whether every window is uncapped.
func (q Quota) Unlimited() bool {
	return q.PerMinute < 0 && q.PerHour < 0 && q.PerDay < 0 && q.PerMonth < 0
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	// Allowed reports whether the request may proceed. When false, no
	// window counter was advanced.
	Allowed bool

	// Window is the breached window when Allowed is false. When several
	// windows are breached it names the one that clears soonest.
	Window Window

	// Limit is the cap of the breached window.
	Limit int

	// Remaining is the smallest remaining count across capped windows.
	Remaining int

	// RetryAfter is how long until the breached window admits another
	// request. Zero when Allowed is true.
	RetryAfter time.Duration
}

// Usage is a point-in-time snapshot of one user's consumption.
type Usage struct {
	Minute int
	Hour   int
	Day    int
	Month  int
}

// FormatKey returns the structured limiter key for a user handle.
func FormatKey(handle string) string {
	return fmt.Sprintf("ratelimit:user:%s", handle)
}
