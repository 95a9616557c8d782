package service

import (
	"context"
	"time"
)

// Health is the aggregated component health report.
type Health struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Timestamp     time.Time         `json:"timestamp"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Components    map[string]string `json:"components"`
}

// Status extends Health with runtime counters for the status endpoint.
type Status struct {
	Health
	RegisteredTools int `json:"registered_tools"`
	TrackedUsers    int `json:"tracked_users,omitempty"`
}

const (
	componentOK   = "ok"
	componentDown = "unavailable"
)

// CheckHealth probes every backing component. The gateway reports
// degraded, not dead, while a dependency is down: requests that do not
// need the failed component still succeed.
func (g *GatewayService) CheckHealth(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	components := map[string]string{
		"storage":       componentOK,
		"subscriptions": componentOK,
	}
	status := "ok"

	if err := g.backend.Health(ctx); err != nil {
		components["storage"] = componentDown
		status = "degraded"
	}
	if err := g.subs.Health(ctx); err != nil {
		components["subscriptions"] = componentDown
		status = "degraded"
	}

	now := g.clock()
	return Health{
		Status:        status,
		Version:       g.version,
		Timestamp:     now,
		UptimeSeconds: int64(now.Sub(g.startedAt).Seconds()),
		Components:    components,
	}
}

// CheckStatus returns the full status report.
func (g *GatewayService) CheckStatus(ctx context.Context) Status {
	s := Status{
		Health:          g.CheckHealth(ctx),
		RegisteredTools: g.registry.Size(),
	}
	if sized, ok := g.limiter.(interface{ Size() int }); ok {
		s.TrackedUsers = sized.Size()
	}
	return s
}
