// Package service contains the gateway pipeline that every request
// passes through: credential extraction, subscription validation,
// identity derivation, rate limiting and tool dispatch.
package service

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/fortunamind/persistgate/internal/ctxkey"
	"github.com/fortunamind/persistgate/internal/domain/identity"
	"github.com/fortunamind/persistgate/internal/domain/ratelimit"
	"github.com/fortunamind/persistgate/internal/domain/storage"
	"github.com/fortunamind/persistgate/internal/domain/subscription"
	"github.com/fortunamind/persistgate/internal/domain/tool"
	"github.com/fortunamind/persistgate/pkg/mcp"
)

// loggerFromContext retrieves the enriched logger from context.
// Uses the same key as HTTP middleware for request_id enrichment.
// Returns nil if no logger is in context, allowing caller to fall back.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// requestIDFromContext retrieves the correlation id set by transport
// middleware, or "" when none is present.
func requestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxkey.RequestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GatewayService orchestrates the request pipeline. It is transport
// agnostic; the HTTP and stdio adapters both feed it raw JSON-RPC
// messages with credentials attached.
type GatewayService struct {
	deriver   *identity.Deriver
	validator *subscription.Validator
	limiter   ratelimit.Limiter
	registry  *tool.Registry
	backend   storage.Backend
	subs      subscription.Store
	logger    *slog.Logger
	version   string
	minuteCap int
	startedAt time.Time
	clock     func() time.Time
}

// GatewayOption configures a GatewayService.
type GatewayOption func(*GatewayService)

// WithVersion sets the version reported by initialize and status.
func WithVersion(v string) GatewayOption {
	return func(g *GatewayService) { g.version = v }
}

// WithGatewayClock overrides the time source, for tests.
func WithGatewayClock(clock func() time.Time) GatewayOption {
	return func(g *GatewayService) { g.clock = clock }
}

// WithMinuteCap applies a deployment-wide per-minute cap that overrides
// every tier's burst allowance. Zero disables the cap.
func WithMinuteCap(n int) GatewayOption {
	return func(g *GatewayService) { g.minuteCap = n }
}

// NewGatewayService creates a GatewayService with all its ports.
func NewGatewayService(
	deriver *identity.Deriver,
	validator *subscription.Validator,
	limiter ratelimit.Limiter,
	registry *tool.Registry,
	backend storage.Backend,
	subs subscription.Store,
	logger *slog.Logger,
	opts ...GatewayOption,
) *GatewayService {
	if logger == nil {
		logger = slog.Default()
	}
	g := &GatewayService{
		deriver:   deriver,
		validator: validator,
		limiter:   limiter,
		registry:  registry,
		backend:   backend,
		subs:      subs,
		logger:    logger.With("component", "gateway"),
		version:   "dev",
		clock:     time.Now,
	}
	g.startedAt = g.clock()
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// authenticate runs stages one through four of the pipeline and returns
// the caller's AuthContext. write selects the failure posture when the
// rate limiter itself errors: writes fail closed, reads fail open.
func (g *GatewayService) authenticate(ctx context.Context, creds mcp.Credentials, write bool) (tool.AuthContext, *AppError) {
	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = g.logger
	}

	if creds.Email == "" {
		return tool.AuthContext{}, missingCredentials("email required")
	}
	if creds.SubscriptionKey == "" {
		return tool.AuthContext{}, missingCredentials("subscription key required")
	}

	normalized, err := identity.Normalize(creds.Email)
	if err != nil {
		return tool.AuthContext{}, &AppError{
			Code:    CodeInvalidParams,
			Message: "invalid email address",
			Kind:    "invalid_email",
		}
	}

	result := g.validator.Validate(ctx, normalized, creds.SubscriptionKey)
	if !result.Valid {
		if result.Reason == subscription.ReasonBackendUnavailable {
			return tool.AuthContext{}, unavailable("subscription registry")
		}
		logger.Info("subscription rejected", "reason", result.Reason)
		return tool.AuthContext{}, unauthorized(result.Reason)
	}

	handle, err := g.deriver.DeriveHandle(normalized)
	if err != nil {
		return tool.AuthContext{}, &AppError{Code: CodeInternalError, Message: "Internal error", Kind: "internal"}
	}

	limits := result.Tier.Limits()
	quota := ratelimit.Quota{
		PerMinute: limits.BurstPerMinute,
		PerHour:   limits.RequestsPerHour,
		PerDay:    limits.RequestsPerDay,
		PerMonth:  limits.RequestsPerMonth,
	}
	if g.minuteCap > 0 {
		quota.PerMinute = g.minuteCap
	}
	decision, err := g.limiter.Allow(ctx, handle, quota)
	if err != nil {
		// The limiter backend failing must not take reads down with it,
		// but unmetered writes are worse than refused writes.
		logger.Warn("rate limiter unavailable", "error", err)
		if write {
			return tool.AuthContext{}, unavailable("rate limiter")
		}
	} else if !decision.Allowed {
		retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		logger.Info("rate limited",
			"tier", result.Tier,
			"window", decision.Window,
			"retry_after_s", retryAfter)
		return tool.AuthContext{}, limitExceeded(string(decision.Window), retryAfter)
	}

	return tool.AuthContext{
		Handle:            handle,
		Email:             normalized,
		Tier:              result.Tier,
		SubscriptionKey:   creds.SubscriptionKey,
		UpstreamAPIKey:    creds.UpstreamAPIKey,
		UpstreamAPISecret: creds.UpstreamAPISecret,
		RequestID:         requestIDFromContext(ctx),
		ReceivedAt:        g.clock(),
	}, nil
}

// isWriteTool reports whether the named tool mutates state. Used to pick
// the failure posture when infrastructure errors occur mid-pipeline.
func isWriteTool(name string) bool {
	for _, prefix := range []string{"store_", "set_", "update_", "delete_"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
