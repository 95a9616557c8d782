// Package tool defines the tool contract and the registry that dispatches
// validated, authorized tool calls.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fortunamind/persistgate/internal/domain/subscription"
)

// Permission gates a tool behind a tier feature.
type Permission string

// Permission values name tier features, so gating is a direct feature
// lookup on the caller's tier.
const (
	// PermissionNone marks tools available to every authenticated user.
	PermissionNone Permission = ""

	PermissionJournal    Permission = "journal_persistence"
	PermissionPortfolio  Permission = "portfolio_view"
	PermissionMarketData Permission = "price_check"
)

// Schema describes a tool for discovery and validation. Parameters and
// Returns are JSON Schema documents.
type Schema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	Permission  Permission      `json:"-"`
	Parameters  json.RawMessage `json:"inputSchema"`
	Returns     json.RawMessage `json:"-"`
}

// AuthContext carries the authenticated caller through a tool execution.
// Credential fields are for upstream calls only and must never be logged
// or included in results.
type AuthContext struct {
	Handle            string
	Email             string
	Tier              subscription.Tier
	SubscriptionKey   string
	UpstreamAPIKey    string
	UpstreamAPISecret string
	RequestID         string
	ReceivedAt        time.Time
}

// Result is the envelope every tool execution returns.
type Result struct {
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"isError,omitempty"`
	Duration  time.Duration   `json:"-"`
	ToolName  string          `json:"-"`
	RequestID string          `json:"-"`
}

// Tool is implemented by every registered tool.
type Tool interface {
	// Schema returns the tool's static description.
	Schema() Schema

	// Execute runs the tool with already-validated arguments.
	Execute(ctx context.Context, auth AuthContext, args json.RawMessage) (json.RawMessage, error)
}

// ErrUnknownTool is returned when dispatch names a tool that was never
// registered.
var ErrUnknownTool = errors.New("unknown tool")

// ErrForbidden is returned when the caller's tier lacks the tool's
// required feature.
var ErrForbidden = errors.New("tool not available on current tier")

// ErrInvalidArguments is returned when arguments fail schema validation.
// It wraps the first path-qualified validation message.
var ErrInvalidArguments = errors.New("invalid tool arguments")
