package service

import (
	"context"
	"encoding/json"

	"github.com/fortunamind/persistgate/internal/domain/identity"
	"github.com/fortunamind/persistgate/internal/domain/subscription"
	"github.com/fortunamind/persistgate/pkg/mcp"
)

// ProtocolVersion is the MCP protocol revision this server speaks.
const ProtocolVersion = "2024-11-05"

// HandleMessage runs one JSON-RPC message through the pipeline and
// returns the serialized response. Notifications return nil: no
// response goes on the wire.
func (g *GatewayService) HandleMessage(ctx context.Context, msg *mcp.Message) []byte {
	if msg.IsNotification() {
		// notifications/initialized and friends are acknowledged by
		// silence.
		return nil
	}

	id := msg.RawID()
	if !msg.IsRequest() {
		return mcp.NewError(id, CodeInvalidRequest, "Invalid Request", nil)
	}

	creds := msg.ExtractCredentials()

	switch msg.Method() {
	case "initialize":
		return g.handleInitialize(id)
	case "ping":
		return g.handlePing(id)
	case "tools/list":
		return g.handleToolsList(ctx, id, creds)
	case "tools/call":
		return g.handleToolsCall(ctx, id, creds, msg)
	default:
		return mcp.NewError(id, CodeMethodNotFound, "Method not found: "+msg.Method(), nil)
	}
}

// handleInitialize answers the MCP handshake. No credentials are needed:
// clients must be able to negotiate before they authenticate.
func (g *GatewayService) handleInitialize(id json.RawMessage) []byte {
	result := map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "persistgate",
			"version": g.version,
		},
	}
	out, err := mcp.NewResponse(id, result)
	if err != nil {
		return mcp.NewError(id, CodeInternalError, "Internal error", nil)
	}
	return out
}

func (g *GatewayService) handlePing(id json.RawMessage) []byte {
	out, err := mcp.NewResponse(id, map[string]interface{}{})
	if err != nil {
		return mcp.NewError(id, CodeInternalError, "Internal error", nil)
	}
	return out
}

// handleToolsList returns the tools visible to the caller's tier. The
// full pipeline runs so discovery is metered and gated like any other
// authenticated request.
func (g *GatewayService) handleToolsList(ctx context.Context, id json.RawMessage, creds mcp.Credentials) []byte {
	auth, appErr := g.authenticate(ctx, creds, false)
	if appErr != nil {
		return g.errorResponse(id, appErr)
	}

	schemas := g.registry.List(auth.Tier)
	tools := make([]map[string]interface{}, 0, len(schemas))
	for _, s := range schemas {
		tools = append(tools, map[string]interface{}{
			"name":        s.Name,
			"description": s.Description,
			"inputSchema": s.Parameters,
		})
	}

	out, err := mcp.NewResponse(id, map[string]interface{}{"tools": tools})
	if err != nil {
		return mcp.NewError(id, CodeInternalError, "Internal error", nil)
	}
	return out
}

func (g *GatewayService) handleToolsCall(ctx context.Context, id json.RawMessage, creds mcp.Credentials, msg *mcp.Message) []byte {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	req := msg.Request()
	if req == nil || req.Params == nil {
		return mcp.NewError(id, CodeInvalidParams, "tools/call requires params.name", nil)
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return mcp.NewError(id, CodeInvalidParams, "tools/call requires params.name", nil)
	}

	auth, appErr := g.authenticate(ctx, creds, isWriteTool(params.Name))
	if appErr != nil {
		return g.errorResponse(id, appErr)
	}

	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = g.logger
	}

	result, err := g.registry.Dispatch(ctx, auth, params.Name, params.Arguments)
	if err != nil {
		appErr := mapToolError(err)
		if appErr.Code == CodeInternalError {
			logger.Error("tool dispatch failed", "tool", params.Name, "error", err)
		}
		return g.errorResponse(id, appErr)
	}

	out, err := mcp.NewResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": string(result.Content)},
		},
	})
	if err != nil {
		return mcp.NewError(id, CodeInternalError, "Internal error", nil)
	}
	return out
}

// errorResponse serializes an AppError, attaching structured retry data
// when the error is retryable.
func (g *GatewayService) errorResponse(id json.RawMessage, appErr *AppError) []byte {
	var data *mcp.ErrorData
	if appErr.Kind != "" || appErr.Retryable {
		data = &mcp.ErrorData{
			Kind:       appErr.Kind,
			Retryable:  appErr.Retryable,
			RetryAfter: appErr.RetryAfter,
		}
	}
	return mcp.NewError(id, appErr.Code, appErr.Message, data)
}

// ValidateCredentials runs the authentication stages without rate
// limiting side effects, for the bridge's startup probe and the derive
// command.
func (g *GatewayService) ValidateCredentials(ctx context.Context, creds mcp.Credentials) (subscription.ValidationResult, error) {
	if !creds.HasAuth() {
		return subscription.ValidationResult{}, missingCredentials("email and subscription key required")
	}
	normalized, err := identity.Normalize(creds.Email)
	if err != nil {
		return subscription.ValidationResult{}, err
	}
	return g.validator.Validate(ctx, normalized, creds.SubscriptionKey), nil
}
