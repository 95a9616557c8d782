// Package mcp provides MCP message types and JSON-RPC codec utilities
// for the persistence gateway.
package mcp

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Credentials holds the per-request authentication material extracted
// from a message or from transport headers. Upstream credentials are
// pass-through only: they are held in memory for the lifetime of one
// request and must never be persisted or logged.
type Credentials struct {
	Email             string
	SubscriptionKey   string
	UpstreamAPIKey    string
	UpstreamAPISecret string
}

// HasAuth returns true if both required credentials are present.
func (c Credentials) HasAuth() bool {
	return c.Email != "" && c.SubscriptionKey != ""
}

// Message wraps a decoded JSON-RPC message with gateway metadata.
// It stores both the raw bytes (for id echoing) and the decoded
// message (for dispatch).
type Message struct {
	// Raw contains the original bytes of the message.
	Raw []byte

	// Decoded contains the parsed JSON-RPC message.
	// May be nil if parsing failed. The concrete type is either
	// *jsonrpc.Request or *jsonrpc.Response.
	Decoded jsonrpc.Message

	// Timestamp records when the message was received.
	Timestamp time.Time

	// Credentials contains the authentication material bound to this
	// request. Populated by the transport (headers or environment) or
	// by ExtractCredentials from params.auth.
	Credentials Credentials

	// ParsedParams contains the parsed params from a JSON-RPC request.
	// Set by ParseParams() for reuse. Nil if not a request or parsing failed.
	ParsedParams map[string]interface{}
}

// IsRequest returns true if the message is a JSON-RPC request.
func (m *Message) IsRequest() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// Method returns the method name if this is a request, empty string otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// IsToolCall returns true if this is a tools/call request.
func (m *Message) IsToolCall() bool {
	return m.Method() == "tools/call"
}

// Request returns the underlying Request if this is a request message.
// Returns nil otherwise.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// ParseParams parses the request params and stores them in ParsedParams.
// Safe to call multiple times (no-op if already parsed).
// Returns the parsed params or nil if not a request or parsing fails.
func (m *Message) ParseParams() map[string]interface{} {
	if m.ParsedParams != nil {
		return m.ParsedParams
	}

	req := m.Request()
	if req == nil || req.Params == nil {
		return nil
	}

	var params map[string]interface{}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}

	m.ParsedParams = params
	return params
}

// ExtractCredentials reads credentials embedded in JSON-RPC params.
// Transports without a header mechanism place them under params.auth:
//
//	{"params": {"auth": {"email": ..., "subscription_key": ...}}}
//
// Header-supplied credentials take precedence: fields already set on
// m.Credentials are not overwritten.
func (m *Message) ExtractCredentials() Credentials {
	params := m.ParsedParams
	if params == nil {
		params = m.ParseParams()
	}
	if params == nil {
		return m.Credentials
	}

	auth, ok := params["auth"].(map[string]interface{})
	if !ok {
		return m.Credentials
	}

	pick := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v, ok := auth[key].(string); ok {
			*dst = v
		}
	}
	pick(&m.Credentials.Email, "email")
	pick(&m.Credentials.SubscriptionKey, "subscription_key")
	pick(&m.Credentials.UpstreamAPIKey, "upstream_api_key")
	pick(&m.Credentials.UpstreamAPISecret, "upstream_api_secret")

	return m.Credentials
}

// RawID extracts the request ID from the raw message bytes as json.RawMessage.
// This is needed because the SDK's jsonrpc.ID type doesn't marshal correctly
// through interface{}, so we extract the ID directly from the raw JSON.
// Returns nil if no ID is found.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}

	// Preserves the original format: number, string, or null.
	return raw["id"]
}

// IsNotification returns true if the raw message carries no "id" field,
// i.e. it is a JSON-RPC notification and no response is expected.
func (m *Message) IsNotification() bool {
	return m.RawID() == nil
}
