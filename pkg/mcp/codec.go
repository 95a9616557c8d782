package mcp

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// DecodeMessage deserializes JSON-RPC wire format data.
// It returns either a *jsonrpc.Request or *jsonrpc.Response based on the
// message content. This delegates to the MCP SDK's jsonrpc package.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// EncodeMessage serializes a JSON-RPC message to its wire format.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// WrapMessage decodes raw JSON-RPC bytes and wraps them in a Message with
// the current timestamp. If decoding fails, returns an error; callers that
// want to answer malformed input with a parse error can construct a
// Message manually.
func WrapMessage(raw []byte) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:       raw,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}

// NewResponse builds a JSON-RPC 2.0 success response with the given raw id
// and result payload. The id is echoed verbatim so the original format
// (number, string) is preserved.
func NewResponse(id json.RawMessage, result interface{}) ([]byte, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	resp := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
	}{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Result:  payload,
	}
	return json.Marshal(resp)
}

// ErrorData carries optional structured data on a JSON-RPC error.
type ErrorData struct {
	Kind       string `json:"kind,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
	Path       string `json:"path,omitempty"`
}

// NewError builds a JSON-RPC 2.0 error response with the given raw id,
// code and message. data may be nil.
func NewError(id json.RawMessage, code int, message string, data *ErrorData) []byte {
	resp := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   struct {
			Code    int        `json:"code"`
			Message string     `json:"message"`
			Data    *ErrorData `json:"data,omitempty"`
		} `json:"error"`
	}{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
	}
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.Data = data

	// Marshal of plain structs over scalar fields cannot fail.
	b, _ := json.Marshal(resp)
	return b
}

// normalizeID maps an absent id to an explicit JSON null, as required for
// responses to unparseable or id-less requests.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
