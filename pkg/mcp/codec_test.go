package mcp

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

func TestWrapMessageRequest(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"store_journal_entry"}}`)

	msg, err := WrapMessage(raw)
	if err != nil {
		t.Fatalf("WrapMessage failed: %v", err)
	}

	if !msg.IsRequest() {
		t.Error("expected IsRequest() to return true")
	}
	if !msg.IsToolCall() {
		t.Error("expected IsToolCall() to return true")
	}
	if msg.Method() != "tools/call" {
		t.Errorf("expected method 'tools/call', got %q", msg.Method())
	}
}

func TestWrapMessageMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"invalid json", []byte(`{not json`)},
		{"empty", []byte(``)},
		{"missing jsonrpc", []byte(`{"id":1,"method":"ping"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := WrapMessage(tt.data); err == nil {
				t.Error("expected error for malformed message")
			}
		})
	}
}

func TestRawIDPreservesFormat(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"number id", `{"jsonrpc":"2.0","id":42,"method":"ping"}`, `42`},
		{"string id", `{"jsonrpc":"2.0","id":"a1","method":"ping"}`, `"a1"`},
		{"no id", `{"jsonrpc":"2.0","method":"ping"}`, ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &Message{Raw: []byte(tt.raw)}
			got := msg.RawID()
			if tt.want == "" {
				if got != nil {
					t.Errorf("expected nil id, got %s", got)
				}
				return
			}
			if !bytes.Equal(got, []byte(tt.want)) {
				t.Errorf("expected id %s, got %s", tt.want, got)
			}
		})
	}
}

func TestIsNotification(t *testing.T) {
	note := &Message{Raw: []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)}
	if !note.IsNotification() {
		t.Error("expected message without id to be a notification")
	}

	req := &Message{Raw: []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)}
	if req.IsNotification() {
		t.Error("expected message with id not to be a notification")
	}
}

func TestExtractCredentialsFromParams(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_user_stats","auth":{"email":"user@example.com","subscription_key":"fm_sub_abcdefgh"}}}`)

	msg, err := WrapMessage(raw)
	if err != nil {
		t.Fatalf("WrapMessage failed: %v", err)
	}

	creds := msg.ExtractCredentials()
	if creds.Email != "user@example.com" {
		t.Errorf("expected email from params.auth, got %q", creds.Email)
	}
	if creds.SubscriptionKey != "fm_sub_abcdefgh" {
		t.Errorf("expected subscription key from params.auth, got %q", creds.SubscriptionKey)
	}
	if !creds.HasAuth() {
		t.Error("expected HasAuth() to return true")
	}
}

func TestExtractCredentialsHeadersTakePrecedence(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"auth":{"email":"body@example.com","subscription_key":"fm_sub_frombody"}}}`)

	msg, err := WrapMessage(raw)
	if err != nil {
		t.Fatalf("WrapMessage failed: %v", err)
	}
	msg.Credentials.Email = "header@example.com"

	creds := msg.ExtractCredentials()
	if creds.Email != "header@example.com" {
		t.Errorf("header email should win, got %q", creds.Email)
	}
	if creds.SubscriptionKey != "fm_sub_frombody" {
		t.Errorf("missing fields should fall back to body, got %q", creds.SubscriptionKey)
	}
}

func TestNewResponseEchoesID(t *testing.T) {
	out, err := NewResponse(json.RawMessage(`"a1"`), map[string]string{"ok": "yes"})
	if err != nil {
		t.Fatalf("NewResponse failed: %v", err)
	}

	var parsed struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  map[string]any  `json:"result"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if parsed.JSONRPC != "2.0" {
		t.Errorf("expected jsonrpc 2.0, got %q", parsed.JSONRPC)
	}
	if string(parsed.ID) != `"a1"` {
		t.Errorf("expected id \"a1\", got %s", parsed.ID)
	}
	if parsed.Result["ok"] != "yes" {
		t.Errorf("unexpected result: %v", parsed.Result)
	}
}

func TestNewErrorNullID(t *testing.T) {
	out := NewError(nil, -32700, "Parse error", nil)

	var parsed struct {
		ID    json.RawMessage `json:"id"`
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("error response is not valid JSON: %v", err)
	}
	if string(parsed.ID) != "null" {
		t.Errorf("expected explicit null id, got %s", parsed.ID)
	}
	if parsed.Error.Code != -32700 {
		t.Errorf("expected code -32700, got %d", parsed.Error.Code)
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	id, err := jsonrpc.MakeID(float64(7))
	if err != nil {
		t.Fatalf("MakeID failed: %v", err)
	}

	req := &jsonrpc.Request{
		ID:     id,
		Method: "tools/list",
	}

	encoded, err := EncodeMessage(req)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}

	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	decodedReq, ok := decoded.(*jsonrpc.Request)
	if !ok {
		t.Fatalf("expected *jsonrpc.Request, got %T", decoded)
	}
	if decodedReq.Method != "tools/list" {
		t.Errorf("expected method 'tools/list', got %q", decodedReq.Method)
	}
}
