package tool

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/fortunamind/persistgate/internal/domain/subscription"
)

type stubTool struct {
	schema  Schema
	execErr error
	calls   int
}

func (s *stubTool) Schema() Schema { return s.schema }

func (s *stubTool) Execute(_ context.Context, _ AuthContext, _ json.RawMessage) (json.RawMessage, error) {
	s.calls++
	if s.execErr != nil {
		return nil, s.execErr
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func echoTool(name string, perm Permission) *stubTool {
	return &stubTool{schema: Schema{
		Name:       name,
		Permission: perm,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"symbol": {"type": "string"}},
			"required": ["symbol"],
			"additionalProperties": false
		}`),
	}}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry(testLogger())
	if err := r.Register(echoTool("get_price", PermissionNone)); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := r.Register(echoTool("get_price", PermissionNone)); err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	r := NewRegistry(testLogger())
	bad := &stubTool{schema: Schema{
		Name:       "broken",
		Parameters: json.RawMessage(`{"type": 12}`),
	}}
	if err := r.Register(bad); err == nil {
		t.Fatal("registration with invalid schema should fail")
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	r := NewRegistry(testLogger())
	_, err := r.Dispatch(context.Background(), AuthContext{Tier: subscription.TierFree}, "nope", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("expected ErrUnknownTool, got %v", err)
	}
}

func TestDispatchFeatureGate(t *testing.T) {
	r := NewRegistry(testLogger())
	tl := echoTool("store_journal_entry", PermissionJournal)
	r.MustRegister(tl)

	_, err := r.Dispatch(context.Background(),
		AuthContext{Tier: subscription.TierFree},
		"store_journal_entry", json.RawMessage(`{"symbol":"BTC"}`))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("free tier should be forbidden, got %v", err)
	}
	if tl.calls != 0 {
		t.Error("forbidden dispatch must not execute the tool")
	}

	_, err = r.Dispatch(context.Background(),
		AuthContext{Tier: subscription.TierStarter},
		"store_journal_entry", json.RawMessage(`{"symbol":"BTC"}`))
	if err != nil {
		t.Errorf("starter tier should be allowed, got %v", err)
	}
}

func TestDispatchValidatesArguments(t *testing.T) {
	r := NewRegistry(testLogger())
	tl := echoTool("get_price", PermissionNone)
	r.MustRegister(tl)

	tests := []struct {
		name string
		args json.RawMessage
	}{
		{"missing required field", json.RawMessage(`{}`)},
		{"wrong type", json.RawMessage(`{"symbol": 42}`)},
		{"unknown field", json.RawMessage(`{"symbol":"BTC","bogus":1}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Dispatch(context.Background(),
				AuthContext{Tier: subscription.TierFree}, "get_price", tt.args)
			if !errors.Is(err, ErrInvalidArguments) {
				t.Errorf("expected ErrInvalidArguments, got %v", err)
			}
		})
	}
	if tl.calls != 0 {
		t.Error("invalid arguments must not execute the tool")
	}
}

func TestDispatchValidationNamesPath(t *testing.T) {
	r := NewRegistry(testLogger())
	r.MustRegister(echoTool("get_price", PermissionNone))

	_, err := r.Dispatch(context.Background(),
		AuthContext{Tier: subscription.TierFree}, "get_price", json.RawMessage(`{"symbol": 42}`))
	if err == nil || !strings.Contains(err.Error(), "symbol") {
		t.Errorf("validation error should name the offending field, got %v", err)
	}
}

func TestDispatchSuccess(t *testing.T) {
	r := NewRegistry(testLogger())
	r.MustRegister(echoTool("get_price", PermissionNone))

	res, err := r.Dispatch(context.Background(),
		AuthContext{Tier: subscription.TierFree, RequestID: "req-1"},
		"get_price", json.RawMessage(`{"symbol":"BTC-USD"}`))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.ToolName != "get_price" {
		t.Errorf("ToolName = %q", res.ToolName)
	}
	if res.RequestID != "req-1" {
		t.Errorf("RequestID = %q", res.RequestID)
	}
	if string(res.Content) != `{"ok":true}` {
		t.Errorf("Content = %s", res.Content)
	}
}

func TestListFiltersByTier(t *testing.T) {
	r := NewRegistry(testLogger())
	r.MustRegister(echoTool("get_price", PermissionNone))
	r.MustRegister(echoTool("store_journal_entry", PermissionJournal))
	r.MustRegister(echoTool("get_portfolio", PermissionPortfolio))

	// Portfolio viewing is a free-tier feature; journal persistence is not.
	free := r.List(subscription.TierFree)
	if len(free) != 2 {
		t.Errorf("free tier should see get_price and get_portfolio, got %v", names(free))
	}
	for _, s := range free {
		if s.Name == "store_journal_entry" {
			t.Error("free tier must not see journal tools")
		}
	}

	starter := r.List(subscription.TierStarter)
	if len(starter) != 3 {
		t.Errorf("starter tier should see all 3 tools, got %v", names(starter))
	}

	premium := r.List(subscription.TierPremium)
	if len(premium) != 3 {
		t.Errorf("premium tier should see all 3 tools, got %v", names(premium))
	}
}

func TestListIsSorted(t *testing.T) {
	r := NewRegistry(testLogger())
	r.MustRegister(echoTool("zeta", PermissionNone))
	r.MustRegister(echoTool("alpha", PermissionNone))
	r.MustRegister(echoTool("mid", PermissionNone))

	listed := names(r.List(subscription.TierFree))
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if listed[i] != want[i] {
			t.Fatalf("expected sorted %v, got %v", want, listed)
		}
	}
}

func names(schemas []Schema) []string {
	out := make([]string, len(schemas))
	for i, s := range schemas {
		out[i] = s.Name
	}
	return out
}
