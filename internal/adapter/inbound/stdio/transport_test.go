package stdio

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/fortunamind/persistgate/internal/adapter/outbound/memory"
	"github.com/fortunamind/persistgate/internal/domain/identity"
	"github.com/fortunamind/persistgate/internal/domain/ratelimit"
	"github.com/fortunamind/persistgate/internal/domain/subscription"
	"github.com/fortunamind/persistgate/internal/domain/tool"
	"github.com/fortunamind/persistgate/internal/service"
	"github.com/fortunamind/persistgate/internal/tools"
	"github.com/fortunamind/persistgate/pkg/mcp"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestTransport(t *testing.T, creds mcp.Credentials) *Transport {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	subs := memory.NewSubscriptionStore()
	subs.Put(&subscription.Record{
		Email:     "user@example.com",
		Key:       "fm_sub_validkey1",
		Tier:      subscription.TierPremium,
		Status:    subscription.StatusActive,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	})

	backend := memory.NewStorage()
	registry := tool.NewRegistry(logger)
	if err := tools.RegisterAll(registry, backend, nil, nil); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	gateway := service.NewGatewayService(
		identity.NewDeriver(""),
		subscription.NewValidator(subs, logger),
		ratelimit.NewSlidingLimiter(logger),
		registry,
		backend,
		subs,
		logger,
	)
	return NewTransport(gateway, creds, logger)
}

func validCreds() mcp.Credentials {
	return mcp.Credentials{
		Email:           "user@example.com",
		SubscriptionKey: "fm_sub_validkey1",
	}
}

func runSession(t *testing.T, tr *Transport, input string) []string {
	t.Helper()
	var out strings.Builder
	if err := tr.Run(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	trimmed := strings.TrimSpace(out.String())
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

type rpcLine struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseLine(t *testing.T, line string) *rpcLine {
	t.Helper()
	var resp rpcLine
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v\n%s", err, line)
	}
	return &resp
}

func TestRequestResponse(t *testing.T) {
	tr := newTestTransport(t, validCreds())
	lines := runSession(t, tr, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`+"\n")

	if len(lines) != 1 {
		t.Fatalf("got %d response lines, want 1", len(lines))
	}
	resp := parseLine(t, lines[0])
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if string(resp.ID) != "1" {
		t.Errorf("id = %s, want 1", resp.ID)
	}
}

func TestNotificationProducesNoOutput(t *testing.T) {
	tr := newTestTransport(t, validCreds())
	lines := runSession(t, tr, `{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n")
	if len(lines) != 0 {
		t.Errorf("notification produced output: %v", lines)
	}
}

func TestMalformedLineGetsParseError(t *testing.T) {
	tr := newTestTransport(t, validCreds())
	lines := runSession(t, tr, "{not json\n")

	if len(lines) != 1 {
		t.Fatalf("got %d response lines, want 1", len(lines))
	}
	resp := parseLine(t, lines[0])
	if resp.Error == nil || resp.Error.Code != service.CodeParseError {
		t.Errorf("expected parse error, got %+v", resp.Error)
	}
	if string(resp.ID) != "null" {
		t.Errorf("parse error id = %s, want null", resp.ID)
	}
}

func TestResponsesPreserveOrder(t *testing.T) {
	tr := newTestTransport(t, validCreds())
	input := `{"jsonrpc":"2.0","id":"a","method":"ping"}` + "\n" +
		`{"jsonrpc":"2.0","id":"b","method":"ping"}` + "\n" +
		`{"jsonrpc":"2.0","id":"c","method":"ping"}` + "\n"
	lines := runSession(t, tr, input)

	if len(lines) != 3 {
		t.Fatalf("got %d response lines, want 3", len(lines))
	}
	want := []string{`"a"`, `"b"`, `"c"`}
	for i, line := range lines {
		resp := parseLine(t, line)
		if string(resp.ID) != want[i] {
			t.Errorf("line %d: id = %s, want %s", i, resp.ID, want[i])
		}
	}
}

func TestEmptyLinesSkipped(t *testing.T) {
	tr := newTestTransport(t, validCreds())
	input := "\n\n" + `{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n\n"
	lines := runSession(t, tr, input)
	if len(lines) != 1 {
		t.Errorf("got %d response lines, want 1", len(lines))
	}
}

func TestMissingCredentials(t *testing.T) {
	tr := newTestTransport(t, mcp.Credentials{})
	lines := runSession(t, tr, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_user_stats"}}`+"\n")

	if len(lines) != 1 {
		t.Fatalf("got %d response lines, want 1", len(lines))
	}
	resp := parseLine(t, lines[0])
	if resp.Error == nil || resp.Error.Code != service.CodeMissingCredentials {
		t.Errorf("expected %d, got %+v", service.CodeMissingCredentials, resp.Error)
	}
}

func TestToolCallOverStdio(t *testing.T) {
	tr := newTestTransport(t, validCreds())
	input := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"store_journal_entry","arguments":{"content":"stdio entry"}}}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_journal_entries","arguments":{}}}` + "\n"
	lines := runSession(t, tr, input)

	if len(lines) != 2 {
		t.Fatalf("got %d response lines, want 2", len(lines))
	}
	second := parseLine(t, lines[1])
	if second.Error != nil {
		t.Fatalf("unexpected error: %+v", second.Error)
	}
	if !strings.Contains(string(second.Result), "stdio entry") {
		t.Errorf("expected stored entry in listing, got %s", second.Result)
	}
}

func TestContextCancellationStopsRun(t *testing.T) {
	tr := newTestTransport(t, validCreds())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in, w := io.Pipe()
	defer w.Close()
	go func() {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n"))
	}()

	var out strings.Builder
	err := tr.Run(ctx, in, &out)
	if err != context.Canceled {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestClose(t *testing.T) {
	tr := newTestTransport(t, validCreds())
	if err := tr.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
}
