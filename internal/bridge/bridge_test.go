package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortunamind/persistgate/internal/service"
	"github.com/fortunamind/persistgate/pkg/mcp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCreds() mcp.Credentials {
	return mcp.Credentials{
		Email:           "user@example.com",
		SubscriptionKey: "fm_sub_secretkey",
	}
}

func runBridge(t *testing.T, b *Bridge, input string) []string {
	t.Helper()
	var out strings.Builder
	if err := b.Run(context.Background(), strings.NewReader(input), &out); err != nil {
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

func TestForwardsRequestWithCredentialHeaders(t *testing.T) {
	var gotEmail, gotKey atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEmail.Store(r.Header.Get("X-User-Email"))
		gotKey.Store(r.Header.Get("X-Subscription-Key"))
		body, _ := io.ReadAll(r.Body)
		msg, _ := mcp.WrapMessage(body)
		resp, _ := mcp.NewResponse(msg.RawID(), map[string]string{"status": "ok"})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(resp)
	}))
	defer server.Close()

	b := New(server.URL, testCreds(), testLogger())
	lines := runBridge(t, b, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")

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
	if gotEmail.Load() != "user@example.com" {
		t.Errorf("email header = %v", gotEmail.Load())
	}
	if gotKey.Load() != "fm_sub_secretkey" {
		t.Errorf("key header = %v", gotKey.Load())
	}
}

func TestOrderPreservedAcrossRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		msg, _ := mcp.WrapMessage(body)
		resp, _ := mcp.NewResponse(msg.RawID(), map[string]string{"status": "ok"})
		_, _ = w.Write(resp)
	}))
	defer server.Close()

	b := New(server.URL, testCreds(), testLogger())
	input := `{"jsonrpc":"2.0","id":"a","method":"ping"}` + "\n" +
		`{"jsonrpc":"2.0","id":"b","method":"ping"}` + "\n" +
		`{"jsonrpc":"2.0","id":"c","method":"ping"}` + "\n"
	lines := runBridge(t, b, input)

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

func TestGatewayUnreachableProducesErrorWithID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	b := New(server.URL, testCreds(), testLogger())
	lines := runBridge(t, b, `{"jsonrpc":"2.0","id":42,"method":"ping"}`+"\n")

	if len(lines) != 1 {
		t.Fatalf("got %d response lines, want 1", len(lines))
	}
	resp := parseLine(t, lines[0])
	if resp.Error == nil || resp.Error.Code != service.CodeUnavailable {
		t.Fatalf("expected %d, got %+v", service.CodeUnavailable, resp.Error)
	}
	if string(resp.ID) != "42" {
		t.Errorf("id = %s, want 42", resp.ID)
	}
}

func TestTimeoutProducesErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	b := New(server.URL, testCreds(), testLogger(), WithTimeout(20*time.Millisecond))
	lines := runBridge(t, b, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")

	if len(lines) != 1 {
		t.Fatalf("got %d response lines, want 1", len(lines))
	}
	resp := parseLine(t, lines[0])
	if resp.Error == nil || resp.Error.Code != service.CodeUnavailable {
		t.Errorf("expected %d, got %+v", service.CodeUnavailable, resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "timed out") {
		t.Errorf("expected timeout message, got %q", resp.Error.Message)
	}
}

func TestNotificationRelayedWithoutResponseLine(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b := New(server.URL, testCreds(), testLogger())
	lines := runBridge(t, b, `{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n")

	if len(lines) != 0 {
		t.Errorf("notification produced output: %v", lines)
	}
	if received.Load() != 1 {
		t.Errorf("notification not forwarded, server saw %d requests", received.Load())
	}
}

func TestNotificationFailureStaysSilent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	b := New(server.URL, testCreds(), testLogger())
	lines := runBridge(t, b, `{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n")
	if len(lines) != 0 {
		t.Errorf("notification failure produced output: %v", lines)
	}
}

func TestErrorOutputNeverContainsSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	b := New(server.URL, testCreds(), testLogger())
	var out strings.Builder
	input := `{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n"
	if err := b.Run(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if strings.Contains(out.String(), "fm_sub_secretkey") {
		t.Error("subscription key leaked to stdout")
	}
}

func TestUpstreamHTMLErrorBecomesSingleErrorLine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>\n<body>502 Bad Gateway</body>\n</html>\n")
	}))
	defer server.Close()

	b := New(server.URL, testCreds(), testLogger())
	lines := runBridge(t, b, `{"jsonrpc":"2.0","id":7,"method":"tools/list"}`+"\n")

	if len(lines) != 1 {
		t.Fatalf("got %d response lines, want 1", len(lines))
	}
	resp := parseLine(t, lines[0])
	if resp.Error == nil || resp.Error.Code != service.CodeUnavailable {
		t.Fatalf("expected %d, got %+v", service.CodeUnavailable, resp.Error)
	}
	if string(resp.ID) != "7" {
		t.Errorf("id = %s, want 7", resp.ID)
	}
}

func TestPrettyPrintedResponseCollapsedToOneLine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, "{\n  \"jsonrpc\": \"2.0\",\n  \"id\": 3,\n  \"result\": {}\n}\n")
	}))
	defer server.Close()

	b := New(server.URL, testCreds(), testLogger())
	lines := runBridge(t, b, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`+"\n")

	if len(lines) != 1 {
		t.Fatalf("got %d response lines, want 1", len(lines))
	}
	resp := parseLine(t, lines[0])
	if resp.Error != nil || string(resp.ID) != "3" {
		t.Errorf("unexpected response: %s", lines[0])
	}
}

func TestRateLimitedResponseRelayedVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write(mcp.NewError(json.RawMessage("1"), service.CodeLimitExceeded,
			"Rate limit exceeded", &mcp.ErrorData{Kind: "quota_exceeded", Retryable: true, RetryAfter: 30}))
	}))
	defer server.Close()

	b := New(server.URL, testCreds(), testLogger())
	lines := runBridge(t, b, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_user_stats"}}`+"\n")

	if len(lines) != 1 {
		t.Fatalf("got %d response lines, want 1", len(lines))
	}
	resp := parseLine(t, lines[0])
	if resp.Error == nil || resp.Error.Code != service.CodeLimitExceeded {
		t.Errorf("expected %d, got %+v", service.CodeLimitExceeded, resp.Error)
	}
}
