// Package bridge connects a stdio MCP client to a remote gateway over HTTP.
//
// Desktop MCP clients speak newline-delimited JSON-RPC on stdio. The
// bridge forwards each line to the gateway's /mcp endpoint with the
// session credentials as headers and relays the response body back as
// one line on stdout.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fortunamind/persistgate/internal/service"
	"github.com/fortunamind/persistgate/pkg/mcp"
)

const (
	maxLineSize     = 1 << 20
	maxResponseSize = 4 << 20
	defaultTimeout  = 30 * time.Second

	headerUserEmail         = "X-User-Email"
	headerSubscriptionKey   = "X-Subscription-Key"
	headerUpstreamAPIKey    = "X-Upstream-Api-Key"
	headerUpstreamAPISecret = "X-Upstream-Api-Secret"
)

// Bridge relays newline-delimited JSON-RPC between a stdio peer and a
// remote gateway endpoint.
type Bridge struct {
	endpoint    string
	credentials mcp.Credentials
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option is a functional option for configuring Bridge.
type Option func(*Bridge)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. Used in tests.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Bridge) {
		b.httpClient = client
	}
}

// New creates a bridge targeting the given gateway /mcp endpoint URL.
func New(endpoint string, credentials mcp.Credentials, logger *slog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		endpoint:    strings.TrimRight(endpoint, "/"),
		credentials: credentials,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		logger:      logger.With("component", "bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start relays between os.Stdin and os.Stdout until stdin closes.
func (b *Bridge) Start(ctx context.Context) error {
	return b.Run(ctx, os.Stdin, os.Stdout)
}

// Run reads one message per line from in and writes one response line
// per request to out, preserving order. Requests that fail at the HTTP
// layer produce a JSON-RPC error response carrying the original id, so
// the stdio peer never hangs waiting for a reply.
func (b *Bridge) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	writer := bufio.NewWriter(out)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		response := b.forward(ctx, line)
		if response == nil {
			continue
		}
		if _, err := writer.Write(response); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := writer.Flush(); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	b.logger.Debug("stdin closed, stopping")
	return nil
}

// forward posts one message to the gateway. A nil return means the
// message was a notification and needs no response line.
func (b *Bridge) forward(ctx context.Context, line []byte) []byte {
	id := requestID(line)
	notification := isNotification(line)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(line))
	if err != nil {
		return b.transportError(id, notification, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerUserEmail, b.credentials.Email)
	req.Header.Set(headerSubscriptionKey, b.credentials.SubscriptionKey)
	if b.credentials.UpstreamAPIKey != "" {
		req.Header.Set(headerUpstreamAPIKey, b.credentials.UpstreamAPIKey)
		req.Header.Set(headerUpstreamAPISecret, b.credentials.UpstreamAPISecret)
	}

	start := time.Now()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.logger.Warn("gateway request failed", "error", err.Error())
		if ctx.Err() != nil || isTimeout(err) {
			return b.transportError(id, notification, "gateway request timed out")
		}
		return b.transportError(id, notification, "gateway unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return b.transportError(id, notification, "failed to read gateway response")
	}

	b.logger.Debug("forwarded message",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	// 202 acknowledges a notification, nothing to relay.
	if resp.StatusCode == http.StatusAccepted || len(bytes.TrimSpace(body)) == 0 {
		if notification {
			return nil
		}
		return b.transportError(id, notification, "gateway returned empty response")
	}

	// Proxies in front of the gateway can answer 5xx with HTML. Relaying
	// that raw would break line framing and orphan the request id, so
	// anything that is not JSON becomes a synthesized error. Compacting
	// also collapses pretty-printed bodies to one line.
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, bytes.TrimSpace(body)); err != nil {
		b.logger.Warn("gateway returned non-JSON response", "status", resp.StatusCode)
		return b.transportError(id, notification, "gateway returned malformed response")
	}
	return compacted.Bytes()
}

func (b *Bridge) transportError(id []byte, notification bool, message string) []byte {
	if notification {
		return nil
	}
	return mcp.NewError(id, service.CodeUnavailable, "Service unavailable: "+message, nil)
}

// requestID extracts the raw id from a request line so error responses
// can echo it. Returns nil (rendered as null) when absent or unparsable.
func requestID(line []byte) []byte {
	msg, err := mcp.WrapMessage(line)
	if err != nil {
		return nil
	}
	return msg.RawID()
}

func isNotification(line []byte) bool {
	msg, err := mcp.WrapMessage(line)
	if err != nil {
		return false
	}
	return msg.IsNotification()
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	for e := err; e != nil; {
		if t, ok := e.(timeout); ok && t.Timeout() {
			return true
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := e.(unwrapper)
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
