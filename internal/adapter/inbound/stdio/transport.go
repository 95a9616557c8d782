// Package stdio provides the stdio transport adapter for the gateway.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fortunamind/persistgate/internal/service"
	"github.com/fortunamind/persistgate/pkg/mcp"
)

// maxLineSize caps a single stdin line at 1 MB, matching the HTTP body cap.
const maxLineSize = 1 << 20

// Transport is the inbound adapter that serves the gateway over
// newline-delimited JSON-RPC on stdin/stdout. Credentials are fixed for
// the lifetime of the process: stdio sessions belong to a single user.
type Transport struct {
	gateway     *service.GatewayService
	credentials mcp.Credentials
	logger      *slog.Logger
}

// NewTransport creates a stdio transport adapter wrapping the gateway.
// The credentials apply to every message on the session.
func NewTransport(gateway *service.GatewayService, credentials mcp.Credentials, logger *slog.Logger) *Transport {
	return &Transport{
		gateway:     gateway,
		credentials: credentials,
		logger:      logger.With("component", "stdio"),
	}
}

// Start serves messages from os.Stdin to os.Stdout. It blocks until
// stdin reaches EOF or the context is cancelled.
func (t *Transport) Start(ctx context.Context) error {
	return t.Run(ctx, os.Stdin, os.Stdout)
}

// Run reads one JSON-RPC message per line from in and writes exactly one
// response line per request to out, in order. Notifications produce no
// output. Malformed lines produce a parse error response with a null id.
func (t *Transport) Run(ctx context.Context, in io.Reader, out io.Writer) error {
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

		response := t.handleLine(ctx, line)
		if response == nil {
			continue
		}
		if err := writeLine(writer, response); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			resp := mcp.NewError(nil, service.CodeParseError, "Parse error: message too large (max 1MB)", nil)
			if werr := writeLine(writer, resp); werr != nil {
				return fmt.Errorf("write response: %w", werr)
			}
			return fmt.Errorf("read stdin: %w", err)
		}
		return fmt.Errorf("read stdin: %w", err)
	}

	t.logger.Debug("stdin closed, stopping")
	return nil
}

func (t *Transport) handleLine(ctx context.Context, line []byte) []byte {
	msg, err := mcp.WrapMessage(line)
	if err != nil {
		t.logger.Debug("rejecting malformed message", "error", err)
		return mcp.NewError(nil, service.CodeParseError, "Parse error: invalid JSON-RPC message", nil)
	}
	msg.Credentials = t.credentials
	return t.gateway.HandleMessage(ctx, msg)
}

func writeLine(w *bufio.Writer, response []byte) error {
	if _, err := w.Write(response); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// Close gracefully shuts down the transport. Stdio holds no resources.
func (t *Transport) Close() error {
	return nil
}
