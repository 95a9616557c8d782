package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/fortunamind/persistgate/internal/service"
	"github.com/fortunamind/persistgate/pkg/mcp"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// requestTimeout bounds one request end to end, storage and upstream
// calls included.
const requestTimeout = 30 * time.Second

// Credential headers. Upstream credentials are optional pass-through
// material for the portfolio tools.
const (
	HeaderUserEmail         = "X-User-Email"
	HeaderSubscriptionKey   = "X-Subscription-Key"
	HeaderUpstreamAPIKey    = "X-Upstream-Api-Key"
	HeaderUpstreamAPISecret = "X-Upstream-Api-Secret"
)

// mcpHandler serves POST /mcp. Transport faults map to HTTP status
// codes; application errors inside a well-formed JSON-RPC exchange stay
// HTTP 200 with a JSON-RPC error body.
func mcpHandler(gateway *service.GatewayService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		// Parameters like charset are fine; only the media type matters.
		if contentType := r.Header.Get("Content-Type"); contentType != "" {
			mediaType, _, err := mime.ParseMediaType(contentType)
			if err != nil || mediaType != "application/json" {
				writeRPCError(w, http.StatusUnsupportedMediaType, nil,
					service.CodeParseError, "Parse error: content type must be application/json", nil)
				return
			}
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer func() { _ = r.Body.Close() }()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeRPCError(w, http.StatusRequestEntityTooLarge, nil,
					service.CodeParseError, "Parse error: request body too large (max 1MB)", nil)
				return
			}
			writeRPCError(w, http.StatusBadRequest, nil,
				service.CodeParseError, "Parse error: failed to read request body", nil)
			return
		}
		if len(body) == 0 {
			writeRPCError(w, http.StatusBadRequest, nil,
				service.CodeParseError, "Parse error: empty request body", nil)
			return
		}

		msg, err := mcp.WrapMessage(body)
		if err != nil {
			LoggerFromContext(r.Context()).Debug("rejecting malformed message", "error", err)
			// Echo the id when the envelope parsed far enough to have one.
			id := (&mcp.Message{Raw: body}).RawID()
			writeRPCError(w, http.StatusBadRequest, id,
				service.CodeParseError, "Parse error: invalid JSON-RPC message", nil)
			return
		}

		msg.Credentials = mcp.Credentials{
			Email:             r.Header.Get(HeaderUserEmail),
			SubscriptionKey:   r.Header.Get(HeaderSubscriptionKey),
			UpstreamAPIKey:    r.Header.Get(HeaderUpstreamAPIKey),
			UpstreamAPISecret: r.Header.Get(HeaderUpstreamAPISecret),
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		response := gateway.HandleMessage(ctx, msg)
		if response == nil {
			// Notification: acknowledge with 202 and no body.
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch code, retryAfter := errorInfo(response); code {
		case service.CodeLimitExceeded:
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
		case service.CodeMissingCredentials:
			w.WriteHeader(http.StatusBadRequest)
		}
		_, _ = w.Write(response)
	})
}

// errorInfo peeks at a serialized response for the two application
// errors surfaced at the HTTP layer: rate limiting (429 so off-the-shelf
// clients back off) and missing credentials (400, never 401/403).
func errorInfo(response []byte) (int, int) {
	var peek struct {
		Error *struct {
			Code int `json:"code"`
			Data *struct {
				RetryAfter int `json:"retry_after_seconds"`
			} `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(response, &peek); err != nil || peek.Error == nil {
		return 0, 0
	}
	retryAfter := 1
	if peek.Error.Data != nil && peek.Error.Data.RetryAfter > 0 {
		retryAfter = peek.Error.Data.RetryAfter
	}
	return peek.Error.Code, retryAfter
}

// writeRPCError writes a JSON-RPC error body with the given HTTP status.
func writeRPCError(w http.ResponseWriter, httpStatus int, id json.RawMessage, code int, message string, data *mcp.ErrorData) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_, _ = w.Write(mcp.NewError(id, code, message, data))
}
