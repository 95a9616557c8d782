package service

import (
	"context"
	"errors"

	"github.com/fortunamind/persistgate/internal/adapter/outbound/upstream"
	"github.com/fortunamind/persistgate/internal/domain/identity"
	"github.com/fortunamind/persistgate/internal/domain/storage"
	"github.com/fortunamind/persistgate/internal/domain/subscription"
	"github.com/fortunamind/persistgate/internal/domain/tool"
)

// JSON-RPC error codes. The -32000 range below -32603 is reserved for
// application errors.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeMissingCredentials = -32001
	CodeUnauthorized       = -32002
	CodeLimitExceeded      = -32003
	CodeUnavailable        = -32004
	CodeTimeout            = -32005
)

// AppError is a JSON-RPC-mappable service error. Message and Kind are
// safe for clients; they never carry credentials or internal detail.
type AppError struct {
	Code       int
	Message    string
	Kind       string
	Retryable  bool
	RetryAfter int // seconds, 0 when not applicable
}

func (e *AppError) Error() string { return e.Message }

func missingCredentials(detail string) *AppError {
	return &AppError{
		Code:    CodeMissingCredentials,
		Message: "Missing credentials: " + detail,
		Kind:    "missing_credentials",
	}
}

func unauthorized(reason subscription.Reason) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: "Subscription validation failed",
		Kind:    string(reason),
	}
}

func limitExceeded(window string, retryAfter int) *AppError {
	return &AppError{
		Code:       CodeLimitExceeded,
		Message:    "Rate limit exceeded for " + window + " window",
		Kind:       "rate_limited",
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

func unavailable(what string) *AppError {
	return &AppError{
		Code:      CodeUnavailable,
		Message:   what + " temporarily unavailable",
		Kind:      "unavailable",
		Retryable: true,
	}
}

// mapToolError translates errors surfacing from tool dispatch into
// client-facing AppErrors.
func mapToolError(err error) *AppError {
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, tool.ErrUnknownTool):
		return &AppError{Code: CodeMethodNotFound, Message: err.Error(), Kind: "unknown_tool"}
	case errors.Is(err, tool.ErrForbidden):
		return &AppError{Code: CodeUnauthorized, Message: err.Error(), Kind: "forbidden"}
	case errors.Is(err, tool.ErrInvalidArguments):
		return &AppError{Code: CodeInvalidParams, Message: err.Error(), Kind: "invalid_arguments"}
	case errors.Is(err, identity.ErrInvalidEmail):
		return &AppError{Code: CodeInvalidParams, Message: err.Error(), Kind: "invalid_email"}
	case errors.Is(err, storage.ErrNotFound):
		return &AppError{Code: CodeInvalidParams, Message: "record not found", Kind: "not_found"}
	case errors.Is(err, storage.ErrConflict):
		return &AppError{Code: CodeInvalidParams, Message: "record already exists", Kind: "conflict"}
	case errors.Is(err, storage.ErrQuotaExceeded):
		return &AppError{Code: CodeLimitExceeded, Message: err.Error(), Kind: "quota_exceeded"}
	case errors.Is(err, storage.ErrUnavailable):
		return unavailable("storage backend")
	case errors.Is(err, subscription.ErrStoreUnavailable):
		return unavailable("subscription registry")
	case errors.Is(err, upstream.ErrUnavailable):
		return unavailable("upstream exchange")
	case errors.Is(err, upstream.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: CodeTimeout, Message: "upstream request timed out", Kind: "timeout", Retryable: true}
	case errors.Is(err, upstream.ErrRejected):
		return &AppError{Code: CodeInvalidParams, Message: "upstream rejected request", Kind: "upstream_rejected"}
	default:
		// Unknown errors are masked; detail goes to the log, not the
		// client.
		return &AppError{Code: CodeInternalError, Message: "Internal error", Kind: "internal"}
	}
}
