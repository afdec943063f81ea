// Package idempotency provides request-level idempotency for mutating HTTP
// endpoints: key validation, a two-tier replay cache, a short-lived
// distributed lock around the per-key critical section, and an oversell
// guard for inventory-constrained handlers.
package idempotency

import (
	"net/http"

	"metapus/internal/core/apperror"
)

// Error codes specific to the idempotency core. These compose with the
// platform-wide apperror.AppError taxonomy so the existing error middleware
// maps them to HTTP responses without any idempotency-specific branching.
const (
	CodeInvalidIdempotencyKey = "INVALID_IDEMPOTENCY_KEY"
	CodeConcurrentRequest     = "CONCURRENT_IDEMPOTENT_REQUEST"
	CodeOverSell              = "OVERSELL"
	CodeIdempotencyBackend    = "IDEMPOTENCY_BACKEND_ERROR"
)

// NewInvalidKey reports a syntactically invalid idempotency key (400).
func NewInvalidKey(reason string) *apperror.AppError {
	return &apperror.AppError{
		Code:       CodeInvalidIdempotencyKey,
		Message:    "Invalid idempotency key",
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"reason": reason},
	}
}

// NewConcurrentRequest reports that the per-key lock could not be acquired
// within the retry budget (429). Safe for the client to retry with the same
// key.
func NewConcurrentRequest(key string, retryAfterSeconds int) *apperror.AppError {
	return &apperror.AppError{
		Code:       CodeConcurrentRequest,
		Message:    "Concurrent request detected",
		HTTPStatus: http.StatusTooManyRequests,
		Details: map[string]any{
			"idempotency_key": key,
			"retry_after":     retryAfterSeconds,
		},
	}
}

// NewOverSellInsufficientStock reports a quantity request that exceeds
// available stock (409).
func NewOverSellInsufficientStock(productID string, requested, available int64) *apperror.AppError {
	return &apperror.AppError{
		Code:       CodeOverSell,
		Message:    "Insufficient stock",
		HTTPStatus: http.StatusConflict,
		Details: map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
		},
	}
}

// NewOverSellUnknownProduct reports a product with no known stock counter (409).
func NewOverSellUnknownProduct(productID string) *apperror.AppError {
	return &apperror.AppError{
		Code:       CodeOverSell,
		Message:    "Product not found",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"product_id": productID},
	}
}

// NewBackendError wraps a transient storage or lock backend failure.
// Callers in the pre-execution phase surface this as 5xx; the post-execution
// store path logs and swallows it per spec.
func NewBackendError(op string, err error) *apperror.AppError {
	return (&apperror.AppError{
		Code:       CodeIdempotencyBackend,
		Message:    "Idempotency backend error",
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"op": op},
	}).WithCause(err)
}
