package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// AppError is an HTTP-facing error. Details, when set, gives the client
// enough structure to act on the failure (retry delay, required credit)
// instead of showing a generic message.
type AppError struct {
	Code    int            `json:"-"`
	Message string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest         = &AppError{Code: http.StatusBadRequest, Message: "bad request"}
	ErrUnauthorized       = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrNotFound           = &AppError{Code: http.StatusNotFound, Message: "not found"}
	ErrInternalServer     = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}
	ErrInvalidCredentials = &AppError{Code: http.StatusUnauthorized, Message: "invalid email or password"}
	ErrEmailAlreadyExists = &AppError{Code: http.StatusConflict, Message: "email already registered"}
	ErrInvalidToken       = &AppError{Code: http.StatusUnauthorized, Message: "invalid or expired token"}
	ErrValidation         = &AppError{Code: http.StatusBadRequest, Message: "validation error"}

	ErrProviderUnavailable = &AppError{Code: http.StatusServiceUnavailable, Message: "translation providers unavailable"}
	ErrRelayUnreachable    = &AppError{Code: http.StatusBadGateway, Message: "companion device unreachable"}
	ErrRelayTimeout        = &AppError{Code: http.StatusGatewayTimeout, Message: "companion device did not respond"}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

// NewRateLimitedError carries the retry delay both as a structured detail
// and (via WriteError) as a Retry-After header. Sub-second delays round up
// to one second; Retry-After: 0 is useless to a client.
func NewRateLimitedError(retryAfter time.Duration) *AppError {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return &AppError{
		Code:    http.StatusTooManyRequests,
		Message: "rate limit exceeded",
		Details: map[string]any{
			"retry_after_seconds": seconds,
		},
	}
}

// NewInsufficientCreditError tells the client how short the balance is so it
// can render a purchase prompt rather than a generic failure.
func NewInsufficientCreditError(remaining, required int64) *AppError {
	return &AppError{
		Code:    http.StatusPaymentRequired,
		Message: "insufficient translation credit",
		Details: map[string]any{
			"remaining_seconds": remaining,
			"required_seconds":  required,
		},
	}
}

func NewPurchaseVerificationError(msg string) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Message: msg}
}

// WriteError renders err as JSON. Unrecognized errors become opaque 500s.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		JSONErrorMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if appErr.Code == http.StatusTooManyRequests {
		if ra, ok := appErr.Details["retry_after_seconds"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(ra))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Code)
	json.NewEncoder(w).Encode(Response{Error: appErr.Message, Details: appErr.Details})
}
