package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeNotFound              Code = "NOT_FOUND"
	CodeInsufficientStock     Code = "INSUFFICIENT_STOCK"
	CodeInvalidShippingMethod Code = "INVALID_SHIPPING_METHOD"
	CodeCartEmpty             Code = "CART_EMPTY"
	CodeCartNotFound          Code = "CART_NOT_FOUND"
	CodeInvalidTransition     Code = "INVALID_TRANSITION"
	CodeInvalidInterval       Code = "INVALID_INTERVAL"
	CodeSlotUnavailable       Code = "SLOT_UNAVAILABLE"
	CodeNotAuthorized         Code = "NOT_AUTHORIZED"
	CodeGracePeriodExpired    Code = "GRACE_PERIOD_EXPIRED"
	CodeUnauthenticated       Code = "UNAUTHENTICATED"
	CodePaymentFailed         Code = "PAYMENT_FAILED"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeInternal              Code = "INTERNAL"
)

// Error is the structured failure reported to callers of the core.
// Fields carries optional per-field detail (validation errors).
type Error struct {
	Code    Code              `json:"code"`
	Message string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error carrying the same code, so callers can compare
// against the package sentinels regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(fields map[string]string) *Error {
	return &Error{Code: CodeValidation, Message: "validation error", Fields: fields}
}

var (
	ErrValidation            = &Error{Code: CodeValidation, Message: "validation error"}
	ErrNotFound              = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInsufficientStock     = &Error{Code: CodeInsufficientStock, Message: "insufficient stock"}
	ErrInvalidShippingMethod = &Error{Code: CodeInvalidShippingMethod, Message: "invalid or inactive shipping method"}
	ErrCartEmpty             = &Error{Code: CodeCartEmpty, Message: "cart is empty"}
	ErrCartNotFound          = &Error{Code: CodeCartNotFound, Message: "cart not found"}
	ErrInvalidTransition     = &Error{Code: CodeInvalidTransition, Message: "invalid status transition"}
	ErrInvalidInterval       = &Error{Code: CodeInvalidInterval, Message: "end time must be after start time"}
	ErrSlotUnavailable       = &Error{Code: CodeSlotUnavailable, Message: "time slot already booked"}
	ErrNotAuthorized         = &Error{Code: CodeNotAuthorized, Message: "not authorized"}
	ErrGracePeriodExpired    = &Error{Code: CodeGracePeriodExpired, Message: "grace period expired"}
	ErrUnauthenticated       = &Error{Code: CodeUnauthenticated, Message: "unauthenticated"}
	ErrPaymentFailed         = &Error{Code: CodePaymentFailed, Message: "failed to initiate payment"}
	ErrRateLimited           = &Error{Code: CodeRateLimited, Message: "too many requests"}
)

// From extracts the *Error from err's chain. Anything else becomes an
// internal error whose message is not exposed.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Message: "internal server error"}
}
