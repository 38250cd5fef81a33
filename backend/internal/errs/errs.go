// Package errs provides the stable error codes surfaced by the order back office.
package errs

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Code identifies a stable, client-visible error category.
type Code string

const (
	// CodeNotFound indicates a missing account, symbol or order.
	CodeNotFound Code = "not_found"
	// CodeUnauthorized indicates a PIN mismatch, an ownership mismatch or a missing capability.
	CodeUnauthorized Code = "unauthorized"
	// CodeInsufficientFunds indicates the account's line available cannot cover a buy.
	CodeInsufficientFunds Code = "insufficient_funds"
	// CodeInsufficientHoldings indicates the account holds fewer units than it tries to sell.
	CodeInsufficientHoldings Code = "insufficient_holdings"
	// CodeNoHoldingsToSell indicates the account has no settled position at all.
	CodeNoHoldingsToSell Code = "no_holdings_to_sell"
	// CodeAlreadyCancelled indicates the order is no longer open.
	CodeAlreadyCancelled Code = "already_cancelled"
	// CodeValidation indicates a malformed request payload.
	CodeValidation Code = "validation_error"
	// CodeConflict indicates the operation kept losing to concurrent writers.
	CodeConflict Code = "conflict"
	// CodeThrottled indicates the caller exceeded its order-entry rate.
	CodeThrottled Code = "throttled"
	// CodeInternal captures uncategorized failures.
	CodeInternal Code = "internal"
)

// E is the error envelope returned by the order lifecycle operations.
type E struct {
	Code    Code
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the code.
func New(code Code, opts ...Option) *E {
	e := &E{Code: code}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = string(CodeInternal)
	}
	parts := []string{"code=" + code}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}
	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// NotFound reports a missing resource.
func NotFound(msg string) *E { return New(CodeNotFound, WithMessage(msg)) }

// Unauthorized reports a failed PIN, ownership or capability check.
func Unauthorized(msg string) *E { return New(CodeUnauthorized, WithMessage(msg)) }

// Throttled reports a caller over its request rate.
func Throttled(msg string) *E { return New(CodeThrottled, WithMessage(msg)) }

// Validation reports a malformed payload.
func Validation(msg string) *E { return New(CodeValidation, WithMessage(msg)) }

// CodeOf returns the code carried by err, or CodeInternal when err is not an envelope.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	var e *E
	if errors.As(err, &e) && e != nil && e.Message != "" {
		return e.Message
	}
	return "Internal server error"
}

// HTTPStatus maps a code onto the HTTP status returned to clients.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeUnauthorized:
		return fiber.StatusUnauthorized
	case CodeInsufficientFunds, CodeInsufficientHoldings, CodeValidation, CodeAlreadyCancelled:
		return fiber.StatusBadRequest
	case CodeNoHoldingsToSell:
		return fiber.StatusNotFound
	case CodeConflict:
		return fiber.StatusConflict
	case CodeThrottled:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}
