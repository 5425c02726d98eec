package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Predefined errors
var (
	// Record errors
	ErrInvalidSymbol    = &Error{Code: "INVALID_SYMBOL", Message: "symbol is empty after normalization"}
	ErrMalformedPayload = &Error{Code: "MALFORMED_PAYLOAD", Message: "malformed message payload"}
	ErrNotFound         = &Error{Code: "NOT_FOUND", Message: "record not found"}

	// Event log errors
	ErrStreamUnavailable = &Error{Code: "STREAM_UNAVAILABLE", Message: "event log unavailable"}

	// Source errors
	ErrAllSourcesFailed = &Error{Code: "ALL_SOURCES_FAILED", Message: "all data sources failed"}

	// Strategy errors
	ErrStrategyFailed = &Error{Code: "STRATEGY_FAILED", Message: "strategy evaluation failed"}
	ErrNoStrategies   = &Error{Code: "NO_STRATEGIES", Message: "no strategies loaded"}

	// Persistence errors
	ErrFlushFailed = &Error{Code: "FLUSH_FAILED", Message: "batch flush failed"}

	// Fan-out errors
	ErrSlowSubscriber = &Error{Code: "SLOW_SUBSCRIBER", Message: "subscriber queue full"}
	ErrNotifierFailed = &Error{Code: "NOTIFIER_FAILED", Message: "notifier failed"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
