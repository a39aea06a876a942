package domain

import (
	"errors"
	"fmt"
)

// Error codes. The HTTP layer maps each to a status in one place.
const (
	EINVALID      = "invalid"
	EUNAUTHORIZED = "unauthorized"
	EFORBIDDEN    = "forbidden"
	ENOTFOUND     = "not_found"
	ECONFLICT     = "conflict" // also: stale or replayed webhook event
	EGONE         = "gone"
	ETOOLARGE     = "too_large"
	ERATELIMIT    = "rate_limit"
	EINTERNAL     = "internal"
	ENOTIMPL      = "not_impl"
	EPAYMENT      = "payment" // plan limit reached or paid plan required

	EPLAN         = "invalid_plan"
	ESIGNATURE    = "invalid_signature"
	EUNRESOLVABLE = "unresolvable_subscriber"
	ESTORE        = "store_unavailable"
	EPROVIDER     = "provider_unavailable"
)

const internalMessage = "An internal error occurred. Please try again later."

// Error carries a machine-readable code, the operation that failed
// ("checkout.create"), a message safe to show callers and an optional cause.
type Error struct {
	Code    string
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, op, message string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: cause}
}

// Errorf builds an Error with a formatted message and no cause.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return newError(code, op, fmt.Sprintf(format, args...), nil)
}

func asError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// ErrorCode returns the code of the outermost *Error in err's chain,
// EINTERNAL for foreign errors and "" for nil.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := asError(err); ok {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage never leaks the text of internal or foreign errors.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := asError(err); ok && e.Code != EINTERNAL {
		return e.Message
	}
	return internalMessage
}

func ErrorOp(err error) string {
	if e, ok := asError(err); ok {
		return e.Op
	}
	return ""
}

// IsRetryable reports whether repeating the same request may succeed.
func IsRetryable(err error) bool {
	switch ErrorCode(err) {
	case EPROVIDER, ESTORE, ERATELIMIT:
		return true
	}
	return false
}

func NotFound(op, resource, id string) *Error {
	return newError(ENOTFOUND, op, fmt.Sprintf("%s with ID %q not found", resource, id), nil)
}

func Invalid(op, message string) *Error {
	return newError(EINVALID, op, message, nil)
}

func Forbidden(op, message string) *Error {
	return newError(EFORBIDDEN, op, message, nil)
}

func Internal(err error, op, message string) *Error {
	return newError(EINTERNAL, op, message, err)
}

// InvalidPlan is returned for ids missing from the catalog or not purchasable.
func InvalidPlan(op, planID string) *Error {
	return newError(EPLAN, op, fmt.Sprintf("plan %q is not available", planID), nil)
}

func InvalidSignature(err error, op string) *Error {
	return newError(ESIGNATURE, op, "invalid webhook signature", err)
}

// UnresolvableSubscriber marks a webhook event that maps to no user. The
// event is dead-lettered rather than dropped.
func UnresolvableSubscriber(op, reason string) *Error {
	return newError(EUNRESOLVABLE, op, reason, nil)
}

// StoreUnavailable marks a backing store failure. Reads degrade to the demo
// subscription; writes surface it.
func StoreUnavailable(err error, op string) *Error {
	return newError(ESTORE, op, "The subscription store is unavailable. Please try again later.", err)
}

func ProviderUnavailable(err error, op string) *Error {
	return newError(EPROVIDER, op, "The payment provider is unavailable. Please try again.", err)
}

// ValidationError collects per-field messages for a rejected request body.
type ValidationError struct {
	Op     string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation failed", e.Op)
}

func NewValidationError(op, field, message string) *ValidationError {
	return &ValidationError{Op: op, Fields: map[string]string{field: message}}
}
