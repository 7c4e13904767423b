package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// Wrap adds message to err while keeping err in the chain. A nil err
// yields nil.
//
// An *Error anywhere in the chain lends its code, category, retryability,
// metadata and ids to the wrapper. Otherwise context.DeadlineExceeded maps
// to TIMEOUT, context.Canceled to CANCELED and anything else to INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	inner, ok := AsError(err)
	if !ok {
		return New(codeForCause(err), message, append(opts, WithCause(err))...)
	}

	w := &Error{
		code:      inner.code,
		category:  inner.category,
		message:   message,
		cause:     err,
		metadata:  inner.Metadata(),
		retryable: inner.retryable,
		timestamp: inner.timestamp,
		agentID:   inner.agentID,
		taskID:    inner.taskID,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// codeForCause classifies an error that carries no code of its own.
func codeForCause(err error) ErrorCode {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		return ErrCodeCanceled
	default:
		return ErrCodeInternal
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether the first *Error in err's chain has code.
func Is(err error, code ErrorCode) bool {
	return Code(err) == code
}

// IsRetryable reports whether err is an *Error marked retryable. Plain
// errors are never retried.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Retryable()
}

// Code returns the code of the first *Error in err's chain, or "".
func Code(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.code
	}
	return ""
}

// RecoverPanic turns a value returned by recover into a PANIC error. The
// goroutine's stack is kept under the "stack" metadata key, so call it
// from the deferred function that recovered.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}

	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprint(v)
	}
	return New(ErrCodePanic, message,
		WithMetadata("panic_value", fmt.Sprintf("%T", recovered)),
		WithMetadata("stack", string(debug.Stack())))
}
