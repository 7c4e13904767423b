package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Configuration and capacity problems the caller must resolve live here.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates backpressure or exhaustion.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates bugs or violated invariants.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Registry and strategy errors
	ErrCodeDuplicateAgent    ErrorCode = "DUPLICATE_AGENT"
	ErrCodeUnknownAgent      ErrorCode = "UNKNOWN_AGENT"
	ErrCodeNoAgentsAvailable ErrorCode = "NO_AGENTS_AVAILABLE"
	ErrCodeNoCapableAgent    ErrorCode = "NO_CAPABLE_AGENT"

	// Messaging errors
	ErrCodeUnknownRecipient ErrorCode = "UNKNOWN_RECIPIENT"

	// Execution errors
	ErrCodeExecutorSaturated ErrorCode = "EXECUTOR_SATURATED"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
	ErrCodeWorkError         ErrorCode = "WORK_ERROR"
	ErrCodeCanceled          ErrorCode = "CANCELED"

	// General errors
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeClosed       ErrorCode = "CLOSED"
	ErrCodeCoordination ErrorCode = "COORDINATION"
	ErrCodeAssertion    ErrorCode = "ASSERTION"
	ErrCodePanic        ErrorCode = "PANIC"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeWorkError, ErrCodePanic:
		return CategoryTransient

	case ErrCodeDuplicateAgent, ErrCodeUnknownAgent, ErrCodeNoAgentsAvailable,
		ErrCodeNoCapableAgent, ErrCodeUnknownRecipient, ErrCodeCanceled,
		ErrCodeInvalidInput, ErrCodeNotFound, ErrCodeClosed, ErrCodeCoordination:
		return CategoryPermanent

	case ErrCodeExecutorSaturated:
		return CategoryResource

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeDuplicateAgent:    "agent already registered",
	ErrCodeUnknownAgent:      "unknown agent",
	ErrCodeNoAgentsAvailable: "no agents available",
	ErrCodeNoCapableAgent:    "no agent satisfies the required capabilities",
	ErrCodeUnknownRecipient:  "unknown recipient",
	ErrCodeExecutorSaturated: "executor saturated",
	ErrCodeTimeout:           "task timed out",
	ErrCodeWorkError:         "work failed",
	ErrCodeCanceled:          "canceled",
	ErrCodeInvalidInput:      "invalid input",
	ErrCodeNotFound:          "not found",
	ErrCodeClosed:            "closed",
	ErrCodeCoordination:      "coordination failure",
	ErrCodeAssertion:         "invariant violated",
	ErrCodePanic:             "recovered from panic",
	ErrCodeInternal:          "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
