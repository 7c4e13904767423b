// Package errors provides the structured error taxonomy of the coordination
// core. Every failure surfaced by the registry, strategies, mailboxes, the
// executor and the coordinator is an *Error carrying a code, a category that
// drives retry decisions, and optional task/agent context.
//
// # Codes
//
// Coordination failures:
//
//   - DUPLICATE_AGENT: an agent with the same ID is already registered
//   - UNKNOWN_AGENT: the referenced agent is not registered
//   - NO_AGENTS_AVAILABLE: the registry has no routable agents
//   - NO_CAPABLE_AGENT: no agent satisfies the required capabilities
//   - UNKNOWN_RECIPIENT: a message was addressed to an unregistered agent
//
// Execution failures:
//
//   - EXECUTOR_SATURATED: no worker slot became free within the admission timeout
//   - TIMEOUT: the per-task timeout elapsed
//   - WORK_ERROR: the work callable returned an error or panicked
//   - CANCELED: the task or wait was cancelled
//
// # Matching
//
// Package-level sentinels compare by code, so callers can use the standard
// library:
//
//	if stderrors.Is(err, registry.ErrDuplicateAgent) { ... }
//
// or the code helper in this package:
//
//	if errors.Is(err, errors.ErrCodeTimeout) { ... }
//
// # Retry semantics
//
// Timeout and WorkError are transient and retried by the coordinator up to
// max_retries. Registry and strategy errors are permanent and returned to the
// caller untouched. ExecutorSaturated is a resource error that the caller sees
// immediately.
package errors
