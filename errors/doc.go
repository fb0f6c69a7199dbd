// Package errors provides standardized error handling patterns for chronoflow components.
//
// # Overview
//
// The errors package implements a three-class error classification system for
// the dataflow runtime: Transient (temporary, retryable), Invalid (bad input,
// non-retryable), and Fatal (unrecoverable, stop processing).
//
// This classification enables intelligent error handling strategies throughout
// the runtime, allowing components to make informed decisions about retries,
// graceful degradation, and failure recovery without hardcoded error string
// matching.
//
// # Error Classification
//
// Errors are automatically classified based on their type or content:
//
//   - Transient: busy domains, full queues, connection issues (retry recommended)
//   - Invalid: lifecycle misuse, double binding, bad configuration (do not retry)
//   - Fatal: ordering violations, wrong execution context, unclonable types (stop processing)
//
// The classification system integrates with Go's standard error handling
// patterns, supporting errors.Is(), errors.As(), and error wrapping chains.
//
// # Quick Start
//
// Use standard error variables for known conditions:
//
//	if state != StateRunning {
//	    return errors.ErrPipelineNotRunning
//	}
//
// Wrap errors with context for debugging:
//
//	if err := registry.Register(t, perms); err != nil {
//	    return errors.Wrap(err, "Pipeline", "AddComponent", "clone registration")
//	}
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Component", "Method", "action")  // For retryable errors
//	errors.WrapInvalid(err, "Component", "Method", "action")    // For validation errors
//	errors.WrapFatal(err, "Component", "Method", "action")      // For unrecoverable errors
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// # Standard Error Variables
//
// The package provides pre-defined error variables organized by category:
//
//   - Lifecycle: ErrAlreadyStarted, ErrNotStarted, ErrPipelineNotRunning, ErrPipelineStopped
//   - Posting: ErrOrderingViolation, ErrWrongContext, ErrStreamClosed
//   - Delivery: ErrQueueClosed, ErrQueueFull, ErrReceiverBound, ErrDomainBusy
//   - Clone gate: ErrCloneUnsupported, ErrPermissionsConflict
//   - Configuration: ErrInvalidConfig, ErrMissingConfig
//   - Networking (bridge): ErrNoConnection, ErrConnectionLost, ErrConnectionTimeout
//
// # Context Cancellation
//
// Context errors (context.DeadlineExceeded, context.Canceled) are classified as
// Transient, enabling consistent handling of context-based timeouts.
//
// # Thread Safety
//
// All classification and wrapping operations are thread-safe. Error variables
// are immutable and safe for concurrent access.
package errors
