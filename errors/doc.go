// Package errors provides a structured error taxonomy for the agent
// directory. It defines error codes and categories that let the API layer
// map failures to responses and let callers decide whether to retry.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: Temporary failures where retry may succeed (peer timeouts, etc.)
//   - Permanent: Failures where retry will not help (invalid record, not found, etc.)
//   - Resource: Admission rejections (rate limits, proof-of-work)
//   - Internal: Unexpected errors indicating bugs or system failures
//
// # Usage
//
// Create a new error:
//
//	err := errors.Validation("agent must have at least one skill")
//
// Wrap an existing error with context:
//
//	wrapped := errors.Wrap(err, "registering agent")
//
// Check a code anywhere in the chain:
//
//	if errors.Is(err, errors.ErrCodeRateLimited) {
//	    // back off using err metadata
//	}
//
// # JSON Serialization
//
// All errors support JSON serialization for cross-node communication:
//
//	data, err := json.Marshal(dirErr)
package errors
