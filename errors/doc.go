// Package errors provides a structured error taxonomy for turn processing
// in dialogkit. It defines error codes and categories that let callers
// decide between degrading, retrying, and failing a conversational turn.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: Temporary failures where retry may succeed (source timeouts, etc.)
//   - Permanent: Failures where retry will not help (invalid config, rejected queries)
//   - Resource: Resource exhaustion issues (rate limits, capacity)
//   - Internal: Unexpected errors indicating bugs or corrupted state
//
// # Turn-processing codes
//
// Four codes map directly to the engine's error handling policy:
//
//   - CONFIG_INVALID: missing rule set or malformed rule; logged, treated as
//     "no transition", never fatal
//   - SOURCE_UNAVAILABLE: a retrieval source timed out or errored; the turn
//     degrades to the surviving sources
//   - QUERY_REJECTED: a generated structured query failed safety validation;
//     it is dropped from the fan-out
//   - STORE_FAILURE: the session context store failed; the only code that
//     fails a whole turn
//
// # Usage
//
// Create a new error:
//
//	err := errors.SourceUnavailable("keyword", cause)
//
// Wrap an existing error with context:
//
//	wrapped := errors.Wrap(err, "loading session context")
//
// Check if an error is retryable:
//
//	if turnErr := errors.AsTurnError(err); turnErr != nil && turnErr.Retryable() {
//	    // retry logic
//	}
//
// # JSON Serialization
//
// All errors support JSON serialization so turn failures can be recorded
// alongside session history:
//
//	data, err := json.Marshal(turnErr)
package errors
