// Package errors provides structured error types for the script-host module.
//
// Errors are categorized by Phase (where in the actor lifecycle the error
// occurred) and Kind (error category). Matching with errors.Is compares Phase
// and Kind only, so callers can test outcomes against sentinels:
//
//	if errors.Is(err, errors.NoHandler()) { ... }
//
// The propagation policy follows the dispatch boundary contract: everything
// originating inside the interpreter is caught there and reported as a
// HandlerFault; only registry invariant violations (DuplicateBinding) are
// treated as fatal host-runtime bugs.
package errors
