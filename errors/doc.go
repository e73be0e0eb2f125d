// Package errors provides the structured error taxonomy used across sessionkit.
//
// # Error Categories
//
// Errors are classified into three categories:
//
//   - Transient: network failures, timeouts, server unavailability. Absorbed
//     by the caller and retried on the next natural cycle (next heartbeat,
//     next policy poll).
//   - Permanent: malformed or out-of-range payloads, rejected credentials.
//     Retrying the same request will not help.
//   - Internal: unexpected failures or invariant violations.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeOutOfRange, "session timeout out of range",
//	    errors.WithMetadata("minutes", "500"))
//
//	if errors.IsTransient(err) {
//	    // keep the previous policy, try again on the next poll
//	}
//
// No error produced by this module is fatal to the tab: every component fails
// open (no auto-logout) or toward offline.
package errors
