package core

import (
	"errors"
	"fmt"
)

var (
	// ErrCacheMiss is returned by a cache when no result exists for a signature.
	ErrCacheMiss = errors.New("no cached scan for signature")

	// ErrConfirmationMismatch cancels a cleanup when the typed confirmation
	// does not match the required token. It is a cancellation, not a failure.
	ErrConfirmationMismatch = errors.New("confirmation token mismatch")
)

// AuthError means the session cannot be established or refreshed. It is
// never retried; the remediation tells the user how to recover.
type AuthError struct {
	Reason      string
	Remediation string
	Err         error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is, or wraps, an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// RemoteUnavailableError marks a remote operation that kept failing after
// retries. Callers degrade to partial results instead of aborting.
type RemoteUnavailableError struct {
	Op       string
	Affected int
	Err      error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("remote unavailable during %s (%d items affected): %v", e.Op, e.Affected, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }

// IsRemoteUnavailable reports whether err is, or wraps, a RemoteUnavailableError.
func IsRemoteUnavailable(err error) bool {
	var re *RemoteUnavailableError
	return errors.As(err, &re)
}

// CacheCorruptionError marks a cache entry that exists but cannot be decoded.
// It is treated exactly like a miss, with a warning.
type CacheCorruptionError struct {
	Signature string
	Err       error
}

func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("corrupt cache entry %s: %v", e.Signature, e.Err)
}

func (e *CacheCorruptionError) Unwrap() error { return e.Err }

// IsCacheCorruption reports whether err is, or wraps, a CacheCorruptionError.
func IsCacheCorruption(err error) bool {
	var ce *CacheCorruptionError
	return errors.As(err, &ce)
}

// InvalidSelectionError rejects a cleanup selection. Index is 1-based and
// names the first offending entry; no part of the selection is accepted.
type InvalidSelectionError struct {
	Input string
	Index string
}

func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("invalid selection %q: entry %q is not a listed sender", e.Input, e.Index)
}

// IsInvalidSelection reports whether err is, or wraps, an InvalidSelectionError.
func IsInvalidSelection(err error) bool {
	var se *InvalidSelectionError
	return errors.As(err, &se)
}
