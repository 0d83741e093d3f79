// Package apperrors declares the sentinel's six recognised error kinds
// (§7) as errors.Is-compatible sentinels, plus a wrapper that attaches a
// token identifier for logging without losing the underlying kind.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientFetch marks a fetch that could not start because the
	// fetcher's rate-limiter wait failed. Provider calls are not retried: a
	// failed provider is skipped, and if none succeeds the fetcher returns a
	// stale snapshot.
	ErrTransientFetch = errors.New("transient fetch error")

	// ErrInvalidInput marks a malformed ingress payload; absorbed at the
	// ingress boundary and answered with a success response.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIgnoredToken marks a token on the never-track list; absorbed at
	// the ingress boundary the same way ErrInvalidInput is.
	ErrIgnoredToken = errors.New("ignored token")

	// ErrStaleSnapshot marks a snapshot whose provider calls all failed;
	// the scorer must HOLD without running phases 6-10.
	ErrStaleSnapshot = errors.New("stale snapshot")

	// ErrScoringPrecondition marks a missing input for an optional scoring
	// phase (e.g. holder data when phase 8 is enabled); the phase is
	// skipped and the breakdown annotated, scoring continues.
	ErrScoringPrecondition = errors.New("scoring precondition not met")

	// ErrPublishFailure marks a notification publish failure after
	// exhausting retries; the token state still transitions to EMITTED.
	ErrPublishFailure = errors.New("publish failure")
)

// TokenError wraps one of the sentinel error kinds with the token it
// concerns, so logs carry both without string-matching messages.
type TokenError struct {
	Token string
	Kind  error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("token %s: %v", e.Token, e.Kind)
}

func (e *TokenError) Unwrap() error {
	return e.Kind
}

// Wrap attaches a token identifier to one of the sentinel error kinds.
func Wrap(token string, kind error) error {
	return &TokenError{Token: token, Kind: kind}
}

// IsKind reports whether err is (or wraps) the given sentinel error kind.
func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
