package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrRateLimit is a 429 from the completion service. RetryAfter is zero when
// the service sent no hint.
type ErrRateLimit struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRateLimit) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("tutor model throttled, next attempt in %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("tutor model throttled: %v", e.Err)
}

func (e *ErrRateLimit) Unwrap() error { return e.Err }

// ErrInvalidResponse is a reply the tutor cannot use: no text, bad JSON or
// a schema mismatch. Content holds the raw reply when there was one.
type ErrInvalidResponse struct {
	Content json.RawMessage
	Err     error
}

func (e *ErrInvalidResponse) Error() string {
	return fmt.Sprintf("unusable tutor reply: %v", e.Err)
}

func (e *ErrInvalidResponse) Unwrap() error { return e.Err }

// ErrProviderUnavailable covers a service that is down, unreachable or not
// configured at all.
type ErrProviderUnavailable struct {
	Err error
}

func (e *ErrProviderUnavailable) Error() string {
	if e.Err == nil {
		return "tutor model unavailable"
	}
	return fmt.Sprintf("tutor model unavailable: %v", e.Err)
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Err }

// ErrMaxTokensExceeded is a reply cut off at the output budget.
type ErrMaxTokensExceeded struct {
	Content json.RawMessage
}

func (e *ErrMaxTokensExceeded) Error() string {
	return "tutor reply cut off at the token budget"
}

// Retryable reports whether repeating the same request could succeed.
// Cancellation, a missing provider and truncated replies are final; a
// repeated budget would truncate again. Invalid replies are retryable, but
// the retry decorator allows only one such repeat per call.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errNotConfigured) {
		return false
	}
	var truncated *ErrMaxTokensExceeded
	return !errors.As(err, &truncated)
}
