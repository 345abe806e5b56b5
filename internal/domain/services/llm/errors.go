package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed completion call. Branch-local failures are
// surfaced to the caller keyed by model, so the kind must be stable enough
// for a UI to render a per-column error with a retry affordance.
type ErrorKind string

const (
	ErrKindUnauthorized    ErrorKind = "Unauthorized"
	ErrKindRateLimited     ErrorKind = "RateLimited"
	ErrKindUpstream        ErrorKind = "UpstreamError"
	ErrKindTimeout         ErrorKind = "Timeout"
	ErrKindInvalidResponse ErrorKind = "InvalidResponse"
)

// ProviderError is a classified failure from a completion backend.
type ProviderError struct {
	Kind    ErrorKind
	Status  int // upstream HTTP status, set for ErrKindUpstream
	Message string
}

func (e *ProviderError) Error() string {
	if e.Kind == ErrKindUpstream && e.Status != 0 {
		return fmt.Sprintf("%s(%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ClassifyStatus maps an upstream HTTP status code to an error kind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrKindUnauthorized
	case status == http.StatusTooManyRequests:
		return ErrKindRateLimited
	default:
		return ErrKindUpstream
	}
}

// Classify wraps an arbitrary completion error into a *ProviderError.
// Already-classified errors pass through; context deadline errors become
// timeouts.
func Classify(err error) *ProviderError {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Kind: ErrKindTimeout, Message: "completion deadline exceeded"}
	}
	return &ProviderError{Kind: ErrKindUpstream, Message: err.Error()}
}
