package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions
var (
	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoEvidence indicates a session was aborted before any evidence was gathered
	ErrNoEvidence = errors.New("no evidence gathered")

	// ErrProviderExhausted indicates every configured search provider failed
	ErrProviderExhausted = errors.New("all search providers exhausted")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrNotFound indicates a requested record does not exist
	ErrNotFound = errors.New("not found")
)

// Kind classifies an external-call failure as retryable or not.
type Kind string

const (
	// Transient failures (timeouts, 5xx, rate limits) are retried with backoff.
	Transient Kind = "transient"
	// Permanent failures (rejected input, 4xx other than rate limit) abort
	// the call immediately without retry.
	Permanent Kind = "permanent"
)

// ProviderError reports a search-provider failure together with its retry class.
type ProviderError struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err as a provider failure of the given kind.
func NewProviderError(provider string, kind Kind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// ReasoningError reports a failure from an LLM-backed stage.
type ReasoningError struct {
	Stage string
	Kind  Kind
	Err   error
}

func (e *ReasoningError) Error() string {
	return fmt.Sprintf("reasoning %s: %s error: %v", e.Stage, e.Kind, e.Err)
}

func (e *ReasoningError) Unwrap() error { return e.Err }

// NewReasoningError wraps err as a reasoning failure of the given kind.
func NewReasoningError(stage string, kind Kind, err error) *ReasoningError {
	return &ReasoningError{Stage: stage, Kind: kind, Err: err}
}

// ValidationError reports malformed caller input before any work begins.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// SessionAbortedError reports that a session deadline or cancellation fired.
// It is fatal only when no evidence had been gathered yet; otherwise the
// engine proceeds to forced finalization.
type SessionAbortedError struct {
	Reason string
	Err    error
}

func (e *SessionAbortedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session aborted (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("session aborted (%s)", e.Reason)
}

func (e *SessionAbortedError) Unwrap() error { return e.Err }

// KindFromStatus classifies an HTTP status per the retry taxonomy: rate
// limits and server errors are transient, other client errors are permanent.
func KindFromStatus(status int) Kind {
	if status == 429 || status >= 500 || status == 0 {
		return Transient
	}
	return Permanent
}

// IsTransient reports whether err is a provider or reasoning error marked
// transient. Unclassified errors are treated as permanent.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == Transient
	}
	var re *ReasoningError
	if errors.As(err, &re) {
		return re.Kind == Transient
	}
	return false
}
