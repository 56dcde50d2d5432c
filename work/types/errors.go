package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the externally-observable failure taxonomy. Callers match
// with errors.Is; HTTP handlers map them onto status codes.
var (
	// ErrNotFound reports an unknown session id, item or source.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument reports an empty or malformed id, key or token.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidProviderResponse reports a provider contract violation, e.g. an
	// opened source arriving without a live-stream id.
	ErrInvalidProviderResponse = errors.New("invalid provider response")
)

// ProviderError wraps a failure from a provider Open call. Open-time failures
// propagate to the caller, but the raw provider error stays wrapped so that
// internals never leak into API payloads verbatim.
type ProviderError struct {
	Provider string // Provider name
	Op       string // Operation that failed ("open", "list", "close")
	Subject  string // Token or id the operation was about (obfuscation is the caller's job)
	Err      error  // Underlying provider error
}

// Error implements error; the message names the operation and subject so a
// failure is attributable without reading the wrapped cause.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s %q failed: %v", e.Provider, e.Op, e.Subject, e.Err)
}

// Message is the client-safe form of the error: it names the operation and
// subject but drops the wrapped cause, which may carry credentialed upstream
// URLs. API payloads use this; logs get the full Error chain.
func (e *ProviderError) Message() string {
	return fmt.Sprintf("provider %s: %s %q failed", e.Provider, e.Op, e.Subject)
}

// Unwrap exposes the underlying provider error for errors.Is/As.
func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a ProviderError for the given provider operation.
func NewProviderError(provider, op, subject string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Subject: subject, Err: err}
}
