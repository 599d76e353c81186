// Package uxerr defines the error-kind taxonomy shared by every UXMCP
// component and the mapping from kind to HTTP status / SSE terminal event.
package uxerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind tags an error with the machine-readable category callers branch on.
// HTTP and SSE layers switch on Kind; they never string-match messages.
type Kind string

const (
	// Input
	ValidationFailed Kind = "ValidationFailed"
	NameConflict     Kind = "NameConflict"
	RouteConflict    Kind = "RouteConflict"
	UnknownService   Kind = "UnknownService"
	UnknownAgent     Kind = "UnknownAgent"
	UnknownProfile   Kind = "UnknownProfile"

	// Runtime
	Timeout               Kind = "Timeout"
	Cancelled             Kind = "Cancelled"
	DependencyMissing     Kind = "DependencyMissing"
	UndeclaredDependency  Kind = "UndeclaredDependency"
	BadResult             Kind = "BadResult"
	BadJson               Kind = "BadJson"
	OutputSchemaViolation Kind = "OutputSchemaViolation"
	IterationsExhausted   Kind = "IterationsExhausted"
	RequiredToolMissing   Kind = "RequiredToolMissing"

	// Upstream
	ProviderUnavailable  Kind = "ProviderUnavailable"
	ProviderRateLimited  Kind = "ProviderRateLimited"
	ProviderBadResponse  Kind = "ProviderBadResponse"
	EmbeddingFailed      Kind = "EmbeddingFailed"

	// Persistence
	StoreUnavailable Kind = "StoreUnavailable"
	StoreConflict    Kind = "StoreConflict"

	// Internal
	Bug Kind = "Bug"
)

// Error is the structured error every public boundary returns.
type Error struct {
	Kind   Kind
	Field  string
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Field, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a *Error with no underlying cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// FieldError builds a *Error naming the offending field (used by validation
// failures so the response body lists each bad field individually).
func FieldError(kind Kind, field, detail string) *Error {
	return &Error{Kind: kind, Field: field, Detail: detail}
}

// Wrap attaches a Kind to an existing error, preserving it for errors.Is/As.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Detail: cause.Error(), Cause: cause}
}

// As extracts the *Error from err, following the wrap chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind carried by err, or Bug if err doesn't carry one —
// an unrecognised error reaching a boundary is itself an invariant violation.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Bug
}

// HTTPStatus maps a Kind to the status code per the error-propagation table.
func HTTPStatus(k Kind) int {
	switch k {
	case ValidationFailed, BadJson:
		return http.StatusBadRequest
	case UnknownService, UnknownAgent, UnknownProfile:
		return http.StatusNotFound
	case NameConflict, RouteConflict, StoreConflict:
		return http.StatusConflict
	case Timeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the retry policy in §7 applies to this kind:
// only provider rate-limiting and unavailability are retried.
func Retryable(k Kind) bool {
	return k == ProviderRateLimited || k == ProviderUnavailable
}
