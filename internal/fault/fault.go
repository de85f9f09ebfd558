// Package fault defines NeverDown's error taxonomy.
//
// Every failure that crosses a pipeline stage boundary or an API surface is
// classified under a stable machine-readable code. Codes are part of the
// public contract: they appear in incident failure reasons, audit events, and
// HTTP error envelopes, so they must never be renamed.
package fault

import (
	"errors"
	"fmt"
)

// Code classifies a domain failure.
type Code string

const (
	// Sanitizer.
	CodeTooManySecrets     Code = "too_many_secrets"
	CodeSanitizationFailed Code = "sanitization_failed"
	CodeUnauthorizedRepo   Code = "unauthorized_repo"

	// Detective.
	CodeDetectiveError Code = "detective_error"

	// Reasoner.
	CodeReasonerError Code = "reasoner_error"
	CodeLowConfidence Code = "low_confidence"
	CodeInvalidPatch  Code = "invalid_patch"
	CodeLLMError      Code = "llm_error"

	// Verifier.
	CodeSandboxError       Code = "sandbox_error"
	CodeSandboxTimeout     Code = "sandbox_timeout"
	CodeTestFailed         Code = "test_failed"
	CodeVerificationFailed Code = "verification_failed"
	CodeDockerError        Code = "docker_error"

	// Publisher.
	CodeGitHubAPIError Code = "github_api_error"

	// Orchestration.
	CodeInvalidStateTransition Code = "invalid_state_transition"
	CodeMaxRetriesExceeded     Code = "max_retries_exceeded"
	CodeTimeout                Code = "timeout"
	CodeCircuitBreakerOpen     Code = "circuit_breaker_open"

	// Lookup.
	CodeIncidentNotFound Code = "incident_not_found"
	CodePatchNotFound    Code = "patch_not_found"
)

// validCodes is the closed set of recognized codes.
var validCodes = map[Code]bool{
	CodeTooManySecrets:         true,
	CodeSanitizationFailed:     true,
	CodeUnauthorizedRepo:       true,
	CodeDetectiveError:         true,
	CodeReasonerError:          true,
	CodeLowConfidence:          true,
	CodeInvalidPatch:           true,
	CodeLLMError:               true,
	CodeSandboxError:           true,
	CodeSandboxTimeout:         true,
	CodeTestFailed:             true,
	CodeVerificationFailed:     true,
	CodeDockerError:            true,
	CodeGitHubAPIError:         true,
	CodeInvalidStateTransition: true,
	CodeMaxRetriesExceeded:     true,
	CodeTimeout:                true,
	CodeCircuitBreakerOpen:     true,
	CodeIncidentNotFound:       true,
	CodePatchNotFound:          true,
}

// Valid reports whether c is a recognized code.
func (c Code) Valid() bool {
	return validCodes[c]
}

// Error is a classified domain failure. Details carries structured context
// safe to expose in API responses and audit events (never raw secrets).
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

// New creates a classified error.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error, preserving it for errors.Is/As chains.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetail attaches a structured detail and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two faults by code, so errors.Is(err, &Error{Code: x}) and
// sentinel comparisons both work.
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return fe.Code == e.Code
	}
	return false
}

// CodeOf extracts the classification from an error chain. Unclassified errors
// map to the fallback code so callers always have something to persist.
func CodeOf(err error, fallback Code) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fallback
}

// DetailsOf extracts structured details from an error chain, or nil.
func DetailsOf(err error) map[string]any {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Details
	}
	return nil
}
