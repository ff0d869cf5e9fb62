package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Trove error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrConflict       ErrorCode = "CONFLICT"        // 409
	ErrInternal       ErrorCode = "INTERNAL"        // 500

	// Hard pipeline failures: abort the step and count against the retry bound.
	ErrExtractionEmpty     ErrorCode = "EXTRACTION_EMPTY"     // 422
	ErrMetadataUnavailable ErrorCode = "METADATA_UNAVAILABLE" // 502

	// Model output rejections: always consumed by the stage as an absent result.
	ErrMalformedOutput ErrorCode = "MALFORMED_OUTPUT" // 422
	ErrInvalidOutput   ErrorCode = "INVALID_OUTPUT"   // 422
)

// TroveError represents a structured error with code, status, and details.
type TroveError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *TroveError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *TroveError {
	return &TroveError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing item or container.
func NewNotFound(kind, identifier string) *TroveError {
	return &TroveError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *TroveError {
	return &TroveError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewExtractionEmpty creates a hard failure for a source kind that requires
// content but produced none.
func NewExtractionEmpty(sourceKind, url string) *TroveError {
	return &TroveError{
		Code:    ErrExtractionEmpty,
		Status:  422,
		Message: fmt.Sprintf("no content extracted for %s source: %s", sourceKind, url),
		Details: map[string]any{"source_kind": sourceKind, "url": url},
	}
}

// NewMetadataUnavailable creates a hard failure when required metadata could
// not be fetched.
func NewMetadataUnavailable(url string, err error) *TroveError {
	details := map[string]any{"url": url}
	msg := fmt.Sprintf("metadata unavailable for %s", url)
	if err != nil {
		details["cause"] = err.Error()
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &TroveError{
		Code:    ErrMetadataUnavailable,
		Status:  502,
		Message: msg,
		Details: details,
	}
}

// NewMalformedOutput creates an error for model output that is not parseable JSON.
func NewMalformedOutput(stage string, err error) *TroveError {
	msg := "malformed model output"
	if err != nil {
		msg = fmt.Sprintf("malformed model output: %v", err)
	}
	return &TroveError{
		Code:    ErrMalformedOutput,
		Status:  422,
		Message: msg,
		Details: map[string]any{"stage": stage},
	}
}

// NewInvalidOutput creates an error for well-formed model output that fails
// semantic validation.
func NewInvalidOutput(stage, reason string) *TroveError {
	return &TroveError{
		Code:    ErrInvalidOutput,
		Status:  422,
		Message: fmt.Sprintf("invalid model output: %s", reason),
		Details: map[string]any{"stage": stage, "reason": reason},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The original error is kept in Details for logging; Message stays generic.
func NewInternal(err error) *TroveError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &TroveError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error is (or wraps) a TroveError with the given code.
func Is(err error, code ErrorCode) bool {
	var tErr *TroveError
	if stderrors.As(err, &tErr) {
		return tErr.Code == code
	}
	return false
}

// IsRejectedOutput reports whether err is a malformed or invalid model output.
func IsRejectedOutput(err error) bool {
	return Is(err, ErrMalformedOutput) || Is(err, ErrInvalidOutput)
}

// Internal returns the underlying cause recorded by NewInternal, or the
// error text for anything else.
func Internal(err error) string {
	var tErr *TroveError
	if stderrors.As(err, &tErr) {
		if cause, ok := tErr.Details["internal_error"].(string); ok && cause != "" {
			return cause
		}
		return tErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsHard reports whether err is a pipeline failure that must abort the run.
func IsHard(err error) bool {
	return Is(err, ErrExtractionEmpty) || Is(err, ErrMetadataUnavailable)
}
