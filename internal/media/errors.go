package media

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies every failure an attempt or request can end with.
type ErrorKind string

const (
	ErrInvalidRequest      ErrorKind = "invalid_request"
	ErrResourceUnavailable ErrorKind = "resource_unavailable"
	ErrToolNotFound        ErrorKind = "tool_not_found"
	ErrNetwork             ErrorKind = "network_error"
	ErrParse               ErrorKind = "parse_error"
	ErrExternalTool        ErrorKind = "external_tool_error"
	ErrUnexpected          ErrorKind = "unexpected_error"
	ErrCancelled           ErrorKind = "cancelled"
)

// Label is the human readable name used in aggregated messages.
func (k ErrorKind) Label() string {
	switch k {
	case ErrInvalidRequest:
		return "invalid request"
	case ErrResourceUnavailable:
		return "resource unavailable"
	case ErrToolNotFound:
		return "tool not found"
	case ErrNetwork:
		return "network error"
	case ErrParse:
		return "parse error"
	case ErrExternalTool:
		return "external tool error"
	case ErrCancelled:
		return "cancelled"
	default:
		return "unexpected error"
	}
}

// Class groups kinds into the coarse classes callers react to. Network,
// parse, external tool and unexpected failures all belong to
// "transient_fetch_error".
func (k ErrorKind) Class() string {
	switch k {
	case ErrNetwork, ErrParse, ErrExternalTool, ErrUnexpected:
		return "transient_fetch_error"
	default:
		return string(k)
	}
}

// Recoverable reports whether the orchestrator may try the next backend after
// an attempt failed with this kind. ToolNotFound is recoverable only while
// another backend remains; the orchestrator decides that.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case ErrNetwork, ErrParse, ErrExternalTool, ErrUnexpected, ErrToolNotFound:
		return true
	default:
		return false
	}
}

// kinded is implemented by errors that know their own ErrorKind.
type kinded interface {
	ErrorKind() ErrorKind
}

// KindOf classifies err. Errors that don't carry a kind are unexpected.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}

	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled
	}

	return ErrUnexpected
}

// ValidationError represents a malformed request: bad URL, unknown media type
// or an unusable destination directory.
type ValidationError struct {
	Field  string // Request field that failed validation
	Reason string // Human-readable explanation
	Err    error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) ErrorKind() ErrorKind {
	return ErrInvalidRequest
}

// UnavailableError is returned when a URL is known to be unavailable from a
// previous request and the caller did not force a retry.
type UnavailableError struct {
	URL    string
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("resource %s is unavailable: %s", e.URL, e.Reason)
}

func (e *UnavailableError) ErrorKind() ErrorKind {
	return ErrResourceUnavailable
}

// ToolError represents a missing or broken external binary.
type ToolError struct {
	Tool string // Binary name or path
	Err  error  // Underlying error, if any
}

func (e *ToolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s is not available", e.Tool)
	}

	return fmt.Sprintf("%s is not available: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func (e *ToolError) ErrorKind() ErrorKind {
	return ErrToolNotFound
}
