package grounding

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors.
var (
	// ErrInvalidRequest is wrapped by every ValidationError.
	ErrInvalidRequest = errors.New("invalid run request")

	// ErrUnknownProvider is returned when the request names a provider that
	// is not registered.
	ErrUnknownProvider = errors.New("unknown provider")
)

// ValidationError describes a malformed RunRequest. It is returned before
// any network call is attempted.
type ValidationError struct {
	RunID  string
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(ErrInvalidRequest.Error())
	if e.RunID != "" {
		fmt.Fprintf(&b, " %q", e.RunID)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Fields, ", "))
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// TransportError wraps the failure of a provider call after the engine has
// turned it into a result. It is kept on RunResult for audit only.
type TransportError struct {
	Provider string
	Cause    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Provider, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}
