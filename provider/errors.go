package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnsupportedToolPolicy is returned (wrapped) by a transport when the
// requested tool policy cannot be expressed for the target model at all, as
// opposed to the model simply not using the tool.
var ErrUnsupportedToolPolicy = errors.New("tool policy not supported")

// APIError represents an HTTP error status returned by a provider API.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s API error (status %d, type %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// ClientSide reports whether the status is a 4xx.
func (e *APIError) ClientSide() bool {
	return e.StatusCode >= http.StatusBadRequest && e.StatusCode < http.StatusInternalServerError
}

// Unsupported wraps ErrUnsupportedToolPolicy with a provider-specific reason.
func Unsupported(providerName, reason string) error {
	return fmt.Errorf("%s: %w: %s", providerName, ErrUnsupportedToolPolicy, reason)
}
