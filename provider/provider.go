// Package provider defines the transport contract shared by every model provider.
//
// A provider performs exactly one network round trip per Call and hands back the
// raw payload untouched. Interpreting that payload is the normalizer's job, so
// implementations must not drop fields they do not understand.
package provider

import "context"

// Provider is the core abstraction for LLM provider transports.
// All provider implementations must satisfy this interface.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string

	// Call sends the composed request and returns the raw response.
	// On an HTTP error status the returned error is an *APIError and the
	// returned Response (if non-nil) carries the error body.
	Call(ctx context.Context, req *Request) (*Response, error)
}

// Factory builds a fresh Provider instance.
// Factories must not hand out shared mutable clients: some providers keep
// per-client state between calls, and runs must stay isolated.
type Factory func() (Provider, error)
