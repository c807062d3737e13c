// Package anthropic provides an Anthropic Messages API transport.
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/contestra/ai-ranker-sub001/provider"
)

const (
	providerName = "anthropic"

	// webSearchToolType is the versioned server tool for hosted web search.
	webSearchToolType = "web_search_20250305"
	webSearchToolName = "web_search"
)

// Provider implements the Anthropic Messages API.
type Provider struct {
	client *client
}

// Option configures the Anthropic provider.
type Option func(*providerConfig)

type providerConfig struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *providerConfig) {
		c.apiKey = key
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(c *providerConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *providerConfig) {
		c.httpClient = client
	}
}

// New creates a new Anthropic provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	// Fall back to environment variable
	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	if cfg.apiKey == "" {
		return nil, &provider.APIError{
			Provider: providerName,
			Message:  "Anthropic API key required: set ANTHROPIC_API_KEY or use WithAPIKey",
		}
	}

	return &Provider{
		client: newClient(cfg.apiKey, cfg.baseURL, cfg.httpClient),
	}, nil
}

// Factory returns a provider.Factory that builds a new Provider per call.
func Factory(opts ...Option) provider.Factory {
	return func() (provider.Provider, error) {
		return New(opts...)
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// Call implements provider.Provider.
// The Messages API has no seed parameter, so req.Seed is not sent.
func (p *Provider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiReq := p.buildRequest(req)

	status, body, err := p.client.messages(ctx, apiReq)
	if status == 0 && err != nil {
		return nil, err
	}

	return &provider.Response{
		Provider:   providerName,
		StatusCode: status,
		Body:       json.RawMessage(body),
	}, err
}

// buildRequest converts a provider.Request to an Anthropic API request.
// Consecutive user messages are folded into one turn as separate text
// blocks, so the ambient block and the prompt stay distinct.
func (p *Provider) buildRequest(req *provider.Request) *messagesRequest {
	apiReq := &messagesRequest{
		Model:       req.Model,
		Messages:    make([]message, 0, len(req.Messages)),
		Temperature: req.Temperature,
	}
	if req.MaxTokens != nil {
		apiReq.MaxTokens = *req.MaxTokens
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == provider.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		part := contentPart{Type: "text", Text: msg.Content}
		if n := len(apiReq.Messages); n > 0 && apiReq.Messages[n-1].Role == string(msg.Role) {
			apiReq.Messages[n-1].Content = append(apiReq.Messages[n-1].Content, part)
			continue
		}
		apiReq.Messages = append(apiReq.Messages, message{
			Role:    string(msg.Role),
			Content: []contentPart{part},
		})
	}
	apiReq.System = strings.Join(system, "\n\n")

	for _, tool := range req.Tools {
		if tool.Kind != provider.ToolKindWebSearch {
			continue
		}
		apiReq.Tools = append(apiReq.Tools, toolDef{
			Type:    webSearchToolType,
			Name:    webSearchToolName,
			MaxUses: tool.MaxUses,
		})
	}

	if len(apiReq.Tools) > 0 {
		apiReq.ToolChoice = convertToolChoice(req.ToolChoice)
	}

	if req.JSONSchema != nil {
		apiReq.OutputFormat = &outputFormat{
			Type:   "json_schema",
			Schema: req.JSONSchema.Schema,
		}
	}

	return apiReq
}

func convertToolChoice(choice provider.ToolChoice) *toolChoice {
	switch choice {
	case provider.ToolChoiceForced:
		return &toolChoice{Type: "tool", Name: webSearchToolName}
	case provider.ToolChoiceNone:
		return &toolChoice{Type: "none"}
	default:
		return &toolChoice{Type: "auto"}
	}
}
