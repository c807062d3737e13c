// Package openai provides an OpenAI Responses API transport.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/contestra/ai-ranker-sub001/provider"
)

const providerName = "openai"

// Provider implements the OpenAI Responses API.
type Provider struct {
	client *client
}

// Option configures the OpenAI provider.
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

// New creates a new OpenAI provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	// Fall back to environment variable
	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("OPENAI_API_KEY")
	}

	if cfg.apiKey == "" {
		return nil, &provider.APIError{
			Provider: providerName,
			Message:  "OpenAI API key required: set OPENAI_API_KEY or use WithAPIKey",
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
func (p *Provider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiReq := p.buildRequest(req)

	status, body, err := p.client.responses(ctx, apiReq)
	if status == 0 && err != nil {
		return nil, err
	}

	return &provider.Response{
		Provider:   providerName,
		StatusCode: status,
		Body:       json.RawMessage(body),
	}, err
}

// buildRequest converts a provider.Request to a Responses API request.
// The Responses API has no seed parameter, so req.Seed is not sent.
func (p *Provider) buildRequest(req *provider.Request) *responsesRequest {
	store := false
	apiReq := &responsesRequest{
		Model:           req.Model,
		Input:           make([]inputMessage, 0, len(req.Messages)),
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
		Store:           &store,
	}

	var instructions []string
	for _, msg := range req.Messages {
		if msg.Role == provider.RoleSystem {
			instructions = append(instructions, msg.Content)
			continue
		}
		apiReq.Input = append(apiReq.Input, inputMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	apiReq.Instructions = strings.Join(instructions, "\n\n")

	for _, tool := range req.Tools {
		if tool.Kind == provider.ToolKindWebSearch {
			apiReq.Tools = append(apiReq.Tools, toolDef{Type: "web_search"})
		}
	}

	if len(apiReq.Tools) > 0 {
		apiReq.ToolChoice = convertToolChoice(req.ToolChoice)
	}

	// Handle JSON Schema for structured output
	if req.JSONSchema != nil {
		apiReq.Text = &textConfig{
			Format: &textFormat{
				Type:   "json_schema",
				Name:   req.JSONSchema.Name,
				Strict: req.JSONSchema.Strict,
				Schema: makeStrict(req.JSONSchema.Schema),
			},
		}
	}

	return apiReq
}

func convertToolChoice(choice provider.ToolChoice) any {
	switch choice {
	case provider.ToolChoiceForced:
		return "required"
	case provider.ToolChoiceNone:
		return "none"
	default:
		return "auto"
	}
}

// makeStrict ensures all properties in the schema are required and that
// objects reject additional properties. OpenAI's strict structured output
// mode requires both.
func makeStrict(schema json.RawMessage) json.RawMessage {
	if schema == nil {
		return nil
	}

	var schemaMap map[string]any
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		return schema
	}

	makeStrictRecursive(schemaMap)

	result, err := json.Marshal(schemaMap)
	if err != nil {
		return schema
	}
	return result
}

func makeStrictRecursive(schemaMap map[string]any) {
	props, ok := schemaMap["properties"].(map[string]any)
	if !ok {
		return
	}

	required := make([]string, 0, len(props))
	for key := range props {
		required = append(required, key)
	}
	sort.Strings(required)
	schemaMap["required"] = required
	schemaMap["additionalProperties"] = false

	for _, val := range props {
		propMap, ok := val.(map[string]any)
		if !ok {
			continue
		}
		if propMap["type"] == "object" {
			makeStrictRecursive(propMap)
		}
		if items, ok := propMap["items"].(map[string]any); ok && items["type"] == "object" {
			makeStrictRecursive(items)
		}
	}
}
