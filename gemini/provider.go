// Package gemini provides a Google Gemini generateContent transport.
package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/contestra/ai-ranker-sub001/provider"
)

const providerName = "gemini"

// Provider implements the Gemini generateContent API.
type Provider struct {
	client *client
}

// Option configures the Gemini provider.
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

// New creates a new Gemini provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	// Fall back to environment variables
	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("GOOGLE_API_KEY")
	}

	if cfg.apiKey == "" {
		return nil, &provider.APIError{
			Provider: providerName,
			Message:  "Gemini API key required: set GEMINI_API_KEY, GOOGLE_API_KEY, or use WithAPIKey",
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

// Call implements provider.Provider. Requests the API cannot honor are
// rejected before any network traffic with provider.ErrUnsupportedToolPolicy.
func (p *Provider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	status, body, err := p.client.generateContent(ctx, req.Model, apiReq)
	if status == 0 && err != nil {
		return nil, err
	}

	return &provider.Response{
		Provider:   providerName,
		StatusCode: status,
		Body:       json.RawMessage(body),
	}, err
}

// buildRequest converts a provider.Request to a Gemini API request.
func (p *Provider) buildRequest(req *provider.Request) (*generateContentRequest, error) {
	hasSearch := false
	for _, t := range req.Tools {
		if t.Kind == provider.ToolKindWebSearch {
			hasSearch = true
		}
	}

	if hasSearch && req.ToolChoice == provider.ToolChoiceForced {
		return nil, provider.Unsupported(providerName, "google_search cannot be forced")
	}
	if hasSearch && req.JSONSchema != nil {
		return nil, provider.Unsupported(providerName, "google_search cannot be combined with a response schema")
	}

	apiReq := &generateContentRequest{
		Contents: make([]content, 0, len(req.Messages)),
	}

	for _, msg := range req.Messages {
		if msg.Role == provider.RoleSystem {
			if apiReq.SystemInstruction == nil {
				apiReq.SystemInstruction = &content{}
			}
			apiReq.SystemInstruction.Parts = append(apiReq.SystemInstruction.Parts, part{Text: msg.Content})
			continue
		}

		role := convertRole(msg.Role)
		if n := len(apiReq.Contents); n > 0 && apiReq.Contents[n-1].Role == role {
			apiReq.Contents[n-1].Parts = append(apiReq.Contents[n-1].Parts, part{Text: msg.Content})
			continue
		}
		apiReq.Contents = append(apiReq.Contents, content{
			Role:  role,
			Parts: []part{{Text: msg.Content}},
		})
	}

	// Tool choice NONE drops the tool; AUTO sends it.
	if hasSearch && req.ToolChoice != provider.ToolChoiceNone {
		apiReq.Tools = []tool{{GoogleSearch: &googleSearch{}}}
	}

	if req.Temperature != nil || req.MaxTokens != nil || req.Seed != nil || req.JSONSchema != nil {
		apiReq.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			Seed:            req.Seed,
		}
	}

	if req.JSONSchema != nil {
		apiReq.GenerationConfig.ResponseMimeType = "application/json"
		var schema any
		if err := json.Unmarshal(req.JSONSchema.Schema, &schema); err == nil {
			apiReq.GenerationConfig.ResponseSchema = schema
		}
	}

	return apiReq, nil
}

func convertRole(role provider.Role) string {
	if role == provider.RoleAssistant {
		return "model"
	}
	return "user"
}
