// Package mcp serves grounding checks as Model Context Protocol tools.
//
// Example:
//
//	srv := mcp.NewServer(engine, mcp.WithAmbient(ambient.NewBuilder()))
//	if err := srv.Run(ctx); err != nil {
//	    return err
//	}
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/contestra/ai-ranker-sub001/ambient"
	"github.com/contestra/ai-ranker-sub001/grounding"
	"github.com/contestra/ai-ranker-sub001/policy"
)

// Tool names.
const (
	ToolRunGroundingCheck = "run_grounding_check"
	ToolLookupCapability  = "lookup_capability"
	ToolAmbientBlock      = "ambient_block"
)

// Server wraps an MCP server bound to a grounding engine.
type Server struct {
	engine  *grounding.Engine
	ambient *ambient.Builder
	logger  *slog.Logger
	version string
	server  *mcp.Server
}

// Option configures the server.
type Option func(*Server)

// WithAmbient lets run_grounding_check build ambient blocks from a country
// code and enables the ambient_block tool.
func WithAmbient(b *ambient.Builder) Option {
	return func(s *Server) {
		s.ambient = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVersion sets the implementation version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// RunInput is the run_grounding_check argument object.
type RunInput struct {
	RunID          string         `json:"run_id,omitempty" jsonschema:"optional run id; generated when empty"`
	Provider       string         `json:"provider" jsonschema:"provider name such as openai or anthropic or gemini"`
	Model          string         `json:"model" jsonschema:"provider model id"`
	Mode           string         `json:"grounding_mode" jsonschema:"OFF or PREFERRED or REQUIRED"`
	Prompt         string         `json:"prompt" jsonschema:"the user prompt"`
	System         string         `json:"system,omitempty" jsonschema:"optional system instructions"`
	Country        string         `json:"country,omitempty" jsonschema:"optional locale code for ambient context such as DE"`
	Temperature    *float64       `json:"temperature,omitempty" jsonschema:"sampling temperature between 0 and 2"`
	ResponseSchema map[string]any `json:"response_schema,omitempty" jsonschema:"optional JSON Schema the answer must match"`
}

// CapabilityInput is the lookup_capability argument object.
type CapabilityInput struct {
	Provider string `json:"provider" jsonschema:"provider name"`
	Model    string `json:"model" jsonschema:"provider model id"`
}

// AmbientInput is the ambient_block argument object.
type AmbientInput struct {
	Country string `json:"country" jsonschema:"locale code such as DE or US"`
}

// NewServer creates the MCP server and registers its tools.
func NewServer(engine *grounding.Engine, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		logger:  slog.Default(),
		version: "0.1.0",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "groundcheck",
		Version: s.version,
	}, nil)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolRunGroundingCheck,
		Description: "Run one grounding check against a model and report whether the answer was backed by a live web search.",
	}, s.runGroundingCheck)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolLookupCapability,
		Description: "Report whether a model can be forced to search (HARD), only offered search (SOFT) or is unknown (NONE).",
	}, s.lookupCapability)

	if s.ambient != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        ToolAmbientBlock,
			Description: "Render the ambient locale context block for a country.",
		}, s.ambientBlock)
	}

	return s
}

// MCP returns the underlying server, for custom transports.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Run serves over stdin/stdout until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) runGroundingCheck(ctx context.Context, _ *mcp.CallToolRequest, in RunInput) (*mcp.CallToolResult, any, error) {
	req := grounding.RunRequest{
		RunID:       in.RunID,
		Provider:    in.Provider,
		Model:       in.Model,
		Mode:        policy.Mode(in.Mode),
		Prompt:      in.Prompt,
		System:      in.System,
		Temperature: in.Temperature,
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	if in.Country != "" {
		if s.ambient == nil {
			return errorResult("ambient context is not enabled on this server"), nil, nil
		}
		block, err := s.ambient.Build(in.Country)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		req.Ambient = block.Text
	}

	if in.ResponseSchema != nil {
		raw, err := json.Marshal(in.ResponseSchema)
		if err != nil {
			return errorResult(fmt.Sprintf("encoding response_schema: %v", err)), nil, nil
		}
		req.Schema = &grounding.ResponseSchema{Schema: raw}
	}

	res, err := s.engine.Run(ctx, req)
	if err != nil {
		var verr *grounding.ValidationError
		if errors.As(err, &verr) || errors.Is(err, grounding.ErrUnknownProvider) {
			return errorResult(err.Error()), nil, nil
		}
		return nil, nil, err
	}

	s.logger.Debug("mcp grounding check", "run_id", res.RunID, "status", res.Status)
	return jsonResult(res.Redacted())
}

func (s *Server) lookupCapability(_ context.Context, _ *mcp.CallToolRequest, in CapabilityInput) (*mcp.CallToolResult, any, error) {
	if in.Provider == "" || in.Model == "" {
		return errorResult("provider and model are required"), nil, nil
	}
	return jsonResult(map[string]any{
		"provider": in.Provider,
		"model":    in.Model,
		"tier":     s.engine.Capabilities().Lookup(in.Provider, in.Model),
	})
}

func (s *Server) ambientBlock(_ context.Context, _ *mcp.CallToolRequest, in AmbientInput) (*mcp.CallToolResult, any, error) {
	block, err := s.ambient.Build(in.Country)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: block.Text}},
	}, nil, nil
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
