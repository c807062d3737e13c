package openai

import "encoding/json"

// responsesRequest represents an OpenAI Responses API request.
type responsesRequest struct {
	Model           string         `json:"model"`
	Input           []inputMessage `json:"input"`
	Instructions    string         `json:"instructions,omitempty"`
	Temperature     *float64       `json:"temperature,omitempty"`
	MaxOutputTokens *int           `json:"max_output_tokens,omitempty"`
	Tools           []toolDef      `json:"tools,omitempty"`
	ToolChoice      any            `json:"tool_choice,omitempty"`
	Text            *textConfig    `json:"text,omitempty"`
	Store           *bool          `json:"store,omitempty"`
}

// inputMessage represents one input turn.
type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// toolDef represents a hosted tool declaration.
type toolDef struct {
	Type string `json:"type"`
}

// textConfig carries the structured output format.
type textConfig struct {
	Format *textFormat `json:"format,omitempty"`
}

// textFormat specifies JSON schema for structured output.
type textFormat struct {
	Type   string          `json:"type"`
	Name   string          `json:"name,omitempty"`
	Strict bool            `json:"strict,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// errorResponse represents an API error response.
type errorResponse struct {
	Error apiError `json:"error"`
}

// apiError represents the error details.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}
