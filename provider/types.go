package provider

import "encoding/json"

// Request represents a provider-agnostic, fully composed LLM request.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDef
	ToolChoice  ToolChoice
	Temperature *float64
	MaxTokens   *int
	Seed        *int
	JSONSchema  *JSONSchema // For structured output
}

// HasTools reports whether any tool is offered.
func (r *Request) HasTools() bool {
	return r != nil && len(r.Tools) > 0
}

// Message represents a single message in the composed sequence.
type Message struct {
	Role    Role
	Content string
	// Kind tags messages the compositor inserted so transports can keep them
	// as discrete turns or blocks.
	Kind MessageKind
}

// Role represents the message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageKind identifies where a message came from.
type MessageKind string

const (
	KindInstructions MessageKind = "instructions"
	KindAmbient      MessageKind = "ambient"
	KindPrompt       MessageKind = "prompt"
)

// ToolKind identifies a provider-hosted tool family.
type ToolKind string

// ToolKindWebSearch is the provider-native live web search tool.
const ToolKindWebSearch ToolKind = "web_search"

// ToolDef describes a tool offered to the model. Transports translate the
// kind into their native tool declaration.
type ToolDef struct {
	Kind ToolKind
	Name string
	// MaxUses caps tool invocations where the provider supports it. Zero means
	// provider default.
	MaxUses int
}

// ToolChoice is the tool-use directive sent with a request.
type ToolChoice string

const (
	ToolChoiceNone   ToolChoice = "none"
	ToolChoiceAuto   ToolChoice = "auto"
	ToolChoiceForced ToolChoice = "forced"
)

// JSONSchema represents a JSON Schema for structured output.
type JSONSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// Response is the raw result of one transport round trip.
type Response struct {
	Provider   string
	StatusCode int
	// Body is the unmodified response payload.
	Body json.RawMessage
}
