// Package compose assembles the outbound message sequence for one run.
package compose

import (
	"encoding/json"
	"strings"

	"github.com/contestra/ai-ranker-sub001/policy"
	"github.com/contestra/ai-ranker-sub001/provider"
)

// Input is everything the compositor needs besides the policy decision.
type Input struct {
	Model       string
	System      string
	Ambient     string
	Prompt      string
	Temperature *float64
	Seed        *int
	MaxTokens   *int

	SchemaName string
	Schema     json.RawMessage
}

// Compose builds the request: system instructions, then the ambient block as
// its own user turn, then the prompt. The prompt is sent unmodified except
// on the soft-required path, where the provoker is appended after a blank
// line.
func Compose(in Input, d policy.Decision) *provider.Request {
	req := &provider.Request{
		Model:       in.Model,
		Messages:    make([]provider.Message, 0, 3),
		ToolChoice:  d.ToolChoice,
		Temperature: in.Temperature,
		Seed:        in.Seed,
		MaxTokens:   in.MaxTokens,
	}

	if strings.TrimSpace(in.System) != "" {
		req.Messages = append(req.Messages, provider.Message{
			Role:    provider.RoleSystem,
			Content: in.System,
			Kind:    provider.KindInstructions,
		})
	}

	if strings.TrimSpace(in.Ambient) != "" {
		req.Messages = append(req.Messages, provider.Message{
			Role:    provider.RoleUser,
			Content: in.Ambient,
			Kind:    provider.KindAmbient,
		})
	}

	prompt := in.Prompt
	if d.SoftRequired() && d.Provoker != "" {
		prompt += "\n\n" + d.Provoker
	}
	req.Messages = append(req.Messages, provider.Message{
		Role:    provider.RoleUser,
		Content: prompt,
		Kind:    provider.KindPrompt,
	})

	if len(d.Tools) > 0 {
		req.Tools = append([]provider.ToolDef(nil), d.Tools...)
	}

	if len(in.Schema) > 0 {
		name := in.SchemaName
		if name == "" {
			name = "response"
		}
		req.JSONSchema = &provider.JSONSchema{
			Name:   name,
			Strict: true,
			Schema: in.Schema,
		}
	}

	return req
}

// Prompt returns the prompt message of a composed request.
func Prompt(req *provider.Request) (provider.Message, bool) {
	for _, m := range req.Messages {
		if m.Kind == provider.KindPrompt {
			return m, true
		}
	}
	return provider.Message{}, false
}
