package grounding

import (
	"encoding/json"
	"time"

	"github.com/contestra/ai-ranker-sub001/capability"
	"github.com/contestra/ai-ranker-sub001/citation"
	"github.com/contestra/ai-ranker-sub001/normalize"
	"github.com/contestra/ai-ranker-sub001/policy"
	"github.com/contestra/ai-ranker-sub001/provider"
	"github.com/contestra/ai-ranker-sub001/verify"
)

// Enforcement records the policy a run was held to. ToolChoiceSent is empty
// when no tools were offered.
type Enforcement struct {
	Mode           policy.Mode         `json:"mode"`
	Enforcement    policy.Enforcement  `json:"enforcement"`
	SoftRequired   bool                `json:"soft_required"`
	ToolChoiceSent provider.ToolChoice `json:"tool_choice_sent,omitempty"`
	ProvokerHash   string              `json:"provoker_hash,omitempty"`
	Tier           capability.Tier     `json:"capability_tier"`
}

// RunResult is the outcome of one run. A failed status always carries an
// ErrorCode.
type RunResult struct {
	RunID    string `json:"run_id"`
	ClientID string `json:"client_id,omitempty"`
	Provider string `json:"provider"`
	Model    string `json:"model"`

	Status         verify.Status    `json:"status"`
	ErrorCode      verify.ErrorCode `json:"error_code,omitempty"`
	WhyNotGrounded string           `json:"why_not_grounded,omitempty"`

	Text            string              `json:"text"`
	ToolCallCount   int                 `json:"tool_call_count"`
	FailedToolCalls int                 `json:"failed_tool_calls,omitempty"`
	SearchQueries   []string            `json:"search_queries,omitempty"`
	Citations       []citation.Citation `json:"citations"`
	FinishReason    string              `json:"finish_reason,omitempty"`
	ModelVersion    string              `json:"model_version,omitempty"`
	Usage           normalize.Usage     `json:"usage"`
	JSONValid       *bool               `json:"json_valid,omitempty"`
	Parsed          any                 `json:"parsed,omitempty"`

	Enforcement Enforcement `json:"enforcement"`

	LeakPhrases []string           `json:"leak_phrases,omitempty"`
	AuditCodes  []verify.ErrorCode `json:"audit_codes,omitempty"`

	Meta           normalize.Meta  `json:"meta"`
	TransportError string          `json:"transport_error,omitempty"`
	Latency        time.Duration   `json:"-"`
	// Raw is the provider payload. A body that is not JSON is kept as a
	// JSON string.
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// GroundedEffective reports whether at least one successful tool call was
// observed. It is always derived, never stored.
func (r RunResult) GroundedEffective() bool {
	return r.ToolCallCount > 0
}

// MarshalJSON adds the derived fields.
func (r RunResult) MarshalJSON() ([]byte, error) {
	type alias RunResult
	return json.Marshal(struct {
		alias
		GroundedEffective bool  `json:"grounded_effective"`
		LatencyMS         int64 `json:"latency_ms"`
	}{
		alias:             alias(r),
		GroundedEffective: r.GroundedEffective(),
		LatencyMS:         r.Latency.Milliseconds(),
	})
}

// Redacted returns a copy without the raw provider payload, for storage.
func (r RunResult) Redacted() RunResult {
	r.Raw = nil
	return r
}
