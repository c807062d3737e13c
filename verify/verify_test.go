package verify

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/contestra/ai-ranker-sub001/policy"
)

func TestVerify_Table(t *testing.T) {
	tests := []struct {
		name   string
		mode   policy.Mode
		enf    policy.Enforcement
		calls  int
		status Status
		code   ErrorCode
	}{
		{"off no calls", policy.ModeOff, policy.EnforcementNone, 0, StatusOK, ""},
		{"off with calls", policy.ModeOff, policy.EnforcementNone, 2, StatusFailed, CodeToolUsedInUngrounded},
		{"preferred no calls", policy.ModePreferred, policy.EnforcementNone, 0, StatusOK, ""},
		{"preferred with calls", policy.ModePreferred, policy.EnforcementNone, 3, StatusOK, ""},
		{"required hard no calls", policy.ModeRequired, policy.EnforcementHard, 0, StatusFailed, CodeNoToolCallInRequired},
		{"required hard with calls", policy.ModeRequired, policy.EnforcementHard, 1, StatusOK, ""},
		{"required soft no calls", policy.ModeRequired, policy.EnforcementSoft, 0, StatusFailed, CodeNoToolCallInSoftRequired},
		{"required soft with calls", policy.ModeRequired, policy.EnforcementSoft, 1, StatusOK, ""},
		{"off with hard enforcement", policy.ModeOff, policy.EnforcementHard, 0, StatusFailed, CodeForceToolsUnsupported},
		{"required without enforcement", policy.ModeRequired, policy.EnforcementNone, 1, StatusFailed, CodeForceToolsUnsupported},
		{"unknown mode", policy.Mode("X"), policy.EnforcementNone, 0, StatusFailed, CodeForceToolsUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Verify(Input{Mode: tt.mode, Enforcement: tt.enf, ToolCallCount: tt.calls})
			assert.Equal(t, tt.status, v.Status)
			assert.Equal(t, tt.code, v.ErrorCode)
			if v.Failed() {
				assert.NotEmpty(t, v.WhyNotGrounded)
			}
		})
	}
}

func TestVerify_TransportShortCircuits(t *testing.T) {
	for _, code := range []ErrorCode{CodeTimeout, CodeAPIError4xx, CodeAPIError5xx, CodeForceToolsUnsupported} {
		t.Run(string(code), func(t *testing.T) {
			v := Verify(Input{
				Mode:           policy.ModeRequired,
				Enforcement:    policy.EnforcementHard,
				ToolCallCount:  5,
				TransportError: code,
			})
			assert.Equal(t, StatusFailed, v.Status)
			assert.Equal(t, code, v.ErrorCode)
		})
	}
}

func TestVerify_Schema(t *testing.T) {
	v := Verify(Input{Mode: policy.ModePreferred, Enforcement: policy.EnforcementNone, SchemaRequested: true})
	assert.Equal(t, CodeJSONSchemaInvalid, v.ErrorCode)

	v = Verify(Input{Mode: policy.ModePreferred, Enforcement: policy.EnforcementNone, SchemaRequested: true, SchemaValid: true})
	assert.Equal(t, StatusOK, v.Status)

	// Grounding failures take precedence over schema failures.
	v = Verify(Input{Mode: policy.ModeRequired, Enforcement: policy.EnforcementHard, SchemaRequested: true})
	assert.Equal(t, CodeNoToolCallInRequired, v.ErrorCode)
}

func TestVerify_Properties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 500
	properties := gopter.NewProperties(params)

	modes := []policy.Mode{policy.ModeOff, policy.ModePreferred, policy.ModeRequired}
	enforcements := []policy.Enforcement{policy.EnforcementNone, policy.EnforcementSoft, policy.EnforcementHard}
	transport := []ErrorCode{"", CodeTimeout, CodeAPIError4xx, CodeAPIError5xx}

	properties.Property("failed always carries an error code", prop.ForAll(
		func(m, e, tr, calls int) bool {
			v := Verify(Input{Mode: modes[m], Enforcement: enforcements[e], ToolCallCount: calls, TransportError: transport[tr]})
			return v.Status == StatusOK || v.ErrorCode != ""
		},
		gen.IntRange(0, 2), gen.IntRange(0, 2), gen.IntRange(0, 3), gen.IntRange(0, 10),
	))

	properties.Property("off with tool calls fails as ungrounded", prop.ForAll(
		func(calls int) bool {
			v := Verify(Input{Mode: policy.ModeOff, Enforcement: policy.EnforcementNone, ToolCallCount: calls})
			return v.Status == StatusFailed && v.ErrorCode == CodeToolUsedInUngrounded
		},
		gen.IntRange(1, 100),
	))

	properties.Property("preferred is ok regardless of tool calls", prop.ForAll(
		func(calls int) bool {
			return Verify(Input{Mode: policy.ModePreferred, Enforcement: policy.EnforcementNone, ToolCallCount: calls}).Status == StatusOK
		},
		gen.IntRange(0, 100),
	))

	properties.Property("required passes iff a tool call was observed", prop.ForAll(
		func(soft bool, calls int) bool {
			enf, code := policy.EnforcementHard, CodeNoToolCallInRequired
			if soft {
				enf, code = policy.EnforcementSoft, CodeNoToolCallInSoftRequired
			}
			v := Verify(Input{Mode: policy.ModeRequired, Enforcement: enf, ToolCallCount: calls})
			if calls > 0 {
				return v.Status == StatusOK
			}
			return v.Status == StatusFailed && v.ErrorCode == code
		},
		gen.Bool(), gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}
