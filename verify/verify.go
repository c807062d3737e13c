// Package verify decides pass or fail for a run from its policy and the
// structural tool-call evidence. It never looks at answer content.
package verify

import (
	"fmt"

	"github.com/contestra/ai-ranker-sub001/policy"
)

// Status is the final outcome of a run.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// ErrorCode classifies a failed run.
type ErrorCode string

const (
	CodeNoToolCallInRequired     ErrorCode = "no_tool_call_in_required"
	CodeNoToolCallInSoftRequired ErrorCode = "no_tool_call_in_soft_required"
	CodeToolUsedInUngrounded     ErrorCode = "tool_used_in_ungrounded"
	CodeForceToolsUnsupported    ErrorCode = "force_tools_unsupported"
	CodeAPIError4xx              ErrorCode = "api_error_4xx"
	CodeAPIError5xx              ErrorCode = "api_error_5xx"
	CodeTimeout                  ErrorCode = "timeout"
	CodeJSONSchemaInvalid        ErrorCode = "json_schema_invalid"
	CodeAmbientLeakDetected      ErrorCode = "als_leak_detected"
)

// Codes lists every error code.
var Codes = []ErrorCode{
	CodeNoToolCallInRequired,
	CodeNoToolCallInSoftRequired,
	CodeToolUsedInUngrounded,
	CodeForceToolsUnsupported,
	CodeAPIError4xx,
	CodeAPIError5xx,
	CodeTimeout,
	CodeJSONSchemaInvalid,
	CodeAmbientLeakDetected,
}

// Input is the evidence the verifier works from.
type Input struct {
	Mode          policy.Mode
	Enforcement   policy.Enforcement
	ToolCallCount int

	// TransportError is set when the call failed before a usable payload
	// arrived. It wins over everything else.
	TransportError ErrorCode

	// SchemaRequested and SchemaValid report structured output checks.
	SchemaRequested bool
	SchemaValid     bool
}

// Verdict is the verifier's decision.
type Verdict struct {
	Status         Status
	ErrorCode      ErrorCode
	WhyNotGrounded string
}

// Failed reports whether the verdict is a failure.
func (v Verdict) Failed() bool {
	return v.Status == StatusFailed
}

// Verify applies the decision table. Any combination the table does not
// name fails closed.
func Verify(in Input) Verdict {
	if in.TransportError != "" {
		return Verdict{
			Status:         StatusFailed,
			ErrorCode:      in.TransportError,
			WhyNotGrounded: transportReason(in.TransportError),
		}
	}

	v := table(in)
	if v.Failed() {
		return v
	}

	if in.SchemaRequested && !in.SchemaValid {
		return Verdict{
			Status:         StatusFailed,
			ErrorCode:      CodeJSONSchemaInvalid,
			WhyNotGrounded: v.WhyNotGrounded,
		}
	}
	return v
}

func table(in Input) Verdict {
	used := in.ToolCallCount > 0

	switch {
	case in.Mode == policy.ModeOff && in.Enforcement == policy.EnforcementNone:
		if used {
			return fail(CodeToolUsedInUngrounded,
				fmt.Sprintf("%d tool call(s) observed with grounding off", in.ToolCallCount))
		}
		return Verdict{Status: StatusOK, WhyNotGrounded: "grounding not requested"}

	case in.Mode == policy.ModePreferred && in.Enforcement == policy.EnforcementNone:
		if used {
			return Verdict{Status: StatusOK}
		}
		return Verdict{Status: StatusOK, WhyNotGrounded: "model chose not to search"}

	case in.Mode == policy.ModeRequired && in.Enforcement == policy.EnforcementHard:
		if used {
			return Verdict{Status: StatusOK}
		}
		return fail(CodeNoToolCallInRequired, "search was forced but no successful tool call was observed")

	case in.Mode == policy.ModeRequired && in.Enforcement == policy.EnforcementSoft:
		if used {
			return Verdict{Status: StatusOK}
		}
		return fail(CodeNoToolCallInSoftRequired, "search was requested but no successful tool call was observed")
	}

	return fail(CodeForceToolsUnsupported,
		fmt.Sprintf("no policy for mode %q with enforcement %q", in.Mode, in.Enforcement))
}

func fail(code ErrorCode, why string) Verdict {
	return Verdict{Status: StatusFailed, ErrorCode: code, WhyNotGrounded: why}
}

func transportReason(code ErrorCode) string {
	switch code {
	case CodeTimeout:
		return "provider call timed out"
	case CodeAPIError4xx:
		return "provider rejected the request"
	case CodeAPIError5xx:
		return "provider call failed"
	case CodeForceToolsUnsupported:
		return "tool policy could not be applied to this model"
	}
	return string(code)
}
