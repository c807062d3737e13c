package grounding

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/contestra/ai-ranker-sub001/policy"
	"github.com/contestra/ai-ranker-sub001/schema"
)

// RunRequest is one grounding check. The engine never mutates it.
type RunRequest struct {
	RunID       string      `json:"run_id" validate:"required,max=128"`
	ClientID    string      `json:"client_id,omitempty" validate:"max=128"`
	Provider    string      `json:"provider" validate:"required"`
	Model       string      `json:"model" validate:"required"`
	Mode        policy.Mode `json:"grounding_mode" validate:"required"`
	System      string      `json:"system,omitempty"`
	Ambient     string      `json:"ambient,omitempty"`
	Prompt      string      `json:"prompt" validate:"required"`
	Temperature *float64    `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	Seed        *int        `json:"seed,omitempty"`
	MaxTokens   *int        `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`

	Schema *ResponseSchema `json:"response_schema,omitempty"`

	// ProvokerOverride replaces the daily provoker on the soft-required path.
	ProvokerOverride string `json:"provoker_override,omitempty"`
}

// ResponseSchema asks for structured output matching Schema.
type ResponseSchema struct {
	Name   string          `json:"name,omitempty" validate:"max=64"`
	Schema json.RawMessage `json:"schema" validate:"required"`
}

// checked is a RunRequest that passed validation, with derived values.
type checked struct {
	RunRequest
	mode      policy.Mode
	validator *schema.Validator
}

// validate checks req. Failures are always *ValidationError.
func (e *Engine) validate(req RunRequest) (checked, error) {
	if err := e.validator.Struct(req); err != nil {
		verr := &ValidationError{RunID: req.RunID, Reason: "field validation failed"}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				verr.Fields = append(verr.Fields, fmt.Sprintf("%s:%s", fe.Field(), fe.Tag()))
			}
		} else {
			verr.Reason = err.Error()
		}
		return checked{}, verr
	}

	mode, err := policy.ParseMode(string(req.Mode))
	if err != nil {
		return checked{}, &ValidationError{RunID: req.RunID, Fields: []string{"Mode"}, Reason: err.Error()}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return checked{}, &ValidationError{RunID: req.RunID, Fields: []string{"Prompt"}, Reason: "prompt is blank"}
	}

	c := checked{RunRequest: req, mode: mode}
	if req.Schema != nil {
		v, err := schema.Compile(req.Schema.Schema)
		if err != nil {
			return checked{}, &ValidationError{RunID: req.RunID, Fields: []string{"Schema"}, Reason: err.Error()}
		}
		c.validator = v
	}
	return c, nil
}

// Validate reports whether Run would accept req: the request is well formed
// and names a registered provider. It makes no network call.
func (e *Engine) Validate(req RunRequest) error {
	if _, err := e.validate(req); err != nil {
		return err
	}
	if !e.providers.IsRegistered(req.Provider) {
		return fmt.Errorf("%w %q (available: %v)", ErrUnknownProvider, req.Provider, e.providers.Available())
	}
	return nil
}
