// Package schema generates response schemas from Go types and checks model
// output against them.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Reflector is configured for provider structured-output schemas.
// DoNotReference inlines all definitions since several providers reject $ref.
var Reflector = &jsonschema.Reflector{
	DoNotReference: true,
}

// ErrMismatch is wrapped by Validate when a value does not satisfy a schema.
var ErrMismatch = errors.New("value does not match schema")

// Generate creates a JSON Schema from a Go type.
//
//	type Rate struct {
//	    Country string  `json:"country" jsonschema:"required"`
//	    Percent float64 `json:"percent" jsonschema:"required,description=Standard VAT rate"`
//	}
//
//	raw, err := schema.Generate[Rate]()
func Generate[T any]() (json.RawMessage, error) {
	var zero T
	return json.Marshal(Reflector.Reflect(&zero))
}

// MustGenerate is like Generate but panics on error.
func MustGenerate[T any]() json.RawMessage {
	raw, err := Generate[T]()
	if err != nil {
		panic(err)
	}
	return raw
}

// Validator checks decoded JSON values against one compiled schema.
type Validator struct {
	schema *sjsonschema.Schema
}

// Compile parses and compiles a JSON Schema document.
func Compile(raw json.RawMessage) (*Validator, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty schema")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("response.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := c.Compile("response.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// Validate checks v, a value decoded by encoding/json.
func (v *Validator) Validate(value any) error {
	if err := v.schema.Validate(value); err != nil {
		return fmt.Errorf("%w: %v", ErrMismatch, err)
	}
	return nil
}

// Validate compiles raw and checks value against it.
func Validate(raw json.RawMessage, value any) error {
	v, err := Compile(raw)
	if err != nil {
		return err
	}
	return v.Validate(value)
}
