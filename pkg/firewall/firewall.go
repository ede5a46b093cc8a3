// Package firewall implements the two guardrails that sit in front of the
// operation dispatcher and in front of guarded curation: envelope-shape
// schema validation and prompt-injection pattern scanning.
//
// The schema is compiled once at construction and every envelope is
// validated before it reaches a handler; validation failures are always
// surfaced, never swallowed.
package firewall

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// EnvelopeGate validates that a dispatcher request has the minimal shape
// every operation handler expects: operation is a non-empty string, request
// is a non-null JSON object (not an array).
type EnvelopeGate struct {
	schema *jsonschema.Schema
}

const envelopeSchemaSource = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["operation", "request"],
	"properties": {
		"operation": {"type": "string", "minLength": 1},
		"request": {"type": "object"}
	}
}`

// NewEnvelopeGate compiles the fixed envelope schema once.
func NewEnvelopeGate() (*EnvelopeGate, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("envelope.json", strings.NewReader(envelopeSchemaSource)); err != nil {
		return nil, fmt.Errorf("firewall: compiling envelope schema: %w", err)
	}
	schema, err := c.Compile("envelope.json")
	if err != nil {
		return nil, fmt.Errorf("firewall: compiling envelope schema: %w", err)
	}
	return &EnvelopeGate{schema: schema}, nil
}

// Validate checks envelope (a decoded {operation, request} JSON object)
// against the fixed envelope schema. Fail-closed: any validation error is
// surfaced, never swallowed.
func (g *EnvelopeGate) Validate(envelope map[string]interface{}) error {
	if err := g.schema.Validate(envelope); err != nil {
		return fmt.Errorf("firewall: envelope rejected: %w", err)
	}
	return nil
}
