package mapping

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/mappings.schema.json
var mappingsSchemaJSON string

//go:embed schema/virtuals.schema.json
var virtualsSchemaJSON string

// Validator checks mapping documents against their published schemas before
// any of their content is trusted.
type Validator struct {
	mappings *jsonschema.Schema
	virtuals *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("mappings.schema.json",
		strings.NewReader(mappingsSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add mappings schema resource: %w", err)
	}
	if err := compiler.AddResource("virtuals.schema.json",
		strings.NewReader(virtualsSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add virtuals schema resource: %w", err)
	}

	mappingsSchema, err := compiler.Compile("mappings.schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile mappings schema: %w", err)
	}
	virtualsSchema, err := compiler.Compile("virtuals.schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile virtuals schema: %w", err)
	}

	return &Validator{mappings: mappingsSchema, virtuals: virtualsSchema}, nil
}

// ValidateMappings validates a decoded mappings document.
func (v *Validator) ValidateMappings(doc any) error {
	if err := v.mappings.Validate(doc); err != nil {
		return fmt.Errorf("mappings schema validation failed: %w", err)
	}
	return nil
}

// ValidateVirtuals validates a decoded virtual-properties document.
func (v *Validator) ValidateVirtuals(doc any) error {
	if err := v.virtuals.Validate(doc); err != nil {
		return fmt.Errorf("virtuals schema validation failed: %w", err)
	}
	return nil
}

// normalizeForSchema converts YAML-decoded values into the shapes the schema
// validator expects (string-keyed maps, json-compatible scalars).
func normalizeForSchema(value any) any {
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return value
	}
	return out
}
