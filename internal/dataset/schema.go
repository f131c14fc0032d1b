package dataset

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "canonical-dataset.json"

// Validator checks datasets against the canonical schema. A dataset must
// pass validation before it is persisted or sent to the registry; the rule
// engine uses the same gate to reject overrides that would corrupt a record.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded canonical schema.
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("decode canonical schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("register canonical schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile canonical schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate reports nil when d conforms to the canonical schema.
func (v *Validator) Validate(d Dataset) error {
	// Round-trip so values built in Go code (ints, typed structs) validate
	// the same as values decoded from vendor JSON.
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	var plain any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return fmt.Errorf("normalize dataset: %w", err)
	}
	if err := v.schema.Validate(plain); err != nil {
		return fmt.Errorf("canonical schema validation: %w", err)
	}
	return nil
}
