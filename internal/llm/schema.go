package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	invjs "github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonschema"
)

// Schema is a JSON schema reflected from a Go type, used both to constrain
// model output and to validate it before decoding.
type Schema struct {
	Name        string
	Description string

	raw      json.RawMessage
	compiled *jsonschema.Schema
}

func NewSchema(name, description string, v any) (*Schema, error) {
	r := &invjs.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		Anonymous:      true,
	}
	reflected := r.Reflect(v)
	reflected.Version = ""

	raw, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema %s: %w", name, err)
	}

	compiled, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	return &Schema{
		Name:        name,
		Description: description,
		raw:         raw,
		compiled:    compiled,
	}, nil
}

func MustSchema(name, description string, v any) *Schema {
	s, err := NewSchema(name, description, v)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Raw() json.RawMessage {
	return s.raw
}

// Decode validates data against the schema and then decodes it into out.
func (s *Schema) Decode(data []byte, out any) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("output is not valid JSON: %w", err)
	}

	result := s.compiled.Validate(value)
	if !result.Valid {
		return fmt.Errorf("output does not match schema %s: %v", s.Name, result.Errors)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode output: %w", err)
	}

	return nil
}
