package dsconv

// JSON Schema validation of dataset documents.

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaName identifies one of the embedded dataset schemas.
type SchemaName string

// The embedded schemas.
const (
	SchemaCOCO       SchemaName = "coco"
	SchemaYOLO       SchemaName = "yolo"
	SchemaNormalizer SchemaName = "normalizer"
)

const schemaBaseURL = "https://sensorable.github.io/dsconv/schemas/"

//go:embed schemas/*.json
var schemaFiles embed.FS

// Validator validates documents against the compiled dataset schemas. It is safe for concurrent
// use.
type Validator struct {
	schemas map[SchemaName]*jsonschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	names := []SchemaName{SchemaCOCO, SchemaYOLO, SchemaNormalizer}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	for _, name := range names {
		data, err := schemaFiles.ReadFile("schemas/" + string(name) + ".json")
		if err != nil {
			return nil, fmt.Errorf("failed to read the %s schema: %w", name, err)
		}
		if err := c.AddResource(schemaURL(name), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to load the %s schema: %w", name, err)
		}
	}

	v := &Validator{schemas: make(map[SchemaName]*jsonschema.Schema, len(names))}
	for _, name := range names {
		s, err := c.Compile(schemaURL(name))
		if err != nil {
			return nil, fmt.Errorf("failed to compile the %s schema: %w", name, err)
		}
		v.schemas[name] = s
	}
	return v, nil
}

var defaultValidator = sync.OnceValues(NewValidator)

// DefaultValidator returns a shared validator, compiling the schemas on first use.
func DefaultValidator() (*Validator, error) {
	return defaultValidator()
}

func schemaURL(name SchemaName) string {
	return schemaBaseURL + string(name) + ".json"
}

// Validate checks the JSON encoding of doc against the named schema. A non-conforming document
// yields a *SchemaError.
func (v *Validator) Validate(name SchemaName, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode the document for validation: %w", err)
	}
	return v.ValidateJSON(name, data)
}

// ValidateJSON checks the raw JSON document against the named schema. A non-conforming document
// yields a *SchemaError.
func (v *Validator) ValidateJSON(name SchemaName, data []byte) error {
	s, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("invalid JSON document: %w", err)
	}

	if err := s.Validate(instance); err != nil {
		return &SchemaError{Schema: name, Err: err}
	}
	return nil
}
