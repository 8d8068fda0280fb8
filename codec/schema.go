package codec

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator optionally enforces a JSON Schema against a collection's
// documents, the way the teacher's collection.go gates typed collections
// while leaving schemaless collections unchecked (spec §1: "typed or
// schemaless document operations").
type SchemaValidator struct {
	schema *gojsonschema.Schema
	raw    string
}

// NewSchemaValidator compiles schemaJSON (a JSON Schema document) for
// reuse across every validation call.
func NewSchemaValidator(schemaJSON string) (*SchemaValidator, error) {
	loader := gojsonschema.NewStringLoader(schemaJSON)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("codec: invalid schema: %w", err)
	}
	return &SchemaValidator{schema: schema, raw: schemaJSON}, nil
}

// Validate reports whether docBytes (JSON) conforms to the compiled
// schema.
func (v *SchemaValidator) Validate(docBytes []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(docBytes))
	if err != nil {
		return fmt.Errorf("codec: schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("codec: document failed schema validation: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Raw returns the schema's original JSON text, for metadata persistence.
func (v *SchemaValidator) Raw() string { return v.raw }
