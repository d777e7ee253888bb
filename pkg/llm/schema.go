package llm

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaValidator validates decoded objects against a JSON Schema document
// compiled once at construction.
type SchemaValidator struct {
	name   string
	raw    []byte
	schema *jsonschema.Schema
}

// CompileSchema compiles doc into a reusable validator. The name labels the
// schema in error messages and provider payloads.
func CompileSchema(name string, doc []byte) (*SchemaValidator, error) {
	var parsed any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := compiler.AddResource(resource, parsed); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &SchemaValidator{name: name, raw: doc, schema: schema}, nil
}

// MustCompileSchema is CompileSchema for package-level schema constants.
func MustCompileSchema(name string, doc []byte) *SchemaValidator {
	v, err := CompileSchema(name, doc)
	if err != nil {
		panic(err)
	}
	return v
}

// Name returns the schema label.
func (v *SchemaValidator) Name() string { return v.name }

// Raw returns the schema document for provider payloads.
func (v *SchemaValidator) Raw() []byte { return v.raw }

// Validate checks obj against the schema. Violations surface as
// schema_parse_error so callers can route them into the repair path.
func (v *SchemaValidator) Validate(obj any) error {
	if err := v.schema.Validate(obj); err != nil {
		return WrapError(CategorySchemaParse, fmt.Sprintf("response does not satisfy %s schema", v.name), err)
	}
	return nil
}
