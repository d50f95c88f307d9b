package jsonrpc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Validator decides whether a parsed value is a well-formed JSON-RPC 2.0 request.
// A non-nil error means the value must be answered with an Invalid Request error.
type Validator interface {
	Validate(v any) error
}

// ValidatorFunc adapts an ordinary function to the Validator interface.
type ValidatorFunc func(v any) error

// Validate calls f(v).
func (f ValidatorFunc) Validate(v any) error {
	return f(v)
}

// RequestSchema is the JSON Schema of a JSON-RPC 2.0 request object.
// Members other than jsonrpc, method, params and id are rejected.
const RequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "JSON-RPC 2.0 request",
  "type": "object",
  "required": ["jsonrpc", "method"],
  "additionalProperties": false,
  "properties": {
    "jsonrpc": {"const": "2.0"},
    "method": {"type": "string", "minLength": 1},
    "params": {"type": ["array", "object"]},
    "id": {"type": ["string", "number", "null"]}
  }
}`

// SchemaValidator validates requests against a compiled JSON Schema.
type SchemaValidator struct {
	schema *gojsonschema.Schema
}

// NewSchemaValidator compiles RequestSchema.
func NewSchemaValidator() (*SchemaValidator, error) {
	return NewSchemaValidatorFrom(RequestSchema)
}

// NewSchemaValidatorFrom compiles a custom request schema.
func NewSchemaValidatorFrom(schema string) (*SchemaValidator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile request schema: %w", err)
	}
	return &SchemaValidator{schema: compiled}, nil
}

// MustSchemaValidator is like NewSchemaValidator but panics on error.
func MustSchemaValidator() *SchemaValidator {
	v, err := NewSchemaValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate implements Validator.
func (s *SchemaValidator) Validate(v any) error {
	// gojsonschema treats a nil Go value as "no document"; top-level null is simply not an object.
	if v == nil {
		return errors.New("(root): Invalid type. Expected: object, given: null")
	}

	result, err := s.schema.Validate(gojsonschema.NewGoLoader(v))
	if err != nil {
		return fmt.Errorf("validate request: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}
