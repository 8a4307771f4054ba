package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError reports a single configuration validation failure,
// addressed by a JSON-pointer-like path into the document.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config validation: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("config validation: %s", e.Message)
}

// documentSchema is the JSON Schema every configuration document must
// satisfy before records are decoded. It pins the required fields per
// record class; unknown fields pass through unvalidated.
const documentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "array",
	"items": {
		"type": "object",
		"anyOf": [
			{
				"required": ["url", "method", "response"],
				"properties": {
					"url": {"type": "string", "minLength": 1},
					"method": {"type": "string", "minLength": 1},
					"response": {
						"type": "object",
						"required": ["status"],
						"properties": {
							"status": {"type": "integer", "minimum": 100, "maximum": 599},
							"headers": {"type": "object", "additionalProperties": {"type": "string"}},
							"body": {"type": "object"}
						}
					},
					"delay": {"type": "integer", "minimum": 0}
				}
			},
			{
				"required": ["path"],
				"properties": {
					"path": {"type": "string", "minLength": 1},
					"on_connect": {"$ref": "#/$defs/wsResponse"},
					"on_message": {"$ref": "#/$defs/wsResponse"},
					"on_close": {"$ref": "#/$defs/wsResponse"}
				}
			}
		]
	},
	"$defs": {
		"wsResponse": {
			"type": "object",
			"properties": {
				"message": {"type": "object"},
				"delay": {"type": "integer", "minimum": 0}
			}
		}
	}
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("config.schema.json", strings.NewReader(documentSchema)); err != nil {
			schemaErr = fmt.Errorf("failed to load config schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("config.schema.json")
	})
	return schema, schemaErr
}

// ValidateSchema checks raw JSON bytes against the configuration schema.
// Returns a *ValidationError describing the first failing location.
func ValidateSchema(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	if err := s.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := leafCause(ve)
			return &ValidationError{
				Path:    leaf.InstanceLocation,
				Message: leaf.Message,
			}
		}
		return err
	}
	return nil
}

// leafCause descends to the deepest cause of a schema validation error,
// which usually names the offending field rather than the whole document.
func leafCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}
