// Package scenario replays scripted message histories against an engine.
//
// A script names the group size and a list of steps. Sends are labelled, and
// later steps hand labelled messages to receivers in whatever order the
// script chooses, which makes adversarial reorderings reproducible.
package scenario

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ScriptSchema is the JSON Schema every script must satisfy
var ScriptSchema = []byte(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["processes", "steps"],
	"properties": {
		"name": {"type": "string"},
		"processes": {"type": "integer", "minimum": 1},
		"steps": {
			"type": "array",
			"items": {"$ref": "#/definitions/step"}
		}
	},
	"definitions": {
		"step": {
			"type": "object",
			"required": ["op"],
			"properties": {
				"op": {"enum": ["send", "enqueue", "deliver", "poll", "reset", "expect_delivered", "expect_clock", "expect_pending"]},
				"process": {"type": "integer", "minimum": 0},
				"processes": {"type": "integer", "minimum": 1},
				"payload": {"type": "string"},
				"label": {"type": "string", "minLength": 1},
				"labels": {"type": "array", "items": {"type": "string"}},
				"clock": {"type": "array", "items": {"type": "integer", "minimum": 0}},
				"count": {"type": "integer", "minimum": 0}
			},
			"allOf": [
				{
					"if": {"properties": {"op": {"const": "send"}}},
					"then": {"required": ["process", "label"]}
				},
				{
					"if": {"properties": {"op": {"enum": ["enqueue", "deliver"]}}},
					"then": {"required": ["process", "label"]}
				},
				{
					"if": {"properties": {"op": {"const": "poll"}}},
					"then": {"required": ["process"]}
				},
				{
					"if": {"properties": {"op": {"const": "reset"}}},
					"then": {"required": ["processes"]}
				},
				{
					"if": {"properties": {"op": {"const": "expect_delivered"}}},
					"then": {"required": ["process", "labels"]}
				},
				{
					"if": {"properties": {"op": {"const": "expect_clock"}}},
					"then": {"required": ["process", "clock"]}
				},
				{
					"if": {"properties": {"op": {"const": "expect_pending"}}},
					"then": {"required": ["process", "count"]}
				}
			]
		}
	}
}`)

// ValidationError represents a schema validation error
type ValidationError struct {
	Field       string `json:"field"`
	Description string `json:"description"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// ValidationResult contains the result of validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ErrInvalidScript is returned by Parse when a script fails validation
type ErrInvalidScript struct {
	Errors []ValidationError
}

func (e ErrInvalidScript) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		parts[i] = ve.Error()
	}
	return "invalid scenario: " + strings.Join(parts, "; ")
}

var (
	compileOnce sync.Once
	compiled    *gojsonschema.Schema
	compileErr  error
)

func schema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled, compileErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(ScriptSchema))
		if compileErr != nil {
			compileErr = fmt.Errorf("invalid scenario schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// Validate checks raw script JSON against ScriptSchema
func Validate(data []byte) ValidationResult {
	s, err := schema()
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "(schema)", Description: err.Error()}},
		}
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:       "(root)",
				Description: fmt.Sprintf("validation error: %v", err),
			}},
		}
	}

	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	errors := make([]ValidationError, len(result.Errors()))
	for i, err := range result.Errors() {
		errors[i] = ValidationError{
			Field:       err.Field(),
			Description: err.Description(),
		}
	}

	return ValidationResult{
		Valid:  false,
		Errors: errors,
	}
}
