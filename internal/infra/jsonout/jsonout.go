// Package jsonout decodes JSON answers produced by language models: code
// fences are stripped and the payload is checked against a JSON Schema
// before it is unmarshalled.
package jsonout

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

// codeFenceRe matches the first markdown code fence, with or without a json tag.
var codeFenceRe = regexp.MustCompile(`(?si)` + "```" + `(?:json)?\s*(.*?)\s*` + "```")

// StripCodeFences returns the body of the first fenced block in s, or s
// trimmed when there is none. Chatter around the fence is dropped.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// Schema is a compiled JSON Schema.
type Schema struct {
	schema *jsonschema.Schema
}

// Compile compiles a JSON Schema document.
func Compile(raw string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{schema: schema}, nil
}

// MustCompile is Compile for package-level schemas; it panics on error.
func MustCompile(raw string) *Schema {
	s, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode strips fences from text, validates it and unmarshals it into v.
func (s *Schema) Decode(text string, v any) error {
	body := StripCodeFences(text)
	var data any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return fmt.Errorf("not JSON: %w", err)
	}
	result := s.schema.Validate(data)
	if !result.IsValid() {
		return fmt.Errorf("schema validation failed: %s", result.Error())
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
