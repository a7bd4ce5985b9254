package schema

import (
	"bytes"
	"encoding/json"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateSchema checks that a schema declaration itself is well formed:
// a structural pass over the subset rules, then a compile through a real
// JSON Schema compiler. Catches malformed schemas before they are
// attached to tools. Like Validate, it never returns a Go error.
func (v *Validator) ValidateSchema(s *Schema) *Result {
	res := &Result{}
	if s == nil {
		res.Errors = append(res.Errors, "$: schema is required")
		return res
	}
	checkSchema("$", s, res)
	if len(res.Errors) == 0 {
		compileSchema(s, res)
	}
	res.Valid = len(res.Errors) == 0
	return res
}

// checkSchema walks the declaration tree applying the subset rules.
func checkSchema(path string, s *Schema, res *Result) {
	if s == nil {
		res.errorf(path, "schema is empty")
		return
	}
	if s.Type != "" && !validTypes[s.Type] {
		res.errorf(path, "unknown type %q", s.Type)
	}

	effective := s.effectiveType()
	if effective != "object" {
		if len(s.Properties) > 0 {
			res.warnf(path, "properties declared on non-object type %q", s.Type)
		}
		if len(s.Required) > 0 {
			res.errorf(path, "required declared on non-object type %q", s.Type)
		}
	}
	if s.Items != nil && effective != "array" {
		res.warnf(path, "items declared on non-array type %q", s.Type)
	}

	if s.Pattern != "" {
		if _, err := regexp.Compile(s.Pattern); err != nil {
			res.errorf(path, "pattern does not compile: %v", err)
		}
	}
	if s.Minimum != nil && s.Maximum != nil && *s.Minimum > *s.Maximum {
		res.errorf(path, "minimum %v exceeds maximum %v", *s.Minimum, *s.Maximum)
	}
	if s.MinLength != nil && *s.MinLength < 0 {
		res.errorf(path, "minLength is negative")
	}
	if s.MinLength != nil && s.MaxLength != nil && *s.MinLength > *s.MaxLength {
		res.errorf(path, "minLength %d exceeds maxLength %d", *s.MinLength, *s.MaxLength)
	}

	declared := make(map[string]bool, len(s.Properties))
	for name, prop := range s.Properties {
		if name == "" {
			res.errorf(path, "property with empty name")
			continue
		}
		declared[name] = true
		checkSchema(path+"."+name, prop, res)
	}
	for _, name := range s.Required {
		if !declared[name] {
			res.warnf(path, "required property %q has no declaration (presence-only check)", name)
		}
	}

	if s.Items != nil {
		checkSchema(path+"[]", s.Items, res)
	}
}

// compileSchema round-trips the declaration through a JSON Schema
// compiler (draft 2020-12). Compile failures are definition errors.
func compileSchema(s *Schema, res *Result) {
	raw, err := json.Marshal(s)
	if err != nil {
		res.errorf("$", "schema does not serialize: %v", err)
		return
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		res.errorf("$", "schema does not parse: %v", err)
		return
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool-schema.json", doc); err != nil {
		res.errorf("$", "schema does not compile: %v", err)
		return
	}
	if _, err := compiler.Compile("tool-schema.json"); err != nil {
		res.errorf("$", "schema does not compile: %v", err)
	}
}
