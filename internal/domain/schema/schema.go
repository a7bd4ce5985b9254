// Package schema implements the JSON-Schema-like declaration model used
// for tool input and output contracts, a coercing validator over it, and
// a compile check that rejects malformed schemas before they are attached
// to tools.
package schema

// Schema is the declaration subset tools use for their input and output
// contracts: a type, nested properties, required fields, and the common
// constraint keywords.
type Schema struct {
	// Type is one of: object, string, number, integer, boolean, array, null.
	Type string `json:"type,omitempty"`
	// Properties declares the fields of an object schema.
	Properties map[string]*Schema `json:"properties,omitempty"`
	// Required lists object properties that must be present.
	Required []string `json:"required,omitempty"`
	// Items declares the element schema of an array.
	Items *Schema `json:"items,omitempty"`
	// Enum restricts the value to one of the listed literals.
	Enum []any `json:"enum,omitempty"`
	// Description documents the field for humans and LLMs.
	Description string `json:"description,omitempty"`
	// Default is injected for absent optional properties.
	Default any `json:"default,omitempty"`
	// Minimum and Maximum bound numeric values (inclusive).
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`
	// MinLength and MaxLength bound string lengths.
	MinLength *int `json:"minLength,omitempty"`
	MaxLength *int `json:"maxLength,omitempty"`
	// Pattern is a Go regular expression strings must match.
	Pattern string `json:"pattern,omitempty"`
}

// validTypes are the type keywords the declaration subset accepts.
var validTypes = map[string]bool{
	"object":  true,
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"array":   true,
	"null":    true,
}

// Clone returns a deep copy of the schema tree.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := *s
	if s.Properties != nil {
		out.Properties = make(map[string]*Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = v.Clone()
		}
	}
	out.Required = append([]string(nil), s.Required...)
	out.Items = s.Items.Clone()
	out.Enum = append([]any(nil), s.Enum...)
	if s.Minimum != nil {
		min := *s.Minimum
		out.Minimum = &min
	}
	if s.Maximum != nil {
		max := *s.Maximum
		out.Maximum = &max
	}
	if s.MinLength != nil {
		ml := *s.MinLength
		out.MinLength = &ml
	}
	if s.MaxLength != nil {
		ml := *s.MaxLength
		out.MaxLength = &ml
	}
	return &out
}

// PropertyNames returns the declared top-level property names, used by
// the registry when composing embedding text. Order is not guaranteed.
func (s *Schema) PropertyNames() []string {
	if s == nil || len(s.Properties) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	return names
}

// effectiveType resolves the schema's type, treating a bare properties
// block as an object schema.
func (s *Schema) effectiveType() string {
	if s.Type == "" && len(s.Properties) > 0 {
		return "object"
	}
	return s.Type
}
