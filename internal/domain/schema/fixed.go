package schema

// Fixed sub-schemas applied to raw JSON at the API boundary, before the
// strict domain decode sees it. They keep validation failures in the
// itemized Result shape instead of opaque decode errors.

// semverShape is a shape check only; the tool domain applies the strict
// semantic-version rule.
const semverShape = `^\d+\.\d+\.\d+([-+].*)?$`

func intPtr(i int) *int { return &i }

// DependencyListSchema returns the fixed sub-schema for a dependency
// list: each entry needs a name, a semver-shaped version, and one of the
// three enumerated types.
func DependencyListSchema() *Schema {
	return &Schema{
		Type: "array",
		Items: &Schema{
			Type:     "object",
			Required: []string{"name", "version", "type"},
			Properties: map[string]*Schema{
				"name":    {Type: "string", MinLength: intPtr(1)},
				"version": {Type: "string", Pattern: semverShape},
				"type": {
					Type: "string",
					Enum: []any{"npm-package", "other-tool", "system-package"},
				},
				"optional": {Type: "boolean", Default: false},
			},
		},
	}
}

// MetadataSchema returns the fixed sub-schema for tool metadata supplied
// through the API.
func MetadataSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"author":   {Type: "string"},
			"category": {Type: "string"},
			"tags": {
				Type:  "array",
				Items: &Schema{Type: "string"},
			},
		},
	}
}
