package schema

import (
	"strings"
	"testing"
)

// personSchema is a small object schema used across tests.
func personSchema() *Schema {
	return &Schema{
		Type:     "object",
		Required: []string{"name", "age"},
		Properties: map[string]*Schema{
			"name": {Type: "string"},
			"age":  {Type: "number"},
			"tags": {Type: "array", Items: &Schema{Type: "string"}},
		},
	}
}

// --- Validate Tests ---

func TestValidate_ValidObject(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	res := v.Validate(map[string]any{"name": "ada", "age": float64(36)}, personSchema())

	if !res.Valid {
		t.Fatalf("Validate() = invalid, errors: %v", res.Errors)
	}
	coerced, ok := res.Coerced.(map[string]any)
	if !ok {
		t.Fatalf("Coerced is %T, want map[string]any", res.Coerced)
	}
	if coerced["name"] != "ada" {
		t.Errorf("name = %v, want %q", coerced["name"], "ada")
	}
	if coerced["age"] != float64(36) {
		t.Errorf("age = %v, want 36", coerced["age"])
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	res := v.Validate(map[string]any{"name": "ada"}, personSchema())

	if res.Valid {
		t.Fatal("Validate() = valid, want invalid for missing required property")
	}
	if len(res.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly one", res.Errors)
	}
	if !strings.Contains(res.Errors[0], "$.age") {
		t.Errorf("error %q should name the missing path $.age", res.Errors[0])
	}
}

func TestValidate_TypeCoercion(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	s := &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"count":   {Type: "number"},
			"label":   {Type: "string"},
			"enabled": {Type: "boolean"},
			"total":   {Type: "integer"},
		},
	}
	res := v.Validate(map[string]any{
		"count":   "42",
		"label":   float64(7),
		"enabled": "true",
		"total":   float64(3),
	}, s)

	if !res.Valid {
		t.Fatalf("Validate() = invalid, errors: %v", res.Errors)
	}
	coerced := res.Coerced.(map[string]any)
	if coerced["count"] != float64(42) {
		t.Errorf("count = %v (%T), want 42", coerced["count"], coerced["count"])
	}
	if coerced["label"] != "7" {
		t.Errorf("label = %v, want %q", coerced["label"], "7")
	}
	if coerced["enabled"] != true {
		t.Errorf("enabled = %v, want true", coerced["enabled"])
	}
	if coerced["total"] != float64(3) {
		t.Errorf("total = %v, want 3", coerced["total"])
	}
}

func TestValidate_NonIntegerRejected(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	s := &Schema{Type: "integer"}
	res := v.Validate(float64(3.5), s)

	if res.Valid {
		t.Error("Validate() = valid, want invalid for non-integral value")
	}
}

func TestValidate_StripsUndeclaredProperties(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	res := v.Validate(map[string]any{
		"name":     "ada",
		"age":      float64(36),
		"password": "hunter2",
	}, personSchema())

	if !res.Valid {
		t.Fatalf("Validate() = invalid, errors: %v", res.Errors)
	}
	coerced := res.Coerced.(map[string]any)
	if _, present := coerced["password"]; present {
		t.Error("undeclared property was not stripped")
	}
	if len(res.Warnings) == 0 {
		t.Error("stripping should be reported as a warning")
	}
}

func TestValidate_AppliesDefaults(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	s := &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"limit": {Type: "number", Default: float64(10)},
		},
	}
	res := v.Validate(map[string]any{}, s)

	if !res.Valid {
		t.Fatalf("Validate() = invalid, errors: %v", res.Errors)
	}
	coerced := res.Coerced.(map[string]any)
	if coerced["limit"] != float64(10) {
		t.Errorf("limit = %v, want default 10", coerced["limit"])
	}
}

func TestValidate_DefaultNeverSatisfiesRequired(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	s := &Schema{
		Type:     "object",
		Required: []string{"limit"},
		Properties: map[string]*Schema{
			"limit": {Type: "number", Default: float64(10)},
		},
	}
	res := v.Validate(map[string]any{}, s)

	if res.Valid {
		t.Error("Validate() = valid, want invalid: defaults must not mask a missing required property")
	}
}

func TestValidate_NestedObjects(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	s := &Schema{
		Type:     "object",
		Required: []string{"user"},
		Properties: map[string]*Schema{
			"user": {
				Type:     "object",
				Required: []string{"id"},
				Properties: map[string]*Schema{
					"id":   {Type: "string"},
					"role": {Type: "string", Enum: []any{"admin", "viewer"}},
				},
			},
		},
	}

	res := v.Validate(map[string]any{
		"user": map[string]any{"id": "u-1", "role": "admin"},
	}, s)
	if !res.Valid {
		t.Fatalf("Validate() = invalid, errors: %v", res.Errors)
	}

	res = v.Validate(map[string]any{
		"user": map[string]any{"role": "admin"},
	}, s)
	if res.Valid {
		t.Fatal("Validate() = valid, want invalid for missing nested required property")
	}
	if !strings.Contains(res.Errors[0], "$.user.id") {
		t.Errorf("error %q should name the nested path $.user.id", res.Errors[0])
	}
}

func TestValidate_EnumMembership(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	s := &Schema{Type: "string", Enum: []any{"red", "green", "blue"}}

	if res := v.Validate("green", s); !res.Valid {
		t.Errorf("Validate(green) = invalid, errors: %v", res.Errors)
	}
	if res := v.Validate("yellow", s); res.Valid {
		t.Error("Validate(yellow) = valid, want invalid")
	}
}

func TestValidate_EnumNumericNormalization(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	s := &Schema{Type: "number", Enum: []any{float64(1), float64(2)}}

	if res := v.Validate(float64(2), s); !res.Valid {
		t.Errorf("Validate(2) = invalid, errors: %v", res.Errors)
	}
}

func TestValidate_ArrayItems(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	s := &Schema{Type: "array", Items: &Schema{Type: "number"}}

	res := v.Validate([]any{float64(1), "2", float64(3)}, s)
	if !res.Valid {
		t.Fatalf("Validate() = invalid, errors: %v", res.Errors)
	}
	coerced := res.Coerced.([]any)
	if coerced[1] != float64(2) {
		t.Errorf("item 1 = %v, want coerced 2", coerced[1])
	}

	res = v.Validate([]any{"not a number at all"}, s)
	if res.Valid {
		t.Error("Validate() = valid, want invalid for unparseable array item")
	}
}

func TestValidate_ScalarCoercesToArray(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	s := &Schema{Type: "array", Items: &Schema{Type: "string"}}

	res := v.Validate("solo", s)
	if !res.Valid {
		t.Fatalf("Validate() = invalid, errors: %v", res.Errors)
	}
	coerced := res.Coerced.([]any)
	if len(coerced) != 1 || coerced[0] != "solo" {
		t.Errorf("Coerced = %v, want [solo]", coerced)
	}
}

func TestValidate_StringConstraints(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	s := &Schema{Type: "string", MinLength: intPtr(3), MaxLength: intPtr(5), Pattern: `^[a-z]+$`}

	if res := v.Validate("abcd", s); !res.Valid {
		t.Errorf("Validate(abcd) = invalid, errors: %v", res.Errors)
	}
	if res := v.Validate("ab", s); res.Valid {
		t.Error("Validate(ab) = valid, want minLength violation")
	}
	if res := v.Validate("abcdef", s); res.Valid {
		t.Error("Validate(abcdef) = valid, want maxLength violation")
	}
	if res := v.Validate("ABCD", s); res.Valid {
		t.Error("Validate(ABCD) = valid, want pattern violation")
	}
}

func TestValidate_NumberBounds(t *testing.T) {
	t.Parallel()

	min, max := 0.0, 100.0
	v := NewValidator()
	s := &Schema{Type: "number", Minimum: &min, Maximum: &max}

	if res := v.Validate(float64(50), s); !res.Valid {
		t.Errorf("Validate(50) = invalid, errors: %v", res.Errors)
	}
	if res := v.Validate(float64(-1), s); res.Valid {
		t.Error("Validate(-1) = valid, want minimum violation")
	}
	if res := v.Validate(float64(101), s); res.Valid {
		t.Error("Validate(101) = valid, want maximum violation")
	}
}

func TestValidate_NilSchemaAcceptsAnything(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	res := v.Validate(map[string]any{"whatever": true}, nil)
	if !res.Valid {
		t.Fatalf("Validate() with nil schema = invalid, errors: %v", res.Errors)
	}
}

func TestValidate_NeverPanics(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	inputs := []any{
		nil,
		"string where object expected",
		[]any{map[string]any{"deep": []any{nil}}},
		map[string]any{"a": map[string]any{"b": map[string]any{"c": float64(1)}}},
		make(chan int), // not JSON at all
	}
	for _, input := range inputs {
		res := v.Validate(input, personSchema())
		if res == nil {
			t.Fatal("Validate() returned nil result")
		}
	}
}

func TestValidate_MultipleErrorsItemized(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	res := v.Validate(map[string]any{"age": "not-a-number x"}, personSchema())

	if res.Valid {
		t.Fatal("Validate() = valid, want invalid")
	}
	// Missing name + unparseable age = two itemized violations.
	if len(res.Errors) != 2 {
		t.Errorf("Errors = %v, want two itemized messages", res.Errors)
	}
}

// --- ValidateSchema Tests ---

func TestValidateSchema_Valid(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	res := v.ValidateSchema(personSchema())
	if !res.Valid {
		t.Fatalf("ValidateSchema() = invalid, errors: %v", res.Errors)
	}
}

func TestValidateSchema_UnknownType(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	res := v.ValidateSchema(&Schema{Type: "tuple"})
	if res.Valid {
		t.Fatal("ValidateSchema() = valid, want invalid for unknown type")
	}
}

func TestValidateSchema_BadPattern(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	res := v.ValidateSchema(&Schema{Type: "string", Pattern: "([unclosed"})
	if res.Valid {
		t.Fatal("ValidateSchema() = valid, want invalid for broken pattern")
	}
}

func TestValidateSchema_InvertedBounds(t *testing.T) {
	t.Parallel()

	min, max := 10.0, 1.0
	v := NewValidator()
	res := v.ValidateSchema(&Schema{Type: "number", Minimum: &min, Maximum: &max})
	if res.Valid {
		t.Fatal("ValidateSchema() = valid, want invalid for minimum > maximum")
	}
}

func TestValidateSchema_RequiredOnNonObject(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	res := v.ValidateSchema(&Schema{Type: "string", Required: []string{"x"}})
	if res.Valid {
		t.Fatal("ValidateSchema() = valid, want invalid for required on a string schema")
	}
}

func TestValidateSchema_NestedInvalid(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	res := v.ValidateSchema(&Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"inner": {Type: "qubit"},
		},
	})
	if res.Valid {
		t.Fatal("ValidateSchema() = valid, want invalid for nested unknown type")
	}
	if !strings.Contains(res.Errors[0], "$.inner") {
		t.Errorf("error %q should name the nested path", res.Errors[0])
	}
}

func TestValidateSchema_Nil(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	res := v.ValidateSchema(nil)
	if res.Valid {
		t.Fatal("ValidateSchema(nil) = valid, want invalid")
	}
}

// --- Fixed subschema Tests ---

func TestDependencyListSchema(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	deps := []any{
		map[string]any{"name": "lodash", "version": "4.17.21", "type": "npm-package"},
		map[string]any{"name": "csv-parse", "version": "1.0.0", "type": "other-tool", "optional": true},
	}
	res := v.Validate(deps, DependencyListSchema())
	if !res.Valid {
		t.Fatalf("Validate() = invalid, errors: %v", res.Errors)
	}

	bad := []any{
		map[string]any{"name": "x", "version": "4.17.21", "type": "maven-package"},
	}
	res = v.Validate(bad, DependencyListSchema())
	if res.Valid {
		t.Fatal("Validate() = valid, want invalid for unknown dependency type")
	}
}

func TestMetadataSchema(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	res := v.Validate(map[string]any{
		"author": "ada",
		"tags":   []any{"text", "parsing"},
	}, MetadataSchema())
	if !res.Valid {
		t.Fatalf("Validate() = invalid, errors: %v", res.Errors)
	}
}
