package schema

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Result reports the outcome of a validation. Coerced carries the
// transformed copy of the input (types coerced, undeclared properties
// stripped, defaults injected) and is meaningful only when Valid.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Coerced  any      `json:"coerced,omitempty"`
}

func (r *Result) errorf(path, format string, args ...any) {
	r.Errors = append(r.Errors, path+": "+fmt.Sprintf(format, args...))
}

func (r *Result) warnf(path, format string, args ...any) {
	r.Warnings = append(r.Warnings, path+": "+fmt.Sprintf(format, args...))
}

// Validator validates arbitrary decoded JSON against Schema declarations.
// It never panics and never returns a Go error: every failure is reported
// in the Result as one human-readable message per violation.
// Safe for concurrent use.
type Validator struct {
	// patterns caches compiled Pattern regexps keyed by source.
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{patterns: make(map[string]*regexp.Regexp)}
}

// Validate checks data against s, coercing where the declaration allows
// it. A nil schema accepts anything unchanged.
func (v *Validator) Validate(data any, s *Schema) *Result {
	res := &Result{}
	if s == nil {
		res.Valid = true
		res.Coerced = data
		return res
	}
	coerced := v.validateValue("$", data, s, res)
	res.Valid = len(res.Errors) == 0
	if res.Valid {
		res.Coerced = coerced
	}
	return res
}

// validateValue dispatches on the declared type and returns the coerced
// value. Violations are recorded on res; the returned value is only
// meaningful when no error was recorded for this subtree.
func (v *Validator) validateValue(path string, data any, s *Schema, res *Result) any {
	if s == nil {
		return data
	}

	var out any
	switch s.effectiveType() {
	case "object":
		out = v.validateObject(path, data, s, res)
	case "string":
		out = v.validateString(path, data, s, res)
	case "number":
		out = v.validateNumber(path, data, s, res, false)
	case "integer":
		out = v.validateNumber(path, data, s, res, true)
	case "boolean":
		out = v.validateBoolean(path, data, res)
	case "array":
		out = v.validateArray(path, data, s, res)
	case "null":
		if data != nil {
			res.errorf(path, "expected null, got %s", typeName(data))
		}
		out = nil
	case "":
		// Untyped declaration: accept as-is, still apply enum.
		out = data
	default:
		res.errorf(path, "schema declares unknown type %q", s.Type)
		return data
	}

	if len(s.Enum) > 0 && !enumContains(s.Enum, out) {
		res.errorf(path, "value is not one of the allowed values")
	}
	return out
}

func (v *Validator) validateObject(path string, data any, s *Schema, res *Result) any {
	m, ok := data.(map[string]any)
	if !ok {
		res.errorf(path, "expected object, got %s", typeName(data))
		return data
	}

	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	out := make(map[string]any, len(m))
	for name, prop := range s.Properties {
		childPath := path + "." + name
		value, present := m[name]
		if !present {
			if required[name] {
				res.errorf(childPath, "required property is missing")
				continue
			}
			if prop != nil && prop.Default != nil {
				out[name] = prop.Default
			}
			continue
		}
		out[name] = v.validateValue(childPath, value, prop, res)
	}

	// Required names without a property declaration are presence-only.
	for name := range required {
		if _, declared := s.Properties[name]; declared {
			continue
		}
		if value, present := m[name]; present {
			out[name] = value
		} else {
			res.errorf(path+"."+name, "required property is missing")
		}
	}

	// Strip undeclared properties, reporting each as a warning.
	for name := range m {
		if _, declared := s.Properties[name]; declared {
			continue
		}
		if required[name] {
			continue
		}
		res.warnf(path+"."+name, "undeclared property stripped")
	}

	return out
}

func (v *Validator) validateString(path string, data any, s *Schema, res *Result) any {
	var str string
	switch val := data.(type) {
	case string:
		str = val
	case float64:
		// Numeric input coerces to its canonical string form.
		str = strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		str = strconv.Itoa(val)
	case int64:
		str = strconv.FormatInt(val, 10)
	case bool:
		str = strconv.FormatBool(val)
	default:
		res.errorf(path, "expected string, got %s", typeName(data))
		return data
	}

	if s.MinLength != nil && len(str) < *s.MinLength {
		res.errorf(path, "string is shorter than minLength %d", *s.MinLength)
	}
	if s.MaxLength != nil && len(str) > *s.MaxLength {
		res.errorf(path, "string is longer than maxLength %d", *s.MaxLength)
	}
	if s.Pattern != "" {
		re, err := v.compilePattern(s.Pattern)
		if err != nil {
			res.errorf(path, "schema pattern does not compile: %v", err)
		} else if !re.MatchString(str) {
			res.errorf(path, "string does not match pattern %q", s.Pattern)
		}
	}
	return str
}

func (v *Validator) validateNumber(path string, data any, s *Schema, res *Result, integer bool) any {
	var num float64
	switch val := data.(type) {
	case float64:
		num = val
	case int:
		num = float64(val)
	case int64:
		num = float64(val)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			res.errorf(path, "expected number, got unparseable string %q", val)
			return data
		}
		num = parsed
	default:
		res.errorf(path, "expected number, got %s", typeName(data))
		return data
	}

	if integer && num != math.Trunc(num) {
		res.errorf(path, "expected integer, got %v", num)
		return data
	}
	if s.Minimum != nil && num < *s.Minimum {
		res.errorf(path, "value %v is below minimum %v", num, *s.Minimum)
	}
	if s.Maximum != nil && num > *s.Maximum {
		res.errorf(path, "value %v is above maximum %v", num, *s.Maximum)
	}
	return num
}

func (v *Validator) validateBoolean(path string, data any, res *Result) any {
	switch val := data.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(val) {
		case "true":
			return true
		case "false":
			return false
		}
	case float64:
		if val == 0 {
			return false
		}
		if val == 1 {
			return true
		}
	}
	res.errorf(path, "expected boolean, got %s", typeName(data))
	return data
}

func (v *Validator) validateArray(path string, data any, s *Schema, res *Result) any {
	items, ok := data.([]any)
	if !ok {
		// A scalar where an array is declared coerces to a single-element
		// array so tools with list inputs accept bare values.
		items = []any{data}
		res.warnf(path, "scalar coerced to single-element array")
	}
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = v.validateValue(fmt.Sprintf("%s[%d]", path, i), item, s.Items, res)
	}
	return out
}

func (v *Validator) compilePattern(pattern string) (*regexp.Regexp, error) {
	v.mu.RLock()
	re, ok := v.patterns[pattern]
	v.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.patterns[pattern] = re
	v.mu.Unlock()
	return re, nil
}

// enumContains compares with numeric normalization: 2 and 2.0 are the
// same enum member regardless of how the literal decoded.
func enumContains(enum []any, value any) bool {
	for _, candidate := range enum {
		if reflect.DeepEqual(candidate, value) {
			return true
		}
		cn, cOK := toFloat(candidate)
		vn, vOK := toFloat(value)
		if cOK && vOK && cn == vn {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case bool:
		return "boolean"
	default:
		return reflect.TypeOf(v).String()
	}
}
