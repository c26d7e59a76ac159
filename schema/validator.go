package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Violation describes a single schema failure at a field path.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Reason)
}

// ViolationError carries every violation found in one validation pass.
// Results failing validation are never silently coerced.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "schema violations: " + strings.Join(parts, "; ")
}

// Validator checks JSON documents against a compiled schema.
// It is stateless after Compile and safe for concurrent use.
type Validator struct {
	schema *Schema
}

// Validate checks raw JSON against the schema. The document must be an
// object. On failure it returns a *ViolationError listing every offending
// field.
func (v *Validator) Validate(raw json.RawMessage) error {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ViolationError{Violations: []Violation{
			{Field: "$", Reason: fmt.Sprintf("not a JSON object: %v", err)},
		}}
	}
	return v.ValidateObject(doc)
}

// ValidateObject checks a decoded object against the schema.
func (v *Validator) ValidateObject(doc map[string]any) error {
	var violations []Violation
	validateFields(v.schema.Fields, doc, "", &violations)
	if len(violations) > 0 {
		return &ViolationError{Violations: violations}
	}
	return nil
}

func validateFields(fields []Field, doc map[string]any, path string, out *[]Violation) {
	for _, f := range fields {
		p := joinPath(path, f.Name)
		val, present := doc[f.Name]
		if !present {
			if f.Required {
				*out = append(*out, Violation{Field: p, Reason: "required field missing"})
			}
			continue
		}
		validateValue(f, val, p, out)
	}
}

func validateValue(f Field, val any, path string, out *[]Violation) {
	switch f.Kind {
	case KindAny:
		return

	case KindString:
		s, ok := val.(string)
		if !ok {
			*out = append(*out, Violation{Field: path, Reason: fmt.Sprintf("expected string, got %s", typeName(val))})
			return
		}
		if len(f.Enum) > 0 && !enumContains(f.Enum, s) {
			*out = append(*out, Violation{Field: path,
				Reason: fmt.Sprintf("value %q not in enum [%s]", s, strings.Join(f.Enum, ", "))})
		}

	case KindNumber:
		// encoding/json decodes all numbers as float64.
		if _, ok := val.(float64); !ok {
			*out = append(*out, Violation{Field: path, Reason: fmt.Sprintf("expected number, got %s", typeName(val))})
		}

	case KindBool:
		if _, ok := val.(bool); !ok {
			*out = append(*out, Violation{Field: path, Reason: fmt.Sprintf("expected bool, got %s", typeName(val))})
		}

	case KindObject:
		obj, ok := val.(map[string]any)
		if !ok {
			*out = append(*out, Violation{Field: path, Reason: fmt.Sprintf("expected object, got %s", typeName(val))})
			return
		}
		validateFields(f.Fields, obj, path, out)

	case KindArray:
		arr, ok := val.([]any)
		if !ok {
			*out = append(*out, Violation{Field: path, Reason: fmt.Sprintf("expected array, got %s", typeName(val))})
			return
		}
		if f.Items != nil {
			for i, item := range arr {
				validateValue(*f.Items, item, fmt.Sprintf("%s[%d]", path, i), out)
			}
		}
	}
}

func enumContains(enum []string, v string) bool {
	for _, e := range enum {
		if e == v {
			return true
		}
	}
	return false
}

func typeName(val any) string {
	switch val.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", val)
	}
}
