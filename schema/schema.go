// Package schema provides a typed representation of task output contracts
// and a validator compiled once from that representation. Schemas are a
// tagged union of constraint kinds (required/type/enum/nested-object) rather
// than loosely-typed JSON blobs re-interpreted per call.
package schema

import (
	"errors"
	"fmt"
)

// Kind is the type constraint of a field.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindObject Kind = "object"
	KindArray  Kind = "array"
	KindAny    Kind = "any"
)

// Field declares the constraints for one named field of an object.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	// Enum restricts string fields to a fixed set of values.
	Enum []string
	// Fields declares the nested object schema when Kind is KindObject.
	Fields []Field
	// Items declares the element constraint when Kind is KindArray.
	Items *Field
}

// Schema declares the structural contract of a task's output object.
type Schema struct {
	Fields []Field
}

// Compile checks a schema declaration and returns a Validator.
// A malformed declaration (empty field name, enum on a non-string field,
// object kind with no nested fields) is a definition error.
func Compile(s *Schema) (*Validator, error) {
	if s == nil {
		return nil, errors.New("nil schema")
	}
	if err := checkFields(s.Fields, ""); err != nil {
		return nil, err
	}
	return &Validator{schema: s}, nil
}

// MustCompile is Compile, panicking on a malformed declaration. Intended for
// statically declared schemas in process code.
func MustCompile(s *Schema) *Validator {
	v, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return v
}

func checkFields(fields []Field, path string) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return fmt.Errorf("field at %q has empty name", path)
		}
		p := joinPath(path, f.Name)
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", p)
		}
		seen[f.Name] = true

		switch f.Kind {
		case KindString, KindNumber, KindBool, KindObject, KindArray, KindAny:
		case "":
			return fmt.Errorf("field %q has no kind", p)
		default:
			return fmt.Errorf("field %q has unknown kind %q", p, f.Kind)
		}

		if len(f.Enum) > 0 && f.Kind != KindString {
			return fmt.Errorf("field %q: enum constraint requires string kind, got %q", p, f.Kind)
		}
		if f.Kind == KindObject {
			if len(f.Fields) == 0 {
				return fmt.Errorf("field %q: object kind requires nested fields", p)
			}
			if err := checkFields(f.Fields, p); err != nil {
				return err
			}
		}
		if f.Kind == KindArray && f.Items != nil {
			item := *f.Items
			if item.Name == "" {
				item.Name = "[]"
			}
			if err := checkFields([]Field{item}, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
