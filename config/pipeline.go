package config

import (
	"fmt"

	"github.com/VladislavFirsov/longrun/contracts"
	"github.com/VladislavFirsov/longrun/schema"
)

// Pipeline is a declarative process definition loaded from YAML. Tasks
// declare the agent work the pipeline needs; steps order the invocations
// and place the gates.
type Pipeline struct {
	Name    string     `yaml:"name"`
	Version int        `yaml:"version"`
	Tasks   []TaskDecl `yaml:"tasks"`
	Steps   []Step     `yaml:"steps"`
}

// TaskDecl declares one agent task: the worker role, the instructions and
// the expected output shape. Deterministic tasks are registered from code,
// not declared in YAML.
type TaskDecl struct {
	Name         string      `yaml:"name"`
	Role         string      `yaml:"role"`
	Description  string      `yaml:"description"`
	Instructions []string    `yaml:"instructions"`
	OutputFormat string      `yaml:"output_format"`
	Output       *SchemaDecl `yaml:"output"`
}

// SchemaDecl is the YAML form of an output schema.
type SchemaDecl struct {
	Fields []FieldDecl `yaml:"fields"`
}

// FieldDecl is the YAML form of one schema field.
type FieldDecl struct {
	Name     string      `yaml:"name"`
	Kind     string      `yaml:"kind"`
	Required bool        `yaml:"required"`
	Enum     []string    `yaml:"enum"`
	Fields   []FieldDecl `yaml:"fields"`
	Items    *FieldDecl  `yaml:"items"`
}

// Step is one entry in the pipeline body. Exactly one of Task, Gate or
// Parallel is set.
type Step struct {
	ID       string         `yaml:"id"`
	Task     string         `yaml:"task"`
	Args     map[string]any `yaml:"args"`
	Gate     *GateDecl      `yaml:"gate"`
	Parallel []Call         `yaml:"parallel"`
}

// GateDecl is the YAML form of a quality gate.
type GateDecl struct {
	When       contracts.Predicate `yaml:"when"`
	Breakpoint BreakpointDecl      `yaml:"breakpoint"`
	OnReject   string              `yaml:"on_reject"`
}

// BreakpointDecl is the YAML form of a breakpoint request.
type BreakpointDecl struct {
	Title    string         `yaml:"title"`
	Question string         `yaml:"question"`
	Context  map[string]any `yaml:"context"`
}

// Call is one branch of a parallel step.
type Call struct {
	Task string         `yaml:"task"`
	Args map[string]any `yaml:"args"`
}

// ToSchema converts the declaration into the compiled-schema input form.
func (d *SchemaDecl) ToSchema() (*schema.Schema, error) {
	if d == nil {
		return nil, nil
	}
	fields, err := toSchemaFields(d.Fields)
	if err != nil {
		return nil, err
	}
	return &schema.Schema{Fields: fields}, nil
}

func toSchemaFields(decls []FieldDecl) ([]schema.Field, error) {
	fields := make([]schema.Field, 0, len(decls))
	for _, d := range decls {
		f, err := toSchemaField(d)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func toSchemaField(d FieldDecl) (schema.Field, error) {
	f := schema.Field{
		Name:     d.Name,
		Kind:     schema.Kind(d.Kind),
		Required: d.Required,
		Enum:     d.Enum,
	}
	if len(d.Fields) > 0 {
		nested, err := toSchemaFields(d.Fields)
		if err != nil {
			return schema.Field{}, err
		}
		f.Fields = nested
	}
	if d.Items != nil {
		item, err := toSchemaField(*d.Items)
		if err != nil {
			return schema.Field{}, err
		}
		f.Items = &item
	}
	if f.Name == "" {
		return schema.Field{}, fmt.Errorf("schema field with empty name: %w", ErrInvalidPipeline)
	}
	return f, nil
}
