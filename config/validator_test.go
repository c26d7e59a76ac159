package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavFirsov/longrun/contracts"
)

func predicateEq(field, value string) contracts.Predicate {
	return contracts.Predicate{Field: field, Op: contracts.OpEquals, Value: value}
}

func predicateOp(field, op string) contracts.Predicate {
	return contracts.Predicate{Field: field, Op: contracts.PredicateOp(op)}
}

func basePipeline() *Pipeline {
	return &Pipeline{
		Name: "p",
		Steps: []Step{
			{ID: "first", Task: "analyze", Args: map[string]any{"doc": "$inputs.doc"}},
			{ID: "second", Task: "archive", Args: map[string]any{"summary": "$first.summary"}},
		},
	}
}

func TestValidatePipeline_Valid(t *testing.T) {
	require.NoError(t, ValidatePipeline(basePipeline()))
}

func TestValidatePipeline_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Pipeline)
	}{
		{
			name:   "no name",
			mutate: func(p *Pipeline) { p.Name = "" },
		},
		{
			name:   "no steps",
			mutate: func(p *Pipeline) { p.Steps = nil },
		},
		{
			name:   "step without id",
			mutate: func(p *Pipeline) { p.Steps[0].ID = "" },
		},
		{
			name:   "duplicate step id",
			mutate: func(p *Pipeline) { p.Steps[1].ID = "first" },
		},
		{
			name:   "step with no action",
			mutate: func(p *Pipeline) { p.Steps[0].Task = "" },
		},
		{
			name: "step with two actions",
			mutate: func(p *Pipeline) {
				p.Steps[0].Gate = &GateDecl{
					When:       predicateEq("first.status", "x"),
					Breakpoint: BreakpointDecl{Question: "?"},
				}
			},
		},
		{
			name: "forward reference in args",
			mutate: func(p *Pipeline) {
				p.Steps[0].Args["bad"] = "$second.summary"
			},
		},
		{
			name: "gate referencing later step",
			mutate: func(p *Pipeline) {
				p.Steps[0] = Step{ID: "early-gate", Gate: &GateDecl{
					When:       predicateEq("second.status", "x"),
					Breakpoint: BreakpointDecl{Question: "?"},
				}}
			},
		},
		{
			name: "gate without question",
			mutate: func(p *Pipeline) {
				p.Steps[0] = Step{ID: "g", Gate: &GateDecl{When: predicateEq("inputs.x", "y")}}
			},
		},
		{
			name: "gate with unknown op",
			mutate: func(p *Pipeline) {
				p.Steps[0] = Step{ID: "g", Gate: &GateDecl{
					When:       predicateOp("inputs.x", "matches"),
					Breakpoint: BreakpointDecl{Question: "?"},
				}}
			},
		},
		{
			name: "gate with unknown on_reject",
			mutate: func(p *Pipeline) {
				p.Steps[0] = Step{ID: "g", Gate: &GateDecl{
					When:       predicateEq("inputs.x", "y"),
					Breakpoint: BreakpointDecl{Question: "?"},
					OnReject:   "retry",
				}}
			},
		},
		{
			name: "duplicate task declaration",
			mutate: func(p *Pipeline) {
				p.Tasks = []TaskDecl{{Name: "a"}, {Name: "a"}}
			},
		},
		{
			name: "parallel branch without task",
			mutate: func(p *Pipeline) {
				p.Steps[0] = Step{ID: "fan", Parallel: []Call{{Task: ""}}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := basePipeline()
			tt.mutate(p)
			assert.ErrorIs(t, ValidatePipeline(p), ErrInvalidPipeline)
		})
	}
}
