package engine

import (
	"fmt"
	"strings"

	"github.com/VladislavFirsov/longrun/config"
	"github.com/VladislavFirsov/longrun/contracts"
)

// RegisterPipelineTasks registers every task declared by a pipeline file.
// Declared tasks are always agent tasks; deterministic tasks come from code.
func RegisterPipelineTasks(p *config.Pipeline, reg contracts.Registry) error {
	for _, decl := range p.Tasks {
		outputSchema, err := decl.Output.ToSchema()
		if err != nil {
			return fmt.Errorf("task %q: %w", decl.Name, err)
		}

		def := contracts.TaskDefinition{
			Name:         contracts.TaskName(decl.Name),
			Kind:         contracts.TaskKindAgent,
			OutputSchema: outputSchema,
			Build: func(args map[string]any, tc *contracts.TaskContext) (*contracts.TaskSpec, error) {
				return &contracts.TaskSpec{
					Title: decl.Name,
					Kind:  contracts.TaskKindAgent,
					Args:  args,
					Worker: &contracts.WorkerRequest{
						Role:         decl.Role,
						Task:         decl.Description,
						Context:      args,
						Instructions: decl.Instructions,
						OutputFormat: decl.OutputFormat,
					},
				}, nil
			},
		}
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
	}
	return nil
}

// CompilePipeline turns a validated pipeline definition into an executable
// process. The body walks the steps in order, exposing each step's output
// under its step id; argument references resolve against those outputs and
// the run inputs.
func CompilePipeline(p *config.Pipeline) contracts.ProcessDefinition {
	steps := p.Steps

	return contracts.ProcessDefinition{
		Name:    contracts.ProcessName(p.Name),
		Version: p.Version,
		Body: func(pc contracts.ProcessContext, inputs map[string]any) (map[string]any, error) {
			outputs := map[string]any{"inputs": inputs}

			for _, step := range steps {
				switch {
				case step.Task != "":
					args, err := resolveArgs(step.Args, outputs)
					if err != nil {
						return nil, fmt.Errorf("step %q: %w", step.ID, err)
					}
					out, err := pc.Task(contracts.TaskName(step.Task), args)
					if err != nil {
						return nil, fmt.Errorf("step %q: %w", step.ID, err)
					}
					outputs[step.ID] = out

				case step.Gate != nil:
					res, err := pc.Gate(toGate(step), outputs)
					if err != nil {
						return nil, fmt.Errorf("step %q: %w", step.ID, err)
					}
					if res != nil {
						outputs[step.ID] = map[string]any{
							"approved":    res.Approved,
							"answer":      res.Answer,
							"resolved_by": res.ResolvedBy,
						}
					}

				case len(step.Parallel) > 0:
					calls := make([]contracts.TaskCall, len(step.Parallel))
					for i, c := range step.Parallel {
						args, err := resolveArgs(c.Args, outputs)
						if err != nil {
							return nil, fmt.Errorf("step %q branch %q: %w", step.ID, c.Task, err)
						}
						calls[i] = contracts.TaskCall{Name: contracts.TaskName(c.Task), Args: args}
					}
					results, err := pc.Parallel(calls)
					if err != nil {
						return nil, fmt.Errorf("step %q: %w", step.ID, err)
					}
					branches := make([]any, len(results))
					for i, r := range results {
						branches[i] = r
					}
					outputs[step.ID] = map[string]any{"branches": branches}
				}
			}

			delete(outputs, "inputs")
			return outputs, nil
		},
	}
}

func toGate(step config.Step) contracts.Gate {
	g := contracts.Gate{
		Name: step.ID,
		When: step.Gate.When,
		Breakpoint: contracts.BreakpointRequest{
			Title:    step.Gate.Breakpoint.Title,
			Question: step.Gate.Breakpoint.Question,
			Context:  step.Gate.Breakpoint.Context,
		},
		OnReject: contracts.GateRejectPolicy(step.Gate.OnReject),
	}
	if g.OnReject == "" {
		g.OnReject = contracts.GateRejectFail
	}
	if g.Breakpoint.Title == "" {
		g.Breakpoint.Title = step.ID
	}
	return g
}

// resolveArgs substitutes "$step.path" and "$inputs.path" references with
// values from prior outputs. Non-reference values pass through untouched.
func resolveArgs(args map[string]any, outputs map[string]any) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	resolved := make(map[string]any, len(args))
	for key, val := range args {
		ref, ok := val.(string)
		if !ok || !strings.HasPrefix(ref, "$") {
			resolved[key] = val
			continue
		}
		target, found := lookupPath(outputs, strings.TrimPrefix(ref, "$"))
		if !found {
			return nil, fmt.Errorf("arg %q references unknown value %q", key, ref)
		}
		resolved[key] = target
	}
	return resolved, nil
}
