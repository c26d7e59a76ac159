package config

import (
	"fmt"
	"strings"

	"github.com/VladislavFirsov/longrun/contracts"
)

// ValidatePipeline checks a pipeline definition for structural errors
// before anything is registered or executed.
func ValidatePipeline(p *Pipeline) error {
	if p == nil {
		return fmt.Errorf("%w: nil pipeline", ErrInvalidPipeline)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: pipeline has no name", ErrInvalidPipeline)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: pipeline %q has no steps", ErrInvalidPipeline, p.Name)
	}

	// 1. Task declarations
	declared := make(map[string]struct{}, len(p.Tasks))
	for _, task := range p.Tasks {
		if task.Name == "" {
			return fmt.Errorf("%w: task declaration with empty name", ErrInvalidPipeline)
		}
		if _, dup := declared[task.Name]; dup {
			return fmt.Errorf("%w: duplicate task declaration %q", ErrInvalidPipeline, task.Name)
		}
		declared[task.Name] = struct{}{}

		if task.Output != nil {
			if _, err := task.Output.ToSchema(); err != nil {
				return fmt.Errorf("task %q: %w", task.Name, err)
			}
		}
	}

	// 2. Steps: unique ids, exactly one action, references to prior steps
	prior := make(map[string]struct{}, len(p.Steps))
	for i, step := range p.Steps {
		if step.ID == "" {
			return fmt.Errorf("%w: step %d has no id", ErrInvalidPipeline, i)
		}
		if _, dup := prior[step.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidPipeline, step.ID)
		}

		if err := validateStepShape(step); err != nil {
			return err
		}
		if err := validateStepRefs(step, prior); err != nil {
			return err
		}

		prior[step.ID] = struct{}{}
	}
	return nil
}

func validateStepShape(step Step) error {
	actions := 0
	if step.Task != "" {
		actions++
	}
	if step.Gate != nil {
		actions++
	}
	if len(step.Parallel) > 0 {
		actions++
	}
	if actions != 1 {
		return fmt.Errorf("%w: step %q must set exactly one of task, gate or parallel", ErrInvalidPipeline, step.ID)
	}

	if step.Gate != nil {
		g := step.Gate
		if g.When.Field == "" {
			return fmt.Errorf("%w: gate %q has no predicate field", ErrInvalidPipeline, step.ID)
		}
		switch g.When.Op {
		case contracts.OpEquals, contracts.OpNotEquals, contracts.OpExists, contracts.OpIn:
		default:
			return fmt.Errorf("%w: gate %q has unknown op %q", ErrInvalidPipeline, step.ID, g.When.Op)
		}
		if g.When.Op == contracts.OpIn && len(g.When.Values) == 0 {
			return fmt.Errorf("%w: gate %q uses op in with no values", ErrInvalidPipeline, step.ID)
		}
		if g.Breakpoint.Question == "" {
			return fmt.Errorf("%w: gate %q has no breakpoint question", ErrInvalidPipeline, step.ID)
		}
		switch g.OnReject {
		case "", string(contracts.GateRejectFail), string(contracts.GateRejectContinue):
		default:
			return fmt.Errorf("%w: gate %q has unknown on_reject %q", ErrInvalidPipeline, step.ID, g.OnReject)
		}
	}

	for _, call := range step.Parallel {
		if call.Task == "" {
			return fmt.Errorf("%w: step %q has a parallel branch with no task", ErrInvalidPipeline, step.ID)
		}
	}
	return nil
}

// validateStepRefs checks that $ references in args and gate predicates
// point at inputs or steps that run earlier.
func validateStepRefs(step Step, prior map[string]struct{}) error {
	check := func(args map[string]any) error {
		for key, val := range args {
			ref, ok := val.(string)
			if !ok || !strings.HasPrefix(ref, "$") {
				continue
			}
			target := strings.SplitN(strings.TrimPrefix(ref, "$"), ".", 2)[0]
			if target == "inputs" {
				continue
			}
			if _, known := prior[target]; !known {
				return fmt.Errorf("%w: step %q arg %q references %q which is not a prior step", ErrInvalidPipeline, step.ID, key, target)
			}
		}
		return nil
	}

	if err := check(step.Args); err != nil {
		return err
	}
	for _, call := range step.Parallel {
		if err := check(call.Args); err != nil {
			return err
		}
	}

	if step.Gate != nil {
		target := strings.SplitN(step.Gate.When.Field, ".", 2)[0]
		if target != "inputs" {
			if _, known := prior[target]; !known {
				return fmt.Errorf("%w: gate %q predicate references %q which is not a prior step", ErrInvalidPipeline, step.ID, target)
			}
		}
	}
	return nil
}
