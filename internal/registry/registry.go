// Package registry maps task names to builders and compiles declared output
// schemas once at registration time.
package registry

import (
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/VladislavFirsov/longrun/contracts"
	"github.com/VladislavFirsov/longrun/schema"
)

// entry is a registered definition plus its pre-compiled validator.
type entry struct {
	def       contracts.TaskDefinition
	validator *schema.Validator // nil when the definition declares no schema
}

// Registry implements contracts.Registry as an in-memory lookup table.
// It is an explicit object: hosts that hot-reload definitions construct a
// fresh registry per load instead of mutating a shared one.
//
// Thread-safety: safe for concurrent Resolve during registration, though
// registration is expected to happen at startup.
type Registry struct {
	mu      sync.RWMutex
	entries map[contracts.TaskName]*entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[contracts.TaskName]*entry),
	}
}

// Register adds a task definition.
// Returns ErrDuplicateTaskName if the name is taken in this namespace,
// ErrInvalidInput for an unusable definition and ErrSchemaBuild if a declared
// output schema fails to compile.
func (r *Registry) Register(def contracts.TaskDefinition) error {
	if def.Name == "" || def.Build == nil {
		return fmt.Errorf("definition needs a name and a builder: %w", contracts.ErrInvalidInput)
	}
	switch def.Kind {
	case contracts.TaskKindAgent, contracts.TaskKindDeterministic:
	default:
		return fmt.Errorf("definition %s has unknown kind %q: %w", def.Name, def.Kind, contracts.ErrInvalidInput)
	}

	// Compile the declared schema before taking the lock; a malformed
	// declaration must never occupy the name.
	var validator *schema.Validator
	if def.OutputSchema != nil {
		v, err := schema.Compile(def.OutputSchema)
		if err != nil {
			return fmt.Errorf("definition %s: %v: %w", def.Name, err, contracts.ErrSchemaBuild)
		}
		validator = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[def.Name]; exists {
		return fmt.Errorf("definition %s: %w", def.Name, contracts.ErrDuplicateTaskName)
	}
	r.entries[def.Name] = &entry{def: def, validator: validator}
	return nil
}

// MustRegister is Register, panicking on error. Intended for process-load
// time registration where a definition error is fatal anyway.
func (r *Registry) MustRegister(def contracts.TaskDefinition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Resolve builds the TaskSpec for one invocation.
// The spec inherits the definition's pre-compiled validator unless the
// builder attached its own.
func (r *Registry) Resolve(name contracts.TaskName, args map[string]any, tc *contracts.TaskContext) (*contracts.TaskSpec, error) {
	r.mu.RLock()
	e, exists := r.entries[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("task %s: %w", name, contracts.ErrUnknownTask)
	}
	if tc == nil {
		tc = &contracts.TaskContext{}
	}
	if tc.IO == (contracts.IORefs{}) {
		tc.IO = EffectIORefs(tc.RunID, tc.EffectID)
	}

	spec, err := buildSpec(e, args, tc)
	if err != nil {
		return nil, fmt.Errorf("task %s: %v: %w", name, err, contracts.ErrSchemaBuild)
	}
	return spec, nil
}

// buildSpec invokes the builder, recovering from panics so a broken builder
// is reported as a definition error rather than taking down the host.
func buildSpec(e *entry, args map[string]any, tc *contracts.TaskContext) (spec *contracts.TaskSpec, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			spec = nil
			err = fmt.Errorf("builder panicked: %v", rec)
		}
	}()

	spec, err = e.def.Build(args, tc)
	if err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, fmt.Errorf("builder returned nil spec")
	}

	if spec.Kind == "" {
		spec.Kind = e.def.Kind
	}
	if spec.Args == nil {
		spec.Args = args
	}
	if spec.Output == nil {
		spec.Output = e.validator
	}
	if spec.IO == (contracts.IORefs{}) {
		spec.IO = tc.IO
	}

	switch spec.Kind {
	case contracts.TaskKindAgent:
		if spec.Worker == nil {
			return nil, fmt.Errorf("agent spec has no worker request")
		}
	case contracts.TaskKindDeterministic:
		if spec.Fn == nil {
			return nil, fmt.Errorf("deterministic spec has no function reference")
		}
	}
	return spec, nil
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []contracts.TaskName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]contracts.TaskName, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// EffectIORefs returns the stable, effect-scoped input/output locations for
// a task invocation. Paths are relative to the run's data directory.
func EffectIORefs(runID contracts.RunID, id contracts.EffectID) contracts.IORefs {
	base := path.Base(string(id))
	return contracts.IORefs{
		Input:  path.Join("io", base+".request.json"),
		Output: path.Join("io", base+".result.json"),
	}
}
