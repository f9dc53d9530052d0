// Package macros provides named, reusable operations over a voltage
// sequence: single step/ramp transitions to a registered point, ordered
// compositions, and conditional branches on a boolean measurement. Macros are
// pure composition and dispatch; they hold no voltage state of their own.
package macros

import (
	"fmt"
	"sort"

	"github.com/timzifer/voltseq/sequence"
	"github.com/timzifer/voltseq/value"
)

// Context carries the collaborators a macro may act on during Apply.
type Context struct {
	Sequence *sequence.Sequence
	Registry *Registry
}

// Overrides are the optional per-invocation parameter overrides.
type Overrides struct {
	HoldDuration    *value.Value
	RampDuration    *value.Value
	InvertCondition *bool
}

// Macro is the capability interface implemented by every macro variant.
type Macro interface {
	Apply(ctx *Context, overrides Overrides) (interface{}, error)
}

// Registry stores macros addressable by name and dispatches invocations
// against one sequence.
type Registry struct {
	seq    *sequence.Sequence
	macros map[string]Macro
}

// NewRegistry creates an empty registry bound to the given sequence.
func NewRegistry(seq *sequence.Sequence) *Registry {
	return &Registry{seq: seq, macros: make(map[string]Macro)}
}

// Register adds a macro under a unique name.
func (r *Registry) Register(name string, macro Macro) error {
	if name == "" {
		return fmt.Errorf("macro name must not be empty")
	}
	if macro == nil {
		return fmt.Errorf("macro %q must not be nil", name)
	}
	if _, exists := r.macros[name]; exists {
		return fmt.Errorf("macro %q already registered", name)
	}
	r.macros[name] = macro
	return nil
}

// Names returns the registered macro names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.macros))
	for name := range r.macros {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke dispatches a registered macro by name.
func (r *Registry) Invoke(name string, overrides Overrides) (interface{}, error) {
	macro, ok := r.macros[name]
	if !ok {
		return nil, fmt.Errorf("macro %q not registered", name)
	}
	return macro.Apply(&Context{Sequence: r.seq, Registry: r}, overrides)
}

// StepPointMacro steps to a registered voltage point.
type StepPointMacro struct {
	Point        string
	HoldDuration *int64
}

func (m *StepPointMacro) Apply(ctx *Context, overrides Overrides) (interface{}, error) {
	duration := overrides.HoldDuration
	if duration == nil && m.HoldDuration != nil {
		d := value.Concrete(float64(*m.HoldDuration))
		duration = &d
	}
	return nil, ctx.Sequence.StepToPoint(m.Point, duration)
}

// RampPointMacro ramps to a registered voltage point.
type RampPointMacro struct {
	Point        string
	RampDuration int64
	HoldDuration *int64
}

func (m *RampPointMacro) Apply(ctx *Context, overrides Overrides) (interface{}, error) {
	ramp := value.Concrete(float64(m.RampDuration))
	if overrides.RampDuration != nil {
		ramp = *overrides.RampDuration
	}
	duration := overrides.HoldDuration
	if duration == nil && m.HoldDuration != nil {
		d := value.Concrete(float64(*m.HoldDuration))
		duration = &d
	}
	return nil, ctx.Sequence.RampToPoint(m.Point, ramp, duration)
}

// SequenceMacro invokes an ordered list of macros by name. When ReturnIndex
// is set, the result of that member is returned.
type SequenceMacro struct {
	Refs        []string
	ReturnIndex *int
}

func (m *SequenceMacro) Apply(ctx *Context, _ Overrides) (interface{}, error) {
	if m.ReturnIndex != nil && (*m.ReturnIndex < 0 || *m.ReturnIndex >= len(m.Refs)) {
		return nil, fmt.Errorf("sequence macro return index %d out of range [0,%d)", *m.ReturnIndex, len(m.Refs))
	}
	var designated interface{}
	for i, ref := range m.Refs {
		result, err := ctx.Registry.Invoke(ref, Overrides{})
		if err != nil {
			return nil, fmt.Errorf("sequence member %d (%s): %w", i, ref, err)
		}
		if m.ReturnIndex != nil && i == *m.ReturnIndex {
			designated = result
		}
	}
	return designated, nil
}

// ConditionalMacro always executes the measurement macro, then applies the
// conditional macro depending on the boolean outcome (optionally inverted).
// It returns the measured boolean.
type ConditionalMacro struct {
	Measurement     string
	Conditional     string
	InvertCondition bool
}

func (m *ConditionalMacro) Apply(ctx *Context, overrides Overrides) (interface{}, error) {
	result, err := ctx.Registry.Invoke(m.Measurement, Overrides{})
	if err != nil {
		return nil, fmt.Errorf("measurement %s: %w", m.Measurement, err)
	}
	state, ok := result.(bool)
	if !ok {
		return nil, fmt.Errorf("measurement %s yielded %T, expected bool", m.Measurement, result)
	}

	invert := m.InvertCondition
	if overrides.InvertCondition != nil {
		invert = *overrides.InvertCondition
	}
	if state != invert {
		if _, err := ctx.Registry.Invoke(m.Conditional, Overrides{}); err != nil {
			return nil, fmt.Errorf("conditional %s: %w", m.Conditional, err)
		}
	}
	return state, nil
}

// MeasureFunc adapts a measurement callback into a macro. The readout
// hardware itself lives outside this module; callers register whatever
// produces the boolean.
type MeasureFunc func(ctx *Context) (bool, error)

func (f MeasureFunc) Apply(ctx *Context, _ Overrides) (interface{}, error) {
	return f(ctx)
}
