// Package value provides the scalar type shared by the virtualization and
// sequencing layers. A Value is either a concrete number known at
// configuration time or a deferred expression resolved at hardware-execution
// time against runtime bindings.
package value

import (
	"fmt"
	"math"
	"strconv"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Bindings supplies runtime values for the variables referenced by deferred
// expressions.
type Bindings map[string]interface{}

// Deferred is a compiled expression whose numeric content is only known at
// resolve time.
type Deferred struct {
	expression string
	program    *vm.Program
}

// NewDeferred compiles an expression into a deferred handle. Variables may be
// left undefined until Resolve is called.
func NewDeferred(expression string) (*Deferred, error) {
	program, err := expr.Compile(expression, expr.Env(map[string]interface{}{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile deferred expression %q: %w", expression, err)
	}
	return &Deferred{expression: expression, program: program}, nil
}

// Expression returns the textual form of the deferred computation.
func (d *Deferred) Expression() string { return d.expression }

// Resolve evaluates the expression against the provided bindings.
func (d *Deferred) Resolve(bindings Bindings) (float64, error) {
	env := map[string]interface{}{}
	for k, v := range bindings {
		env[k] = v
	}
	out, err := expr.Run(d.program, env)
	if err != nil {
		return 0, fmt.Errorf("resolve %q: %w", d.expression, err)
	}
	num, ok := asNumber(out)
	if !ok {
		return 0, fmt.Errorf("resolve %q: expression yielded %T, expected number", d.expression, out)
	}
	return num, nil
}

func asNumber(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case uint32:
		return float64(v), true
	default:
		return 0, false
	}
}

// Value is the tagged union used for voltages, durations and accumulators.
// The zero Value is the concrete number 0.
type Value struct {
	num      float64
	deferred *Deferred
}

// Concrete wraps a number known at configuration time.
func Concrete(v float64) Value { return Value{num: v} }

// FromDeferred wraps an existing deferred handle.
func FromDeferred(d *Deferred) Value { return Value{deferred: d} }

// Var builds a deferred reference to a single runtime variable.
func Var(name string) Value {
	d, err := NewDeferred(name)
	if err != nil {
		panic(fmt.Sprintf("value: variable %q: %v", name, err))
	}
	return Value{deferred: d}
}

// IsDeferred reports whether the value is resolved only at runtime.
func (v Value) IsDeferred() bool { return v.deferred != nil }

// Float returns the concrete number. The boolean is false for deferred values.
func (v Value) Float() (float64, bool) {
	if v.deferred != nil {
		return 0, false
	}
	return v.num, true
}

// Deferred returns the underlying handle, or nil for concrete values.
func (v Value) Deferred() *Deferred { return v.deferred }

// Resolve returns the numeric content, evaluating deferred expressions
// against the bindings.
func (v Value) Resolve(bindings Bindings) (float64, error) {
	if v.deferred == nil {
		return v.num, nil
	}
	return v.deferred.Resolve(bindings)
}

// Expr returns the textual form of the value.
func (v Value) Expr() string {
	if v.deferred != nil {
		return v.deferred.expression
	}
	return formatNumber(v.num)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// compose builds a deferred value from an expression generated by the
// arithmetic helpers below. Such expressions are syntactically valid by
// construction, so a compile failure is a programming error.
func compose(expression string) Value {
	d, err := NewDeferred(expression)
	if err != nil {
		panic(fmt.Sprintf("value: composed expression %q: %v", expression, err))
	}
	return Value{deferred: d}
}

// Add returns a+b, staying concrete when both operands are.
func Add(a, b Value) Value {
	if !a.IsDeferred() && !b.IsDeferred() {
		return Concrete(a.num + b.num)
	}
	return compose(fmt.Sprintf("(%s) + (%s)", a.Expr(), b.Expr()))
}

// Sub returns a-b.
func Sub(a, b Value) Value {
	if !a.IsDeferred() && !b.IsDeferred() {
		return Concrete(a.num - b.num)
	}
	return compose(fmt.Sprintf("(%s) - (%s)", a.Expr(), b.Expr()))
}

// Mul returns a*b.
func Mul(a, b Value) Value {
	if !a.IsDeferred() && !b.IsDeferred() {
		return Concrete(a.num * b.num)
	}
	return compose(fmt.Sprintf("(%s) * (%s)", a.Expr(), b.Expr()))
}

// Div returns a/b. Division by a concrete zero panics, matching float
// semantics being unwanted for durations.
func Div(a, b Value) Value {
	if !a.IsDeferred() && !b.IsDeferred() {
		return Concrete(a.num / b.num)
	}
	return compose(fmt.Sprintf("(%s) / (%s)", a.Expr(), b.Expr()))
}

// Scale returns v*k for a concrete factor k.
func Scale(v Value, k float64) Value {
	if !v.IsDeferred() {
		return Concrete(v.num * k)
	}
	return compose(fmt.Sprintf("(%s) * (%s)", v.Expr(), formatNumber(k)))
}

// Neg returns -v.
func Neg(v Value) Value {
	if !v.IsDeferred() {
		return Concrete(-v.num)
	}
	return compose(fmt.Sprintf("-(%s)", v.Expr()))
}

// Round returns v rounded to the nearest integer, deferred when v is.
func Round(v Value) Value {
	if !v.IsDeferred() {
		return Concrete(math.Round(v.num))
	}
	return compose(fmt.Sprintf("round(%s)", v.Expr()))
}

// Abs returns |v|.
func Abs(v Value) Value {
	if !v.IsDeferred() {
		return Concrete(math.Abs(v.num))
	}
	return compose(fmt.Sprintf("abs(%s)", v.Expr()))
}

// Ceil returns v rounded up to the next integer.
func Ceil(v Value) Value {
	if !v.IsDeferred() {
		return Concrete(math.Ceil(v.num))
	}
	return compose(fmt.Sprintf("ceil(%s)", v.Expr()))
}

// Floor returns v rounded down to the previous integer.
func Floor(v Value) Value {
	if !v.IsDeferred() {
		return Concrete(math.Floor(v.num))
	}
	return compose(fmt.Sprintf("floor(%s)", v.Expr()))
}

// Min returns the smaller of a and b.
func Min(a, b Value) Value {
	if !a.IsDeferred() && !b.IsDeferred() {
		return Concrete(math.Min(a.num, b.num))
	}
	return compose(fmt.Sprintf("min(%s, %s)", a.Expr(), b.Expr()))
}

// Max returns the larger of a and b.
func Max(a, b Value) Value {
	if !a.IsDeferred() && !b.IsDeferred() {
		return Concrete(math.Max(a.num, b.num))
	}
	return compose(fmt.Sprintf("max(%s, %s)", a.Expr(), b.Expr()))
}

// Defer forces a deferred representation of v without changing its content.
// Used by trackers whose state has been promoted to the deferred regime:
// later concrete assignments must keep flowing through the runtime mechanism.
func Defer(v Value) Value {
	if v.IsDeferred() {
		return v
	}
	return compose(fmt.Sprintf("(%s)", formatNumber(v.num)))
}
