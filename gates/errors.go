package gates

import "fmt"

// ValidationError reports a violated layer or matrix invariant. The gate set
// is left unchanged when one is returned: validation always precedes mutation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("layer validation failed: %s", e.Reason)
}

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// UnknownGateError reports a reference to a gate name that is neither a
// physical channel nor a virtual gate of any layer.
type UnknownGateError struct {
	Gate string
}

func (e *UnknownGateError) Error() string {
	return fmt.Sprintf("unknown gate %q", e.Gate)
}

// UnknownPointError reports a lookup of an unregistered voltage point.
type UnknownPointError struct {
	Point string
}

func (e *UnknownPointError) Error() string {
	return fmt.Sprintf("unknown voltage point %q", e.Point)
}
