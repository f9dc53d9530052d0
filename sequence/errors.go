package sequence

import "fmt"

// TimingError reports a duration that violates the clock granularity rules:
// negative, fractional, or not a multiple of the clock cycle.
type TimingError struct {
	Param  string
	Reason string
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

// StateError reports an internal tracker inconsistency, e.g. an integrated
// voltage update on a tracker that does not track integrated voltage.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("inconsistent sequence state: %s", e.Reason)
}
