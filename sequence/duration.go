package sequence

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/timzifer/voltseq/value"
)

// Timing constants of the pulse hardware, in nanoseconds.
const (
	// ClockCycleNS is the granularity every concrete duration must honor.
	ClockCycleNS = 4
	// MinPulseDurationNS is the shortest pulse the hardware plays without a
	// timing gap. Shorter non-zero durations are accepted with a warning.
	MinPulseDurationNS = 16
)

// ValidateDuration applies the shared timing policy. A nil duration is always
// accepted (meaning "use default" or "not applicable"). A concrete duration
// must be a non-negative integer multiple of the clock cycle; values strictly
// between zero and the minimum pulse duration pass with a warning. Deferred
// durations bypass the static checks; the caller carries the responsibility.
func ValidateDuration(d *value.Value, param string, logger zerolog.Logger) error {
	if d == nil || d.IsDeferred() {
		return nil
	}
	ns, _ := d.Float()
	if ns != math.Trunc(ns) {
		return &TimingError{Param: param, Reason: "must be an integer number of nanoseconds"}
	}
	if ns < 0 {
		return &TimingError{Param: param, Reason: "must not be negative"}
	}
	if int64(ns)%ClockCycleNS != 0 {
		return &TimingError{Param: param, Reason: "must be a multiple of the 4ns clock cycle"}
	}
	if ns > 0 && ns < MinPulseDurationNS {
		logger.Warn().
			Str("param", param).
			Int64("duration_ns", int64(ns)).
			Msgf("duration below the %dns minimum pulse length may produce a hardware timing gap", MinPulseDurationNS)
	}
	return nil
}
