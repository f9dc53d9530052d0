package sequence

import (
	"fmt"
	"math"

	"github.com/timzifer/voltseq/value"
)

// IntegratedVoltageScale is the fixed-point factor applied to every
// integrated-voltage contribution (V·ns·1024). The power-of-two scale keeps
// precision when the accumulator is promoted to a deferred runtime value.
const IntegratedVoltageScale = 1024

// StateTracker maintains the dynamic state of one physical channel within a
// sequence: the last applied voltage level and the accumulated
// time-integrated voltage used for drift compensation.
//
// Both quantities exist in two regimes, concrete and deferred. The first
// deferred operand encountered promotes the accumulator one-way: it is seeded
// with the concrete value held at that moment and all further updates flow
// through the deferred mechanism. Demotion never happens.
type StateTracker struct {
	channel string

	currentLevel  value.Value
	levelDeferred bool

	trackIntegrated bool
	integrated      int64       // concrete accumulator, exact integer arithmetic
	deferredAcc     value.Value // valid once promoted
	promoted        bool
	promotionSeed   int64
}

// NewStateTracker creates a tracker with zero state.
func NewStateTracker(channel string) (*StateTracker, error) {
	return newStateTracker(channel, true)
}

func newStateTracker(channel string, trackIntegrated bool) (*StateTracker, error) {
	if channel == "" {
		return nil, fmt.Errorf("tracker channel name must not be empty")
	}
	return &StateTracker{
		channel:         channel,
		currentLevel:    value.Concrete(0),
		trackIntegrated: trackIntegrated,
	}, nil
}

// Channel returns the name of the tracked physical channel.
func (t *StateTracker) Channel() string { return t.channel }

// CurrentLevel returns the last applied voltage level.
func (t *StateTracker) CurrentLevel() value.Value { return t.currentLevel }

// SetCurrentLevel records a newly applied level. Once a deferred level has
// been seen, later concrete assignments keep flowing through the deferred
// mechanism, mirroring a runtime variable that stays a runtime variable.
func (t *StateTracker) SetCurrentLevel(level value.Value) {
	if level.IsDeferred() {
		t.levelDeferred = true
		t.currentLevel = level
		return
	}
	if t.levelDeferred {
		t.currentLevel = value.Defer(level)
		return
	}
	t.currentLevel = level
}

// Promoted reports whether the integrated-voltage accumulator has been
// promoted to the deferred regime.
func (t *StateTracker) Promoted() bool { return t.promoted }

// IntegratedVoltage returns the accumulated integrated voltage, as a concrete
// integer value or the deferred accumulator once promoted.
func (t *StateTracker) IntegratedVoltage() value.Value {
	if t.promoted {
		return t.deferredAcc
	}
	return value.Concrete(float64(t.integrated))
}

// ensureDeferred performs the one-way promotion: the deferred accumulator is
// seeded with the current concrete integer and remembered for resets.
func (t *StateTracker) ensureDeferred() error {
	if t.promoted {
		if !t.deferredAcc.IsDeferred() {
			return &StateError{Reason: fmt.Sprintf("promoted accumulator of %q lost its deferred handle", t.channel)}
		}
		return nil
	}
	t.promotionSeed = t.integrated
	t.deferredAcc = value.Defer(value.Concrete(float64(t.integrated)))
	t.promoted = true
	return nil
}

// UpdateIntegratedVoltage adds one pulse segment's contribution:
// level·duration·scale for the flat part plus, when ramping, the trapezoidal
// term ((level+previous)/2)·rampDuration·scale. Any deferred operand promotes
// the accumulator before the contribution is added; the all-concrete path is
// exact integer arithmetic with round-to-nearest.
func (t *StateTracker) UpdateIntegratedVoltage(level, duration value.Value, rampDuration *value.Value) error {
	if !t.trackIntegrated {
		return &StateError{Reason: fmt.Sprintf("tracker for %q does not track integrated voltage", t.channel)}
	}

	previous := t.currentLevel
	needsDeferred := t.promoted ||
		level.IsDeferred() || duration.IsDeferred() || previous.IsDeferred() ||
		(rampDuration != nil && rampDuration.IsDeferred())

	if needsDeferred {
		if err := t.ensureDeferred(); err != nil {
			return err
		}
		flat := value.Round(value.Scale(value.Mul(level, duration), IntegratedVoltageScale))
		t.deferredAcc = value.Add(t.deferredAcc, flat)
		if rampDuration != nil {
			avg := value.Scale(value.Add(level, previous), 0.5)
			ramp := value.Round(value.Scale(value.Mul(avg, *rampDuration), IntegratedVoltageScale))
			t.deferredAcc = value.Add(t.deferredAcc, ramp)
		}
		return nil
	}

	levelF, _ := level.Float()
	durationF, _ := duration.Float()
	t.integrated += int64(math.Round(levelF * durationF * IntegratedVoltageScale))
	if rampDuration != nil {
		rampF, _ := rampDuration.Float()
		prevF, _ := previous.Float()
		avg := (levelF + prevF) * 0.5
		t.integrated += int64(math.Round(avg * rampF * IntegratedVoltageScale))
	}
	return nil
}

// ResetIntegratedVoltage clears the accumulator. A promoted tracker is
// re-seeded with the concrete value recorded at promotion time, so that
// contributions known ahead of a repeated program survive the reset; an
// unpromoted tracker simply returns to zero.
func (t *StateTracker) ResetIntegratedVoltage() {
	if t.promoted {
		t.deferredAcc = value.Defer(value.Concrete(float64(t.promotionSeed)))
		return
	}
	t.integrated = 0
}
