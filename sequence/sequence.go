// Package sequence turns voltage targets into an ordered stream of hardware
// operations. It owns one state tracker per physical channel, enforces the
// duration policy and computes drift-compensation pulses.
package sequence

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timzifer/voltseq/gates"
	"github.com/timzifer/voltseq/pulse"
	"github.com/timzifer/voltseq/telemetry"
	"github.com/timzifer/voltseq/value"
)

// Compensation pulse limits, in nanoseconds.
const (
	minCompensationDurationNS     = 16
	defaultCompensationDurationNS = 48
)

// Sequence orchestrates one gate set and its per-channel trackers. Every
// operation appends synchronously to the emitter's output stream; there is no
// reordering across channels, and the per-call channel order is the sorted
// channel name order, stable within a run.
//
// Callers expressing simultaneity by grouping several gates into one voltages
// map should note that conflicting writes to the same physical channel are
// last-write-wins: each call is a complete assignment under the
// define-or-zero policy, so the later call simply replaces the earlier one.
type Sequence struct {
	gateSet         *gates.GateSet
	emitter         pulse.Emitter
	trackers        map[string]*StateTracker
	order           []string
	trackIntegrated bool
	logger          zerolog.Logger
	collector       telemetry.Collector
}

// SequenceOption configures a Sequence at construction time.
type SequenceOption func(*Sequence)

// WithLogger attaches the logger used for policy warnings.
func WithLogger(logger zerolog.Logger) SequenceOption {
	return func(s *Sequence) {
		s.logger = logger.With().Str("component", "sequence").Str("gate_set", s.gateSet.ID()).Logger()
	}
}

// WithCollector attaches a telemetry collector.
func WithCollector(collector telemetry.Collector) SequenceOption {
	return func(s *Sequence) { s.collector = collector }
}

// WithIntegratedVoltageTracking enables or disables drift bookkeeping.
// Compensation pulses require it.
func WithIntegratedVoltageTracking(enabled bool) SequenceOption {
	return func(s *Sequence) { s.trackIntegrated = enabled }
}

// New creates a sequence over the given gate set, with zeroed trackers for
// every physical channel. No two sequences should be attached to overlapping
// physical channels without external coordination: their trackers would
// diverge from physical reality.
func New(gateSet *gates.GateSet, emitter pulse.Emitter, opts ...SequenceOption) (*Sequence, error) {
	if gateSet == nil {
		return nil, fmt.Errorf("gate set must not be nil")
	}
	if emitter == nil {
		return nil, fmt.Errorf("emitter must not be nil")
	}
	s := &Sequence{
		gateSet:         gateSet,
		emitter:         emitter,
		trackers:        make(map[string]*StateTracker, len(gateSet.Channels())),
		trackIntegrated: true,
		logger:          zerolog.Nop(),
		collector:       telemetry.Noop(),
	}
	for name := range gateSet.Channels() {
		tracker, err := NewStateTracker(name)
		if err != nil {
			return nil, err
		}
		s.trackers[name] = tracker
		s.order = append(s.order, name)
	}
	sort.Strings(s.order)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GateSet returns the gate set this sequence operates on.
func (s *Sequence) GateSet() *gates.GateSet { return s.gateSet }

// Tracker returns the state tracker of a physical channel.
func (s *Sequence) Tracker(channel string) (*StateTracker, error) {
	t, ok := s.trackers[channel]
	if !ok {
		return nil, &gates.UnknownGateError{Gate: channel}
	}
	return t, nil
}

// StepToVoltages steps every channel directly to the given levels and holds
// them for duration nanoseconds. Channels and virtual gates absent from
// voltages are driven to 0 V for this call.
func (s *Sequence) StepToVoltages(voltages map[string]value.Value, duration value.Value) error {
	return s.changeVoltages(voltages, duration, nil)
}

// RampToVoltages ramps every channel linearly to the given levels over
// rampDuration, then holds for duration.
func (s *Sequence) RampToVoltages(voltages map[string]value.Value, duration, rampDuration value.Value) error {
	return s.changeVoltages(voltages, duration, &rampDuration)
}

// StepToPoint steps to a registered voltage point. A nil duration uses the
// point's stored default.
func (s *Sequence) StepToPoint(name string, duration *value.Value) error {
	point, err := s.gateSet.Point(name)
	if err != nil {
		return err
	}
	return s.changeVoltages(pointVoltages(point), pointDuration(point, duration), nil)
}

// RampToPoint ramps to a registered voltage point over rampDuration. A nil
// duration uses the point's stored default.
func (s *Sequence) RampToPoint(name string, rampDuration value.Value, duration *value.Value) error {
	point, err := s.gateSet.Point(name)
	if err != nil {
		return err
	}
	return s.changeVoltages(pointVoltages(point), pointDuration(point, duration), &rampDuration)
}

func pointVoltages(point gates.Point) map[string]value.Value {
	voltages := make(map[string]value.Value, len(point.Voltages))
	for gate, v := range point.Voltages {
		voltages[gate] = value.Concrete(v)
	}
	return voltages
}

func pointDuration(point gates.Point, override *value.Value) value.Value {
	if override != nil {
		return *override
	}
	return value.Concrete(float64(point.Duration))
}

func (s *Sequence) changeVoltages(voltages map[string]value.Value, duration value.Value, rampDuration *value.Value) error {
	if err := ValidateDuration(&duration, "duration", s.logger); err != nil {
		return err
	}
	if rampDuration != nil {
		if err := ValidateDuration(rampDuration, "ramp_duration", s.logger); err != nil {
			return err
		}
		if rampDuration.IsDeferred() && !duration.IsDeferred() {
			s.collector.IncTimingWarning("ramp_duration")
			s.logger.Warn().Msg("deferred ramp duration paired with a concrete hold duration; ensure the hold is sufficient")
		}
	}

	resolved, err := s.gateSet.ResolveVoltages(voltages, false)
	if err != nil {
		return err
	}

	ramping := rampDuration != nil && !isConcreteZero(*rampDuration)
	for _, name := range s.order {
		target := resolved[name]
		tracker := s.trackers[name]
		channel := s.gateSet.Channels()[name]
		delta := value.Sub(target, tracker.CurrentLevel())

		if s.trackIntegrated {
			if err := tracker.UpdateIntegratedVoltage(target, duration, rampDuration); err != nil {
				return err
			}
		}

		if ramping {
			s.playRamp(channel, delta, *rampDuration, duration)
			s.collector.IncOperation(name, "ramp")
		} else {
			s.playStep(channel, delta, duration)
			s.collector.IncOperation(name, "step")
		}

		tracker.SetCurrentLevel(target)
		if level, ok := target.Float(); ok {
			s.collector.SetChannelLevel(name, level)
		}
	}
	return nil
}

func isConcreteZero(v value.Value) bool {
	f, ok := v.Float()
	return ok && f == 0
}

func durationCycles(d value.Value) value.Value {
	if f, ok := d.Float(); ok {
		return value.Concrete(float64(int64(f) / ClockCycleNS))
	}
	return value.Scale(d, 1.0/ClockCycleNS)
}

// playStep emits the flat pulse realizing a voltage step. A concrete zero
// duration emits nothing.
func (s *Sequence) playStep(channel *pulse.Channel, delta, duration value.Value) {
	if isConcreteZero(duration) {
		return
	}
	s.emitter.EmitFlat(channel, channel.AmplitudeScale(delta), durationCycles(duration))
}

// playRamp emits a linear ramp of rate delta/rampDuration held for
// rampDuration, followed by a flat hold for the hold duration.
func (s *Sequence) playRamp(channel *pulse.Channel, delta, rampDuration, holdDuration value.Value) {
	if channel.OutputMode == pulse.OutputModeAmplified {
		s.logger.Warn().
			Str("channel", channel.Name).
			Msg("amplified output stage may distort linear ramps")
	}

	if deltaF, okDelta := delta.Float(); okDelta && !rampDuration.IsDeferred() {
		rampF, _ := rampDuration.Float()
		if rampF > 0 {
			s.emitter.EmitRamp(channel, value.Concrete(deltaF/rampF), durationCycles(rampDuration))
		}
	} else {
		s.emitter.EmitRamp(channel, value.Div(delta, rampDuration), durationCycles(rampDuration))
	}

	if !isConcreteZero(holdDuration) {
		s.emitter.EmitHold(channel, durationCycles(holdDuration))
	}
}

// ApplyCompensationPulse emits, for every channel with a non-zero integrated
// voltage, a counter-pulse cancelling the accumulated drift within
// ±maxVoltage. The pulse duration is rounded up to the clock cycle and floored
// at the minimum compensation duration; the channel's accumulator is reset
// afterwards. Fully concrete state uses a closed-form computation; any
// deferred operand defers the equivalent computation to hardware runtime.
func (s *Sequence) ApplyCompensationPulse(maxVoltage float64) error {
	if !s.trackIntegrated {
		return &StateError{Reason: "compensation requires integrated voltage tracking"}
	}
	if maxVoltage <= 0 {
		return fmt.Errorf("max voltage must be positive, got %g", maxVoltage)
	}

	for _, name := range s.order {
		tracker := s.trackers[name]
		channel := s.gateSet.Channels()[name]
		acc := tracker.IntegratedVoltage()
		current := tracker.CurrentLevel()

		var amp, dur value.Value
		if accF, okAcc := acc.Float(); okAcc && !current.IsDeferred() {
			if accF == 0 {
				continue
			}
			ampF, durNS := concreteCompensation(int64(accF), maxVoltage)
			amp, dur = value.Concrete(ampF), value.Concrete(float64(durNS))
		} else {
			amp, dur = deferredCompensation(acc, maxVoltage)
		}

		delta := value.Sub(amp, current)
		s.emitter.EmitFlat(channel, channel.AmplitudeScale(delta), durationCycles(dur))
		s.collector.IncOperation(name, "compensation")

		tracker.SetCurrentLevel(amp)
		tracker.ResetIntegratedVoltage()
	}
	return nil
}

// concreteCompensation computes the counter-pulse closed form: the ideal
// duration |acc|/scale/maxVoltage is floored at the minimum, rounded up to
// the clock cycle and floored at the default; the amplitude -(acc/scale)/dur
// is clipped to ±maxVoltage. The scale division runs on decimals so the
// fixed-point accumulator converts without binary float noise.
func concreteCompensation(acc int64, maxVoltage float64) (float64, int64) {
	drift := decimal.NewFromInt(acc).Div(decimal.NewFromInt(IntegratedVoltageScale))
	driftF, _ := drift.Float64()

	ideal := math.Abs(driftF / maxVoltage)
	durF := math.Max(ideal, minCompensationDurationNS)
	durNS := (int64(math.Ceil(durF)) + ClockCycleNS - 1) / ClockCycleNS * ClockCycleNS
	if durNS < defaultCompensationDurationNS {
		durNS = defaultCompensationDurationNS
	}

	amp := -driftF / float64(durNS)
	if amp > maxVoltage {
		amp = maxVoltage
	} else if amp < -maxVoltage {
		amp = -maxVoltage
	}
	return amp, durNS
}

// deferredCompensation composes the identical computation as deferred
// expressions, so concrete and deferred paths agree on equal inputs.
func deferredCompensation(acc value.Value, maxVoltage float64) (value.Value, value.Value) {
	drift := value.Scale(acc, 1.0/IntegratedVoltageScale)

	ideal := value.Scale(value.Abs(drift), 1.0/maxVoltage)
	dur := value.Max(ideal, value.Concrete(minCompensationDurationNS))
	dur = value.Scale(value.Floor(value.Scale(value.Add(value.Ceil(dur), value.Concrete(ClockCycleNS-1)), 1.0/ClockCycleNS)), ClockCycleNS)
	dur = value.Max(dur, value.Concrete(defaultCompensationDurationNS))

	amp := value.Neg(value.Div(drift, dur))
	amp = value.Min(amp, value.Concrete(maxVoltage))
	amp = value.Max(amp, value.Concrete(-maxVoltage))
	return amp, dur
}

// RampToZero drives every channel to 0 V, either through the device-native
// zeroing primitive (nil rampDuration) or by a linear ramp computed from the
// channel's current level, and resets all integrated-voltage tracking.
func (s *Sequence) RampToZero(rampDuration *int64) error {
	if rampDuration != nil {
		d := value.Concrete(float64(*rampDuration))
		if err := ValidateDuration(&d, "ramp_duration", s.logger); err != nil {
			return err
		}
	}

	for _, name := range s.order {
		tracker := s.trackers[name]
		channel := s.gateSet.Channels()[name]

		if rampDuration == nil {
			s.emitter.EmitRampToZero(channel)
		} else {
			s.rampChannelToZero(channel, tracker, *rampDuration)
		}
		s.collector.IncOperation(name, "ramp_to_zero")

		tracker.SetCurrentLevel(value.Concrete(0))
		s.collector.SetChannelLevel(name, 0)
		if s.trackIntegrated {
			tracker.ResetIntegratedVoltage()
		}
	}
	return nil
}

func (s *Sequence) rampChannelToZero(channel *pulse.Channel, tracker *StateTracker, rampDuration int64) {
	current := tracker.CurrentLevel()
	cycles := value.Concrete(float64(rampDuration / ClockCycleNS))

	if currentF, ok := current.Float(); ok {
		if currentF == 0 {
			return
		}
		if rampDuration > 0 {
			s.emitter.EmitRamp(channel, value.Concrete(-currentF/float64(rampDuration)), cycles)
		} else {
			s.emitter.EmitFlat(channel, channel.AmplitudeScale(value.Concrete(-currentF)), cycles)
		}
		return
	}

	if rampDuration > 0 {
		s.emitter.EmitRamp(channel, value.Neg(value.Scale(current, 1.0/float64(rampDuration))), cycles)
	} else {
		s.emitter.EmitFlat(channel, channel.AmplitudeScale(value.Neg(current)), cycles)
	}
}
