package sequence

import (
	"github.com/timzifer/voltseq/gates"
	"github.com/timzifer/voltseq/value"
)

// KeepLevels caches the last requested level of every physical and virtual
// gate, so callers can re-issue complete voltage maps without restating gates
// that should stay at their previous non-zero level. It deliberately sits in
// front of the define-or-zero resolution: the sequence itself never holds.
//
//	keep := sequence.NewKeepLevels(gateSet)
//	full, _ := keep.Fill(map[string]value.Value{"P1": value.Concrete(0.2)})
//	_ = seq.StepToVoltages(full, d)
//	full, _ = keep.Fill(map[string]value.Value{"P2": value.Concrete(0.1)})
//	_ = seq.StepToVoltages(full, d) // P1 held at 0.2
type KeepLevels struct {
	levels map[string]*StateTracker
}

// NewKeepLevels creates a cache covering every valid gate name of the set.
func NewKeepLevels(gateSet *gates.GateSet) *KeepLevels {
	k := &KeepLevels{levels: make(map[string]*StateTracker)}
	for _, name := range gateSet.ValidChannelNames() {
		tracker, err := newStateTracker(name, false)
		if err != nil {
			continue
		}
		k.levels[name] = tracker
	}
	return k
}

// Update records the supplied levels without producing a filled map.
func (k *KeepLevels) Update(voltages map[string]value.Value) error {
	for name, level := range voltages {
		tracker, ok := k.levels[name]
		if !ok {
			return &gates.UnknownGateError{Gate: name}
		}
		tracker.SetCurrentLevel(level)
	}
	return nil
}

// Fill records the supplied levels and returns a complete map holding every
// known gate at its last requested level.
func (k *KeepLevels) Fill(voltages map[string]value.Value) (map[string]value.Value, error) {
	if err := k.Update(voltages); err != nil {
		return nil, err
	}
	full := make(map[string]value.Value, len(k.levels))
	for name, tracker := range k.levels {
		full[name] = tracker.CurrentLevel()
	}
	return full, nil
}
