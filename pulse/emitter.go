package pulse

import (
	"fmt"
	"strings"
	"sync"

	"github.com/timzifer/voltseq/value"
)

// Emitter receives the ordered stream of hardware operations produced by a
// voltage sequence. Durations are expressed in clock cycles (4 ns).
//
// Implementations must be cheap and synchronous: the controller calls them
// inline while compiling a sequence.
type Emitter interface {
	// EmitFlat plays the base square pulse scaled by amplitudeScale for the
	// given number of cycles.
	EmitFlat(channel *Channel, amplitudeScale value.Value, durationCycles value.Value)
	// EmitRamp plays a linear ramp of the given rate (V/ns) for the given
	// number of cycles.
	EmitRamp(channel *Channel, rate value.Value, durationCycles value.Value)
	// EmitHold keeps the current level for the given number of cycles.
	EmitHold(channel *Channel, durationCycles value.Value)
	// EmitRampToZero invokes the device-native zeroing primitive.
	EmitRampToZero(channel *Channel)
}

// OpKind tags one recorded operation.
type OpKind string

const (
	OpFlat       OpKind = "flat"
	OpRamp       OpKind = "ramp"
	OpHold       OpKind = "hold"
	OpRampToZero OpKind = "ramp_to_zero"
)

// Op is one recorded hardware operation.
type Op struct {
	Channel        string
	Kind           OpKind
	AmplitudeScale value.Value
	Rate           value.Value
	DurationCycles value.Value
}

// String renders the operation for logs and the CLI replay output.
func (o Op) String() string {
	switch o.Kind {
	case OpFlat:
		return fmt.Sprintf("%s flat scale=%s cycles=%s", o.Channel, o.AmplitudeScale.Expr(), o.DurationCycles.Expr())
	case OpRamp:
		return fmt.Sprintf("%s ramp rate=%s cycles=%s", o.Channel, o.Rate.Expr(), o.DurationCycles.Expr())
	case OpHold:
		return fmt.Sprintf("%s hold cycles=%s", o.Channel, o.DurationCycles.Expr())
	case OpRampToZero:
		return fmt.Sprintf("%s ramp_to_zero", o.Channel)
	}
	return fmt.Sprintf("%s %s", o.Channel, o.Kind)
}

// Recorder is an Emitter that appends every operation to an ordered list.
// It backs the tests and the CLI replay mode.
type Recorder struct {
	mu  sync.Mutex
	ops []Op
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) append(op Op) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *Recorder) EmitFlat(channel *Channel, amplitudeScale value.Value, durationCycles value.Value) {
	r.append(Op{Channel: channel.Name, Kind: OpFlat, AmplitudeScale: amplitudeScale, DurationCycles: durationCycles})
}

func (r *Recorder) EmitRamp(channel *Channel, rate value.Value, durationCycles value.Value) {
	r.append(Op{Channel: channel.Name, Kind: OpRamp, Rate: rate, DurationCycles: durationCycles})
}

func (r *Recorder) EmitHold(channel *Channel, durationCycles value.Value) {
	r.append(Op{Channel: channel.Name, Kind: OpHold, DurationCycles: durationCycles})
}

func (r *Recorder) EmitRampToZero(channel *Channel) {
	r.append(Op{Channel: channel.Name, Kind: OpRampToZero})
}

// Ops returns a copy of the recorded operations in emission order.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Op, len(r.ops))
	copy(out, r.ops)
	return out
}

// Reset discards all recorded operations.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.ops = nil
	r.mu.Unlock()
}

// Dump renders the recorded program, one operation per line.
func (r *Recorder) Dump() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, op := range r.ops {
		b.WriteString(op.String())
		b.WriteByte('\n')
	}
	return b.String()
}
