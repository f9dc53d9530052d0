// Package pulse defines the outbound surface of the sequencing engine: the
// hardware channel handles and the Emitter interface the controller drives.
// Only the in-memory Recorder implementation ships with this module; real
// waveform backends implement Emitter externally.
package pulse

import (
	"github.com/shopspring/decimal"

	"github.com/timzifer/voltseq/value"
)

// OutputMode selects the output stage of a physical channel.
type OutputMode string

const (
	// OutputModeDirect is the default output stage.
	OutputModeDirect OutputMode = "direct"
	// OutputModeAmplified marks channels behind the amplified output stage.
	OutputModeAmplified OutputMode = "amplified"
)

// Reference amplitudes of the base square pulse per output stage, in volts.
const (
	directReferenceAmplitude    = 0.25
	amplifiedReferenceAmplitude = 1.25
)

// amplitudeScaleDigits is the decimal precision applied to concrete
// amplitude scale factors before emission.
const amplitudeScaleDigits = 10

// Channel is the handle for one physical output.
type Channel struct {
	Name       string
	OutputMode OutputMode
}

// ReferenceAmplitude returns the base pulse amplitude the channel's output
// stage plays at full scale.
func (c *Channel) ReferenceAmplitude() float64 {
	if c.OutputMode == OutputModeAmplified {
		return amplifiedReferenceAmplitude
	}
	return directReferenceAmplitude
}

// AmplitudeScale converts a voltage delta into the dimensionless scale factor
// passed to the emitter. Concrete deltas are rounded to ten decimal places;
// deferred deltas stay symbolic and are scaled at resolve time.
func (c *Channel) AmplitudeScale(delta value.Value) value.Value {
	ref := c.ReferenceAmplitude()
	if f, ok := delta.Float(); ok {
		scaled := decimal.NewFromFloat(f).Div(decimal.NewFromFloat(ref)).Round(amplitudeScaleDigits)
		out, _ := scaled.Float64()
		return value.Concrete(out)
	}
	return value.Scale(delta, 1.0/ref)
}
