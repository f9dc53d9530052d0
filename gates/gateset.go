package gates

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/timzifer/voltseq/pulse"
	"github.com/timzifer/voltseq/value"
)

// Point is a named, reusable voltage preset with a default hold duration in
// nanoseconds.
type Point struct {
	Voltages map[string]float64
	Duration int64
}

// GateSet owns a fixed universe of physical channels and an ordered stack of
// virtualization layers above them. Layers and points accumulate over the
// object's lifetime; the set never shrinks.
type GateSet struct {
	id               string
	channels         map[string]*pulse.Channel
	layers           []*Layer
	points           map[string]Point
	allowRectangular bool
	logger           zerolog.Logger
}

// Option configures a GateSet at construction time.
type Option func(*GateSet)

// WithRectangularMatrices enables non-square layers and pseudo-inverse
// resolution, which AddToLayer requires.
func WithRectangularMatrices() Option {
	return func(g *GateSet) { g.allowRectangular = true }
}

// WithLogger attaches the logger used for non-fatal warnings.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *GateSet) {
		g.logger = logger.With().Str("component", "gates").Str("gate_set", g.id).Logger()
	}
}

// NewGateSet creates a gate set over the given physical channels.
func NewGateSet(id string, channels map[string]*pulse.Channel, opts ...Option) (*GateSet, error) {
	if id == "" {
		return nil, fmt.Errorf("gate set id must not be empty")
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("gate set %s requires at least one channel", id)
	}
	g := &GateSet{
		id:       id,
		channels: make(map[string]*pulse.Channel, len(channels)),
		points:   make(map[string]Point),
		logger:   zerolog.Nop(),
	}
	for name, ch := range channels {
		if name == "" {
			return nil, fmt.Errorf("gate set %s: channel name must not be empty", id)
		}
		if ch == nil {
			return nil, fmt.Errorf("gate set %s: channel %s is nil", id, name)
		}
		g.channels[name] = ch
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ID returns the gate set identifier.
func (g *GateSet) ID() string { return g.id }

// Channels returns the physical channel handles keyed by name.
func (g *GateSet) Channels() map[string]*pulse.Channel { return g.channels }

// Layers returns the layer stack in insertion order.
func (g *GateSet) Layers() []*Layer { return g.layers }

// ValidChannelNames returns the sorted union of physical channel names and
// the virtual gate names of every layer.
func (g *GateSet) ValidChannelNames() []string {
	names := make([]string, 0, len(g.channels))
	seen := make(map[string]struct{}, len(g.channels))
	for name := range g.channels {
		names = append(names, name)
		seen[name] = struct{}{}
	}
	for _, layer := range g.layers {
		for _, source := range layer.SourceGates {
			if _, ok := seen[source]; !ok {
				names = append(names, source)
				seen[source] = struct{}{}
			}
		}
	}
	sort.Strings(names)
	return names
}

func (g *GateSet) isKnownGate(name string) bool {
	if _, ok := g.channels[name]; ok {
		return true
	}
	for _, layer := range g.layers {
		if layer.sourceIndex(name) >= 0 {
			return true
		}
	}
	return false
}

func (g *GateSet) layerByID(id string) *Layer {
	if id == "" {
		return nil
	}
	for _, layer := range g.layers {
		if layer.ID == id {
			return layer
		}
	}
	return nil
}

func checkUnique(kind string, names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			return validationf("%s gate name must not be empty", kind)
		}
		if _, ok := seen[name]; ok {
			return validationf("duplicate %s gate %q within new layer", kind, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (g *GateSet) validateNewLayer(layerID string, sourceGates, targetGates []string, matrix [][]float64) error {
	if err := checkUnique("source", sourceGates); err != nil {
		return err
	}
	if err := checkUnique("target", targetGates); err != nil {
		return err
	}

	existingSources := make(map[string]string)
	existingTargets := make(map[string]string)
	for _, layer := range g.layers {
		if layerID != "" && layer.ID == layerID {
			return validationf("layer id %q is already used", layerID)
		}
		for _, s := range layer.SourceGates {
			existingSources[s] = layer.ID
		}
		for _, t := range layer.TargetGates {
			existingTargets[t] = layer.ID
		}
	}

	// A target must already exist one level below: either a physical channel
	// or a source gate of a strictly earlier layer.
	for _, target := range targetGates {
		if _, ok := g.channels[target]; ok {
			continue
		}
		if _, ok := existingSources[target]; ok {
			continue
		}
		return validationf("target gate %q is neither a physical channel nor a source gate of an earlier layer", target)
	}
	for _, target := range targetGates {
		if owner, ok := existingTargets[target]; ok {
			return validationf("target gate %q is already a target gate of layer %q", target, owner)
		}
	}
	for _, source := range sourceGates {
		if owner, ok := existingSources[source]; ok {
			return validationf("source gate %q is already a source gate of layer %q", source, owner)
		}
		if owner, ok := existingTargets[source]; ok {
			return validationf("source gate %q shadows a target gate of layer %q", source, owner)
		}
	}

	if len(matrix) != len(sourceGates) {
		return validationf("matrix has %d rows, expected %d (one per source gate)", len(matrix), len(sourceGates))
	}
	for i, row := range matrix {
		if len(row) != len(targetGates) {
			return validationf("matrix row %d has %d columns, expected %d (one per target gate)", i, len(row), len(targetGates))
		}
	}

	square := len(sourceGates) == len(targetGates)
	if !square && !g.allowRectangular {
		return validationf("matrix must be square (%dx%d given); enable rectangular matrices for pseudo-inverse resolution", len(sourceGates), len(targetGates))
	}
	if square {
		m := mat.NewDense(len(sourceGates), len(targetGates), nil)
		for i, row := range matrix {
			for j, v := range row {
				m.Set(i, j, v)
			}
		}
		if det := mat.Det(m); math.Abs(det) < determinantTolerance {
			return validationf("matrix is not invertible (determinant %g)", det)
		}
	}
	return nil
}

// AddLayer validates and appends a new virtualization layer. The matrix must
// have shape (len(sourceGates), len(targetGates)); square matrices must be
// invertible. layerID may be empty. On error the gate set is unchanged.
func (g *GateSet) AddLayer(sourceGates, targetGates []string, matrix [][]float64, layerID string) (*Layer, error) {
	if err := g.validateNewLayer(layerID, sourceGates, targetGates, matrix); err != nil {
		return nil, err
	}
	layer := &Layer{
		ID:            layerID,
		SourceGates:   append([]string(nil), sourceGates...),
		TargetGates:   append([]string(nil), targetGates...),
		Matrix:        copyMatrix(matrix),
		PseudoInverse: len(sourceGates) != len(targetGates),
	}
	g.layers = append(g.layers, layer)
	return layer, nil
}

// AddToLayer extends an existing layer with additional source rows and target
// columns, zero-padding previous rows for newly targeted channels. For a
// (source, target) pair that already has a matrix element the value is
// overwritten, with a warning when it differs numerically. Requires
// rectangular mode; creates the layer when no layer with the id exists yet.
func (g *GateSet) AddToLayer(layerID string, sourceGates, targetGates []string, matrix [][]float64) (*Layer, error) {
	if !g.allowRectangular {
		return nil, validationf("AddToLayer requires rectangular matrices to be enabled")
	}
	if layerID == "" && len(g.layers) > 0 {
		layerID = g.layers[len(g.layers)-1].ID
	}
	layer := g.layerByID(layerID)
	if layer == nil {
		return g.AddLayer(sourceGates, targetGates, matrix, layerID)
	}

	for _, other := range g.layers {
		if other == layer {
			continue
		}
		for _, target := range targetGates {
			for _, existing := range other.TargetGates {
				if target == existing {
					return nil, validationf("target gate %q is already a target gate of layer %q", target, other.ID)
				}
			}
		}
	}
	if len(matrix) != len(sourceGates) {
		return nil, validationf("matrix has %d rows, expected %d (one per source gate)", len(matrix), len(sourceGates))
	}
	for i, row := range matrix {
		if len(row) != len(targetGates) {
			return nil, validationf("matrix row %d has %d columns, expected %d (one per target gate)", i, len(row), len(targetGates))
		}
	}

	targets := append([]string(nil), layer.TargetGates...)
	targetPos := make(map[string]int, len(targets))
	for i, t := range targets {
		targetPos[t] = i
	}
	full := copyMatrix(layer.Matrix)
	for _, target := range targetGates {
		if _, ok := targetPos[target]; ok {
			continue
		}
		targetPos[target] = len(targets)
		targets = append(targets, target)
		for i := range full {
			full[i] = append(full[i], 0)
		}
	}

	sources := append([]string(nil), layer.SourceGates...)
	sourcePos := make(map[string]int, len(sources))
	for i, s := range sources {
		sourcePos[s] = i
	}
	for i, source := range sourceGates {
		row, exists := 0, false
		if idx, ok := sourcePos[source]; ok {
			row, exists = idx, true
		}
		if !exists {
			sourcePos[source] = len(sources)
			sources = append(sources, source)
			full = append(full, make([]float64, len(targets)))
			row = len(full) - 1
		}
		for j, target := range targetGates {
			col := targetPos[target]
			next := matrix[i][j]
			if exists {
				if old := full[row][col]; math.Abs(old-next) > 1e-12 {
					g.logger.Warn().
						Str("layer", layer.ID).
						Str("source", source).
						Str("target", target).
						Float64("old", old).
						Float64("new", next).
						Msg("overwriting virtualization matrix element")
				}
			}
			full[row][col] = next
		}
	}

	layer.SourceGates = sources
	layer.TargetGates = targets
	layer.Matrix = full
	layer.PseudoInverse = true
	return layer, nil
}

// ResolveVoltages converts a possibly partial assignment over virtual and
// physical gates into a complete assignment over physical channels only.
// Layers apply in strict reverse insertion order; afterwards every physical
// channel absent from the result is filled with 0.0. Omitting a gate asserts
// it should be 0 for this call, not that it holds its previous level. Unknown
// names fail with UnknownGateError unless allowExtra is set, in which case
// they are dropped.
func (g *GateSet) ResolveVoltages(voltages map[string]value.Value, allowExtra bool) (map[string]value.Value, error) {
	resolved := make(map[string]value.Value, len(voltages)+len(g.channels))
	for name, v := range voltages {
		if !g.isKnownGate(name) {
			if allowExtra {
				continue
			}
			return nil, &UnknownGateError{Gate: name}
		}
		resolved[name] = v
	}

	for i := len(g.layers) - 1; i >= 0; i-- {
		next, err := g.layers[i].ResolveVoltages(resolved, true)
		if err != nil {
			return nil, err
		}
		resolved = next
	}

	for name := range g.channels {
		if _, ok := resolved[name]; !ok {
			resolved[name] = value.Concrete(0)
		}
	}
	return resolved, nil
}

// ForwardVoltages derives every virtual gate level from a complete physical
// assignment by applying the forward matrices layer by layer, the inverse
// direction of ResolveVoltages.
func (g *GateSet) ForwardVoltages(physical map[string]float64) (map[string]float64, error) {
	full := make(map[string]float64, len(physical))
	for name := range g.channels {
		v, ok := physical[name]
		if !ok {
			return nil, &UnknownGateError{Gate: name}
		}
		full[name] = v
	}
	for _, layer := range g.layers {
		for i, source := range layer.SourceGates {
			sum := 0.0
			for j, target := range layer.TargetGates {
				tv, ok := full[target]
				if !ok {
					return nil, &UnknownGateError{Gate: target}
				}
				sum += layer.Matrix[i][j] * tv
			}
			full[source] = sum
		}
	}
	return full, nil
}

// AddPoint registers a named voltage preset. Every referenced gate must be a
// known physical or virtual name.
func (g *GateSet) AddPoint(name string, voltages map[string]float64, duration int64) error {
	if name == "" {
		return fmt.Errorf("point name must not be empty")
	}
	for gate := range voltages {
		if !g.isKnownGate(gate) {
			return &UnknownGateError{Gate: gate}
		}
	}
	stored := make(map[string]float64, len(voltages))
	for gate, v := range voltages {
		stored[gate] = v
	}
	g.points[name] = Point{Voltages: stored, Duration: duration}
	return nil
}

// Point returns a registered preset by name.
func (g *GateSet) Point(name string) (Point, error) {
	p, ok := g.points[name]
	if !ok {
		return Point{}, &UnknownPointError{Point: name}
	}
	return p, nil
}

// PointNames returns the registered preset names, sorted.
func (g *GateSet) PointNames() []string {
	names := make([]string, 0, len(g.points))
	for name := range g.points {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copyMatrix(matrix [][]float64) [][]float64 {
	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
