package gates

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/voltseq/pulse"
	"github.com/timzifer/voltseq/value"
)

func newTestGateSet(t *testing.T, opts ...Option) *GateSet {
	t.Helper()
	set, err := NewGateSet("test", map[string]*pulse.Channel{
		"P1": {Name: "P1", OutputMode: pulse.OutputModeDirect},
		"P2": {Name: "P2", OutputMode: pulse.OutputModeDirect},
	}, opts...)
	require.NoError(t, err)
	return set
}

func TestNewGateSetValidation(t *testing.T) {
	_, err := NewGateSet("", map[string]*pulse.Channel{"P1": {Name: "P1"}})
	require.Error(t, err)

	_, err = NewGateSet("empty", map[string]*pulse.Channel{})
	require.Error(t, err)

	_, err = NewGateSet("nilch", map[string]*pulse.Channel{"P1": nil})
	require.Error(t, err)
}

func TestAddLayerRejectionsLeaveSetUnchanged(t *testing.T) {
	set := newTestGateSet(t)

	cases := []struct {
		name    string
		sources []string
		targets []string
		matrix  [][]float64
		layerID string
	}{
		{"duplicate source", []string{"Vx", "Vx"}, []string{"P1", "P2"}, [][]float64{{1, 0}, {0, 1}}, ""},
		{"unknown target", []string{"Vx"}, []string{"missing"}, [][]float64{{1}}, ""},
		{"row count mismatch", []string{"Vx", "Vy"}, []string{"P1", "P2"}, [][]float64{{1, 0}}, ""},
		{"column count mismatch", []string{"Vx"}, []string{"P1"}, [][]float64{{1, 0}}, ""},
		{"singular matrix", []string{"Vx", "Vy"}, []string{"P1", "P2"}, [][]float64{{1, 1}, {1, 1}}, ""},
		{"rectangular without option", []string{"Vx"}, []string{"P1", "P2"}, [][]float64{{1, 1}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := set.AddLayer(tc.sources, tc.targets, tc.matrix, tc.layerID)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Empty(t, set.Layers())
		})
	}
}

func TestAddLayerDuplicateIDAndGateConflicts(t *testing.T) {
	set := newTestGateSet(t)
	_, err := set.AddLayer([]string{"Vx", "Vy"}, []string{"P1", "P2"}, [][]float64{{1, 0}, {0, 1}}, "first")
	require.NoError(t, err)

	_, err = set.AddLayer([]string{"Va"}, []string{"Vx"}, [][]float64{{1}}, "first")
	require.Error(t, err)

	// Vx is already a source gate of layer "first".
	_, err = set.AddLayer([]string{"Vx"}, []string{"P1"}, [][]float64{{1}}, "second")
	require.Error(t, err)

	// P1 is already a target gate of layer "first".
	_, err = set.AddLayer([]string{"Va"}, []string{"P1"}, [][]float64{{1}}, "second")
	require.Error(t, err)

	require.Len(t, set.Layers(), 1)
}

func TestResolveVoltagesDefineOrZero(t *testing.T) {
	set := newTestGateSet(t)
	_, err := set.AddLayer([]string{"Vx", "Vy"}, []string{"P1", "P2"}, [][]float64{{2, 1}, {0, 1}}, "virt")
	require.NoError(t, err)

	resolved, err := set.ResolveVoltages(map[string]value.Value{
		"Vx": value.Concrete(1.0),
		"Vy": value.Concrete(0.4),
	}, false)
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	requireFloat(t, resolved["P1"], 0.3)
	requireFloat(t, resolved["P2"], 0.4)

	// Omitted gates resolve to zero for this call, never to "hold".
	resolved, err = set.ResolveVoltages(map[string]value.Value{}, false)
	require.NoError(t, err)
	requireFloat(t, resolved["P1"], 0.0)
	requireFloat(t, resolved["P2"], 0.0)
}

func TestResolveVoltagesStackedLayersReverseOrder(t *testing.T) {
	set := newTestGateSet(t)
	_, err := set.AddLayer([]string{"V1", "V2"}, []string{"P1", "P2"}, [][]float64{{1, 0}, {0, 1}}, "lower")
	require.NoError(t, err)
	_, err = set.AddLayer([]string{"W1"}, []string{"V1"}, [][]float64{{2}}, "upper")
	require.NoError(t, err)

	// W1 resolves through "upper" into V1, then through "lower" into P1.
	resolved, err := set.ResolveVoltages(map[string]value.Value{
		"W1": value.Concrete(1.0),
		"P2": value.Concrete(0.1),
	}, false)
	require.NoError(t, err)
	requireFloat(t, resolved["P1"], 0.5)
	requireFloat(t, resolved["P2"], 0.1)
}

func TestResolveVoltagesUnknownGate(t *testing.T) {
	set := newTestGateSet(t)

	_, err := set.ResolveVoltages(map[string]value.Value{"nope": value.Concrete(1)}, false)
	var uerr *UnknownGateError
	require.ErrorAs(t, err, &uerr)

	resolved, err := set.ResolveVoltages(map[string]value.Value{"nope": value.Concrete(1)}, true)
	require.NoError(t, err)
	require.NotContains(t, resolved, "nope")
	requireFloat(t, resolved["P1"], 0.0)
}

func TestForwardVoltagesRoundTrip(t *testing.T) {
	set := newTestGateSet(t)
	_, err := set.AddLayer([]string{"Vx", "Vy"}, []string{"P1", "P2"}, [][]float64{{2, 1}, {0, 1}}, "virt")
	require.NoError(t, err)

	resolved, err := set.ResolveVoltages(map[string]value.Value{
		"Vx": value.Concrete(1.0),
		"Vy": value.Concrete(0.4),
	}, false)
	require.NoError(t, err)

	physical := make(map[string]float64, len(resolved))
	for name, v := range resolved {
		f, ok := v.Float()
		require.True(t, ok)
		physical[name] = f
	}

	forward, err := set.ForwardVoltages(physical)
	require.NoError(t, err)
	require.InDelta(t, 1.0, forward["Vx"], 1e-9)
	require.InDelta(t, 0.4, forward["Vy"], 1e-9)
}

func TestAddToLayerZeroPadsAndExtends(t *testing.T) {
	set := newTestGateSet(t, WithRectangularMatrices())
	_, err := set.AddLayer([]string{"Vc"}, []string{"P1"}, [][]float64{{1}}, "combined")
	require.NoError(t, err)

	layer, err := set.AddToLayer("combined", []string{"Vd"}, []string{"P2"}, [][]float64{{1}})
	require.NoError(t, err)
	require.Equal(t, []string{"Vc", "Vd"}, layer.SourceGates)
	require.Equal(t, []string{"P1", "P2"}, layer.TargetGates)
	require.Equal(t, [][]float64{{1, 0}, {0, 1}}, layer.Matrix)
	require.True(t, layer.PseudoInverse)

	// Extending an existing source overwrites its elements in place.
	layer, err = set.AddToLayer("combined", []string{"Vc"}, []string{"P2"}, [][]float64{{0.5}})
	require.NoError(t, err)
	require.Equal(t, [][]float64{{1, 0.5}, {0, 1}}, layer.Matrix)
	require.Len(t, set.Layers(), 1)
}

func TestAddToLayerEmptyIDUsesLastLayer(t *testing.T) {
	set := newTestGateSet(t, WithRectangularMatrices())
	_, err := set.AddLayer([]string{"Vc"}, []string{"P1"}, [][]float64{{1}}, "combined")
	require.NoError(t, err)

	layer, err := set.AddToLayer("", []string{"Vd"}, []string{"P2"}, [][]float64{{1}})
	require.NoError(t, err)
	require.Equal(t, "combined", layer.ID)
}

func TestAddToLayerRequiresRectangularMode(t *testing.T) {
	set := newTestGateSet(t)
	_, err := set.AddToLayer("any", []string{"Vc"}, []string{"P1"}, [][]float64{{1}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAddToLayerCreatesMissingLayer(t *testing.T) {
	set := newTestGateSet(t, WithRectangularMatrices())
	layer, err := set.AddToLayer("fresh", []string{"Vc"}, []string{"P1", "P2"}, [][]float64{{1, 1}})
	require.NoError(t, err)
	require.Equal(t, "fresh", layer.ID)
	require.Len(t, set.Layers(), 1)
}

func TestPoints(t *testing.T) {
	set := newTestGateSet(t)
	_, err := set.AddLayer([]string{"Vx", "Vy"}, []string{"P1", "P2"}, [][]float64{{1, 0}, {0, 1}}, "virt")
	require.NoError(t, err)

	require.NoError(t, set.AddPoint("idle", map[string]float64{"Vx": 0.1}, 100))
	require.NoError(t, set.AddPoint("load", map[string]float64{"P1": 0.2, "Vy": 0.3}, 200))

	err = set.AddPoint("broken", map[string]float64{"missing": 1}, 100)
	var uerr *UnknownGateError
	require.ErrorAs(t, err, &uerr)

	point, err := set.Point("idle")
	require.NoError(t, err)
	require.Equal(t, int64(100), point.Duration)
	require.Equal(t, 0.1, point.Voltages["Vx"])

	_, err = set.Point("absent")
	var perr *UnknownPointError
	require.ErrorAs(t, err, &perr)

	require.Equal(t, []string{"idle", "load"}, set.PointNames())
}

func TestValidChannelNames(t *testing.T) {
	set := newTestGateSet(t)
	_, err := set.AddLayer([]string{"Vx", "Vy"}, []string{"P1", "P2"}, [][]float64{{1, 0}, {0, 1}}, "virt")
	require.NoError(t, err)

	require.Equal(t, []string{"P1", "P2", "Vx", "Vy"}, set.ValidChannelNames())
}
