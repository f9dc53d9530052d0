package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/voltseq/pulse"
)

const sampleConfig = `
gate_set:
  id: dots
  allow_rectangular_matrices: true
  channels:
    P1:
      output_mode: direct
    P2:
      output_mode: amplified
  layers:
    - id: virt
      source_gates: [Vx, Vy]
      target_gates: [P1, P2]
      matrix: [[2, 1], [0, 1]]
  points:
    idle:
      voltages:
        Vx: 0.1
      duration: 100
    load:
      voltages:
        P1: 0.2
      duration: 1us
logging:
  level: info
  format: json
telemetry:
  enabled: false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, "dots", cfg.GateSet.ID)
	require.True(t, cfg.GateSet.AllowRectangular)
	require.Len(t, cfg.GateSet.Channels, 2)
	require.Equal(t, "amplified", cfg.GateSet.Channels["P2"].OutputMode)
	require.Len(t, cfg.GateSet.Layers, 1)
	require.Equal(t, [][]float64{{2, 1}, {0, 1}}, cfg.GateSet.Layers[0].Matrix)

	require.Equal(t, int64(100), cfg.GateSet.Points["idle"].Duration.Nanoseconds)
	// Duration strings parse through time.ParseDuration.
	require.Equal(t, int64(1000), cfg.GateSet.Points["load"].Duration.Nanoseconds)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsSchemaViolation(t *testing.T) {
	const bad = `
gate_set:
  id: 5
  channels:
    P1: {}
`
	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)
	require.Contains(t, err.Error(), "schema validation")
}

func TestValidateRejectsBadContent(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"empty id", func(c *Config) { c.GateSet.ID = "" }, "id"},
		{"no channels", func(c *Config) { c.GateSet.Channels = nil }, "channel"},
		{"bad output mode", func(c *Config) {
			c.GateSet.Channels["P1"] = ChannelConfig{OutputMode: "loud"}
		}, "output mode"},
		{"negative duration", func(c *Config) {
			c.GateSet.Points["idle"] = PointConfig{Voltages: map[string]float64{"Vx": 0.1}, Duration: DurationNS{Nanoseconds: -4}}
		}, "duration"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sampleConfig))
			require.NoError(t, err)
			tc.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestBuildGateSet(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	set, err := cfg.GateSet.Build()
	require.NoError(t, err)
	require.Equal(t, "dots", set.ID())
	require.Equal(t, []string{"idle", "load"}, set.PointNames())
	require.Equal(t, pulse.OutputModeAmplified, set.Channels()["P2"].OutputMode)
	require.Equal(t, pulse.OutputModeDirect, set.Channels()["P1"].OutputMode)
	require.Len(t, set.Layers(), 1)

	point, err := set.Point("load")
	require.NoError(t, err)
	require.Equal(t, int64(1000), point.Duration)
}

func TestBuildRejectsInvalidLayer(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	cfg.GateSet.Layers[0].Matrix = [][]float64{{1, 1}, {1, 1}}

	_, err = cfg.GateSet.Build()
	require.Error(t, err)
}
