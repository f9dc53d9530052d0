// Package config loads and validates the persisted gate-set configuration:
// physical channels, virtualization layers, named voltage points and the
// ambient logging/telemetry settings. Configuration is loaded once at
// build time; runtime tracker state is never persisted.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timzifer/voltseq/gates"
	"github.com/timzifer/voltseq/pulse"
)

// DurationNS wraps a nanosecond count and accepts either a plain integer
// (nanoseconds) or a duration string like "1us" in YAML.
type DurationNS struct {
	Nanoseconds int64
}

// UnmarshalYAML parses integers as nanoseconds and strings via
// time.ParseDuration.
func (d *DurationNS) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var ns int64
	if err := value.Decode(&ns); err == nil {
		d.Nanoseconds = ns
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Nanoseconds = dur.Nanoseconds()
	return nil
}

// MarshalYAML renders the duration as a nanosecond integer.
func (d DurationNS) MarshalYAML() (interface{}, error) {
	return d.Nanoseconds, nil
}

// ChannelConfig describes one physical output channel.
type ChannelConfig struct {
	OutputMode string `yaml:"output_mode,omitempty"`
}

// LayerConfig describes one persisted virtualization layer.
type LayerConfig struct {
	ID            string      `yaml:"id,omitempty"`
	SourceGates   []string    `yaml:"source_gates"`
	TargetGates   []string    `yaml:"target_gates"`
	Matrix        [][]float64 `yaml:"matrix"`
	PseudoInverse bool        `yaml:"pseudo_inverse,omitempty"`
}

// PointConfig describes one persisted voltage preset.
type PointConfig struct {
	Voltages map[string]float64 `yaml:"voltages"`
	Duration DurationNS         `yaml:"duration"`
}

// GateSetConfig is the persisted shape of one layered gate set.
type GateSetConfig struct {
	ID               string                   `yaml:"id"`
	AllowRectangular bool                     `yaml:"allow_rectangular_matrices,omitempty"`
	Channels         map[string]ChannelConfig `yaml:"channels"`
	Layers           []LayerConfig            `yaml:"layers,omitempty"`
	Points           map[string]PointConfig   `yaml:"points,omitempty"`
}

// LokiConfig configures the optional log shipping sink.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Labels  map[string]string `yaml:"labels,omitempty"`
}

// LoggingConfig configures the zerolog output.
type LoggingConfig struct {
	Level  string     `yaml:"level,omitempty"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki,omitempty"`
}

// TelemetryConfig enables the Prometheus collector.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	GateSet   GateSetConfig   `yaml:"gate_set"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// Load reads, schema-validates and decodes a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate applies the structural checks that do not need the gate set's
// layer invariants (those run when the set is built).
func (c *Config) Validate() error {
	g := c.GateSet
	if g.ID == "" {
		return fmt.Errorf("gate_set.id must not be empty")
	}
	if len(g.Channels) == 0 {
		return fmt.Errorf("gate_set %s requires at least one channel", g.ID)
	}
	for name, ch := range g.Channels {
		switch ch.OutputMode {
		case "", string(pulse.OutputModeDirect), string(pulse.OutputModeAmplified):
		default:
			return fmt.Errorf("channel %s has unsupported output mode %q", name, ch.OutputMode)
		}
	}
	for name, point := range g.Points {
		if point.Duration.Nanoseconds < 0 {
			return fmt.Errorf("point %s has negative duration", name)
		}
	}
	return nil
}

// Build constructs the layered gate set described by the configuration.
func (g GateSetConfig) Build(opts ...gates.Option) (*gates.GateSet, error) {
	channels := make(map[string]*pulse.Channel, len(g.Channels))
	for name, ch := range g.Channels {
		mode := pulse.OutputModeDirect
		if ch.OutputMode == string(pulse.OutputModeAmplified) {
			mode = pulse.OutputModeAmplified
		}
		channels[name] = &pulse.Channel{Name: name, OutputMode: mode}
	}
	if g.AllowRectangular {
		opts = append([]gates.Option{gates.WithRectangularMatrices()}, opts...)
	}
	set, err := gates.NewGateSet(g.ID, channels, opts...)
	if err != nil {
		return nil, err
	}
	for i, layer := range g.Layers {
		added, err := set.AddLayer(layer.SourceGates, layer.TargetGates, layer.Matrix, layer.ID)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if layer.PseudoInverse {
			added.PseudoInverse = true
		}
	}
	for name, point := range g.Points {
		if err := set.AddPoint(name, point.Voltages, point.Duration.Nanoseconds); err != nil {
			return nil, fmt.Errorf("point %s: %w", name, err)
		}
	}
	return set, nil
}
