package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncOperation("ch1", "step")
	collector.IncTimingWarning("duration")
	collector.SetChannelLevel("ch1", 0.25)
}

func resetCollectors() {
	operationCounterLock.Lock()
	operationCounter = nil
	operationCounterLock.Unlock()
	timingWarningCounterLock.Lock()
	timingWarningCounter = nil
	timingWarningCounterLock.Unlock()
	channelLevelGaugeLock.Lock()
	channelLevelGauge = nil
	channelLevelGaugeLock.Unlock()
}

func TestPrometheusCollectorRegistersAndReusesMetrics(t *testing.T) {
	resetCollectors()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncOperation("ch1", "step")
	collector.IncTimingWarning("ramp_duration")
	collector.SetChannelLevel("ch1", 0.3)

	metrics, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, metrics, 3)

	byName := make(map[string]*dto.MetricFamily, len(metrics))
	for _, mf := range metrics {
		byName[mf.GetName()] = mf
	}

	ops := byName["voltseq_operations_total"]
	require.NotNil(t, ops)
	requireCounterValue(t, ops, 1)

	warnings := byName["voltseq_timing_warnings_total"]
	require.NotNil(t, warnings)
	requireCounterValue(t, warnings, 1)

	level := byName["voltseq_channel_level_volts"]
	require.NotNil(t, level)
	require.Len(t, level.Metric, 1)
	require.NotNil(t, level.Metric[0].Gauge)
	require.Equal(t, 0.3, level.Metric[0].Gauge.GetValue())

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.operations, again.operations)

	again.IncOperation("ch1", "step")

	metrics, err = reg.Gather()
	require.NoError(t, err)
	for _, mf := range metrics {
		if mf.GetName() == "voltseq_operations_total" {
			requireCounterValue(t, mf, 2)
		}
	}
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
