package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the sequencing engine.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with sequence compilation.
type Collector interface {
	IncOperation(channel, kind string)
	IncTimingWarning(param string)
	SetChannelLevel(channel string, level float64)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncOperation(string, string)     {}
func (noopCollector) IncTimingWarning(string)         {}
func (noopCollector) SetChannelLevel(string, float64) {}

// PrometheusCollector exposes sequencing counters via Prometheus.
type PrometheusCollector struct {
	operations     *prometheus.CounterVec
	timingWarnings *prometheus.CounterVec
	channelLevel   *prometheus.GaugeVec
}

var (
	operationCounter         *prometheus.CounterVec
	operationCounterLock     sync.Mutex
	timingWarningCounter     *prometheus.CounterVec
	timingWarningCounterLock sync.Mutex
	channelLevelGauge        *prometheus.GaugeVec
	channelLevelGaugeLock    sync.Mutex
)

func registerCounterVec(reg prometheus.Registerer, lock *sync.Mutex, cached **prometheus.CounterVec, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	lock.Lock()
	defer lock.Unlock()
	if *cached != nil {
		return *cached, nil
	}
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				*cached = existing
				return existing, nil
			}
		}
		return nil, err
	}
	*cached = counter
	return counter, nil
}

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	operations, err := registerCounterVec(reg, &operationCounterLock, &operationCounter, prometheus.CounterOpts{
		Name: "voltseq_operations_total",
		Help: "Number of hardware operations emitted per channel and operation kind.",
	}, []string{"channel", "kind"})
	if err != nil {
		return nil, err
	}

	warnings, err := registerCounterVec(reg, &timingWarningCounterLock, &timingWarningCounter, prometheus.CounterOpts{
		Name: "voltseq_timing_warnings_total",
		Help: "Number of duration policy warnings raised per parameter.",
	}, []string{"param"})
	if err != nil {
		return nil, err
	}

	channelLevelGaugeLock.Lock()
	if channelLevelGauge == nil {
		gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voltseq_channel_level_volts",
			Help: "Last concrete voltage level requested per physical channel.",
		}, []string{"channel"})
		if err := reg.Register(gauge); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
					channelLevelGauge = existing
				} else {
					channelLevelGaugeLock.Unlock()
					return nil, err
				}
			} else {
				channelLevelGaugeLock.Unlock()
				return nil, err
			}
		} else {
			channelLevelGauge = gauge
		}
	}
	channelLevelGaugeLock.Unlock()

	return &PrometheusCollector{
		operations:     operations,
		timingWarnings: warnings,
		channelLevel:   channelLevelGauge,
	}, nil
}

func (c *PrometheusCollector) IncOperation(channel, kind string) {
	c.operations.WithLabelValues(channel, kind).Inc()
}

func (c *PrometheusCollector) IncTimingWarning(param string) {
	c.timingWarnings.WithLabelValues(param).Inc()
}

func (c *PrometheusCollector) SetChannelLevel(channel string, level float64) {
	c.channelLevel.WithLabelValues(channel).Set(level)
}
