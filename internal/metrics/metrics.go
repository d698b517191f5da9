// Package metrics exposes dispatcher and device counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricPrefix = "motorsched_"

const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Metrics is safe for concurrent use. A nil *Metrics is a no-op.
type Metrics struct {
	reg *prometheus.Registry

	firings       *prometheus.CounterVec
	stepsSent     *prometheus.CounterVec
	running       prometheus.Gauge
	triggers      prometheus.Gauge
	scheduleSize  prometheus.Gauge
	connected     prometheus.Gauge
	lastFireEpoch prometheus.Gauge
}

// New registers all collectors on a private registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		firings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "trigger_firings_total",
				Help: "Trigger firings by result (sent, failed, skipped)",
			},
			[]string{"result"},
		),
		stepsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "steps_sent_total",
				Help: "Steps written to the controller by direction",
			},
			[]string{"direction"},
		),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "dispatcher_running",
			Help: "1 while the tick loop is active",
		}),
		triggers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "dispatcher_triggers",
			Help: "Registered daily triggers",
		}),
		scheduleSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "schedule_entries",
			Help: "Entries in the schedule store",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "device_connected",
			Help: "1 while the serial port is open",
		}),
		lastFireEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "last_firing_timestamp_seconds",
			Help: "Unix time of the last trigger firing",
		}),
	}
	reg.MustRegister(
		m.firings, m.stepsSent, m.running, m.triggers, m.scheduleSize, m.connected, m.lastFireEpoch,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ObserveFiring(result, direction string, steps int, unixSeconds float64) {
	if m == nil {
		return
	}
	m.firings.WithLabelValues(result).Inc()
	m.lastFireEpoch.Set(unixSeconds)
	if result == ResultSent {
		m.stepsSent.WithLabelValues(direction).Add(float64(steps))
	}
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	m.running.Set(boolGauge(running))
}

func (m *Metrics) SetTriggers(n int) {
	if m == nil {
		return
	}
	m.triggers.Set(float64(n))
}

func (m *Metrics) SetScheduleSize(n int) {
	if m == nil {
		return
	}
	m.scheduleSize.Set(float64(n))
}

func (m *Metrics) SetConnected(open bool) {
	if m == nil {
		return
	}
	m.connected.Set(boolGauge(open))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
