// Package metrics exposes the cluster controller's runtime counters to
// Prometheus, in the teacher's registry-plus-handler shape
// (internal/metrics/prometheus.go), scoped down to what C5-C8 produce.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the cluster controller's Prometheus registry and the counter/
// gauge set every component increments.
type Metrics struct {
	registry *prometheus.Registry

	ncCallsTotal      *prometheus.CounterVec // verb, outcome
	placementsTotal   *prometheus.CounterVec // policy, outcome
	powerTransitions  *prometheus.CounterVec // from, to
	monitorTickErrors prometheus.Counter
	resourceAvailMem  *prometheus.GaugeVec // per-node gauge, hostname label
	instanceCacheSize prometheus.Gauge
}

var m *Metrics

// Init creates the process-wide Metrics instance under namespace "cc".
func Init() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m = &Metrics{
		registry: registry,
		ncCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cc",
			Name:      "nc_calls_total",
			Help:      "NC calls made by the monitor loop and the launch pipeline, by verb and outcome",
		}, []string{"verb", "outcome"}),
		placementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cc",
			Name:      "placements_total",
			Help:      "Scheduler placement decisions, by policy and outcome",
		}, []string{"policy", "outcome"}),
		powerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cc",
			Name:      "power_transitions_total",
			Help:      "Power-state machine transitions, by source and destination state",
		}, []string{"from", "to"}),
		monitorTickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cc",
			Name:      "monitor_tick_errors_total",
			Help:      "Monitor loop ticks that hit an unrecoverable error",
		}),
		resourceAvailMem: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cc",
			Name:      "resource_avail_memory_mb",
			Help:      "Available memory per node, as last observed by the monitor loop",
		}, []string{"hostname"}),
		instanceCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cc",
			Name:      "instance_cache_size",
			Help:      "Current cardinality of the instance cache",
		}),
	}

	registry.MustRegister(
		m.ncCallsTotal, m.placementsTotal, m.powerTransitions,
		m.monitorTickErrors, m.resourceAvailMem, m.instanceCacheSize,
	)
	return m
}

// Get returns the process-wide Metrics instance, or nil if Init was never
// called (callers must nil-check before using, matching the teacher's
// promMetrics global pattern).
func Get() *Metrics { return m }

func (m *Metrics) RecordNCCall(verb string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.ncCallsTotal.WithLabelValues(verb, outcome).Inc()
}

func (m *Metrics) RecordPlacement(policy string, ok bool) {
	if m == nil {
		return
	}
	outcome := "placed"
	if !ok {
		outcome = "no_fit"
	}
	m.placementsTotal.WithLabelValues(policy, outcome).Inc()
}

func (m *Metrics) RecordPowerTransition(from, to string) {
	if m == nil {
		return
	}
	m.powerTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordMonitorTickError() {
	if m == nil {
		return
	}
	m.monitorTickErrors.Inc()
}

func (m *Metrics) SetResourceAvailMem(hostname string, mb int) {
	if m == nil {
		return
	}
	m.resourceAvailMem.WithLabelValues(hostname).Set(float64(mb))
}

func (m *Metrics) SetInstanceCacheSize(n int) {
	if m == nil {
		return
	}
	m.instanceCacheSize.Set(float64(n))
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
