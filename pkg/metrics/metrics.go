// Copyright 2025 Certen Protocol
//
// Metrics (C11): a small Prometheus registry for the kernel's own
// observability — ledger sealing, append latency, enforcement
// violations by kind, and protocol phase transitions. This is ambient
// observability, never a dependency of protocol correctness: every
// exported method is safe to call on a nil *Registry.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns one isolated prometheus.Registry rather than the global
// default, so multiple engines in one process (or in tests) never
// collide on metric registration.
type Registry struct {
	reg *prometheus.Registry

	blocksSealed     prometheus.Counter
	appendLatency    prometheus.Histogram
	violationsByKind *prometheus.CounterVec
	phaseTransitions *prometheus.CounterVec
	monitorTicks     prometheus.Counter
}

// New builds and registers the kernel's metric set.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		blocksSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zt",
			Name:      "blocks_sealed_total",
			Help:      "Number of ledger blocks sealed.",
		}),
		appendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zt",
			Name:      "append_latency_seconds",
			Help:      "Latency of ledger Append calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		violationsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zt",
			Name:      "violations_total",
			Help:      "Enforcement violations observed, labeled by cheat kind.",
		}, []string{"kind"}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zt",
			Name:      "phase_transitions_total",
			Help:      "Protocol phase transitions, labeled by from/to phase.",
		}, []string{"from", "to"}),
		monitorTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zt",
			Name:      "monitor_ticks_total",
			Help:      "Number of enforcement monitor tick evaluations.",
		}),
	}

	reg.MustRegister(r.blocksSealed, r.appendLatency, r.violationsByKind, r.phaseTransitions, r.monitorTicks)
	return r
}

// ObserveBlockSealed increments the sealed-block counter. Safe on nil.
func (r *Registry) ObserveBlockSealed() {
	if r == nil {
		return
	}
	r.blocksSealed.Inc()
}

// ObserveAppendLatencySeconds records one ledger Append's latency. Safe on nil.
func (r *Registry) ObserveAppendLatencySeconds(seconds float64) {
	if r == nil {
		return
	}
	r.appendLatency.Observe(seconds)
}

// ObserveViolation increments the violations counter for kind. Safe on nil.
func (r *Registry) ObserveViolation(kind string) {
	if r == nil {
		return
	}
	r.violationsByKind.WithLabelValues(kind).Inc()
}

// ObservePhaseTransition increments the phase-transition counter. Safe on nil.
func (r *Registry) ObservePhaseTransition(from, to string) {
	if r == nil {
		return
	}
	r.phaseTransitions.WithLabelValues(from, to).Inc()
}

// ObserveMonitorTick increments the monitor tick counter. Safe on nil.
func (r *Registry) ObserveMonitorTick() {
	if r == nil {
		return
	}
	r.monitorTicks.Inc()
}

// Handler exposes the registry over HTTP in the standard Prometheus
// text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
