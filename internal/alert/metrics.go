package alert

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the core's health counters, surfaced at /metrics for
// the §7 Overload error kind (persistent subscriber backpressure) and
// general operational visibility.
type Metrics struct {
	registry *prometheus.Registry

	AlertsDropped         prometheus.Counter
	AlertsPublished       *prometheus.CounterVec
	PersistenceErrors     *prometheus.CounterVec
	BroadcastCoalesced    prometheus.Counter
	DeconflictEvaluations prometheus.Counter
	MissionsRejected      *prometheus.CounterVec
	DriverCommandFailures prometheus.Counter
}

// NewMetrics builds and registers the core's counters against a fresh
// registry, following the pack's own-registry-plus-promhttp-handler
// pattern.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetcore_alerts_dropped_total",
			Help: "Alerts dropped because the alert channel was full.",
		}),
		AlertsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetcore_alerts_published_total",
			Help: "Alerts published by event type.",
		}, []string{"event"}),
		PersistenceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetcore_persistence_errors_total",
			Help: "Persistence operation failures by kind and classification.",
		}, []string{"op", "class"}),
		BroadcastCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetcore_broadcast_coalesced_total",
			Help: "Snapshots dropped in favor of a newer one due to a slow subscriber.",
		}),
		DeconflictEvaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetcore_deconflict_evaluations_total",
			Help: "Deconfliction engine evaluations performed.",
		}),
		MissionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetcore_missions_rejected_total",
			Help: "Missions rejected at admission by reason.",
		}, []string{"reason"}),
		DriverCommandFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetcore_driver_command_failures_total",
			Help: "Driver command failures across all vehicles.",
		}),
	}

	reg.MustRegister(
		m.AlertsDropped,
		m.AlertsPublished,
		m.PersistenceErrors,
		m.BroadcastCoalesced,
		m.DeconflictEvaluations,
		m.MissionsRejected,
		m.DriverCommandFailures,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CounterValue extracts the current numeric value of a Prometheus
// counter, for callers (the statistics endpoint) that need a single
// counter's value folded into a JSON response rather than scraped at
// /metrics.
func CounterValue(c prometheus.Counter) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}
