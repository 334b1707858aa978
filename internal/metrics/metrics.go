// Package metrics exposes Prometheus collectors for sync passes and
// governance actions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"archsync/internal/graphsync"
)

// Collectors owns a private registry so tests and multiple instances never
// collide on the global one.
type Collectors struct {
	registry *prometheus.Registry

	syncPasses        *prometheus.CounterVec
	syncSections      *prometheus.CounterVec
	syncPassDuration  prometheus.Histogram
	lastSuccess       prometheus.Gauge
	governanceActions *prometheus.CounterVec
}

func New() *Collectors {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collectors{
		registry: registry,
		syncPasses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archsync_sync_passes_total",
			Help: "Sync passes by final status",
		}, []string{"status"}),
		syncSections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archsync_sync_sections_total",
			Help: "Sections processed by sync passes, by outcome",
		}, []string{"outcome"}),
		syncPassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "archsync_sync_pass_duration_seconds",
			Help:    "Wall time of completed sync passes",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "archsync_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last completed sync pass",
		}),
		governanceActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archsync_governance_actions_total",
			Help: "Governance actions by action and outcome",
		}, []string{"action", "outcome"}),
	}
}

// ObserveSync records one pass. status is the ledger status of the run.
func (c *Collectors) ObserveSync(status string, result graphsync.Result) {
	c.syncPasses.WithLabelValues(status).Inc()
	c.syncSections.WithLabelValues("created").Add(float64(result.Created))
	c.syncSections.WithLabelValues("updated").Add(float64(result.Updated))
	c.syncSections.WithLabelValues("unchanged").Add(float64(result.Unchanged))
	c.syncSections.WithLabelValues("deleted").Add(float64(result.Deleted))
	c.syncSections.WithLabelValues("failed").Add(float64(result.Failed))
	if !result.FinishedAt.IsZero() && status == "completed" {
		c.syncPassDuration.Observe(result.Duration().Seconds())
		c.lastSuccess.Set(float64(result.FinishedAt.Unix()))
	}
}

// ObserveGovernance satisfies governance.Metrics.
func (c *Collectors) ObserveGovernance(action, outcome string) {
	c.governanceActions.WithLabelValues(action, outcome).Inc()
}

func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
