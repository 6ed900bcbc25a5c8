// Package metrics instruments sync runs and token refreshes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry so tests and embedders do not collide on
// the global one. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry       *prometheus.Registry
	syncRuns       *prometheus.CounterVec
	syncedEvents   *prometheus.CounterVec
	itemErrors     *prometheus.CounterVec
	syncDuration   *prometheus.HistogramVec
	tokenRefreshes *prometheus.CounterVec
}

// NewRecorder registers the sync collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calsync_sync_runs_total",
			Help: "Sync operations by provider, direction and outcome",
		}, []string{"provider", "direction", "outcome"}),
		syncedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calsync_synced_events_total",
			Help: "Events written during sync operations",
		}, []string{"provider", "direction"}),
		itemErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calsync_item_errors_total",
			Help: "Per-item failures collected during sync operations",
		}, []string{"provider", "direction"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calsync_sync_duration_seconds",
			Help:    "Duration of sync operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "direction"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calsync_token_refreshes_total",
			Help: "OAuth refresh-token exchanges by provider and outcome",
		}, []string{"provider", "outcome"}),
	}

	registry.MustRegister(r.syncRuns, r.syncedEvents, r.itemErrors, r.syncDuration, r.tokenRefreshes)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveSync records one finished sync operation.
func (r *Recorder) ObserveSync(provider, direction string, synced, errs int, failed bool, elapsed time.Duration) {
	if r == nil {
		return
	}
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	r.syncRuns.WithLabelValues(provider, direction, outcome).Inc()
	r.syncedEvents.WithLabelValues(provider, direction).Add(float64(synced))
	r.itemErrors.WithLabelValues(provider, direction).Add(float64(errs))
	r.syncDuration.WithLabelValues(provider, direction).Observe(elapsed.Seconds())
}

// ObserveRefresh records a refresh-token exchange.
func (r *Recorder) ObserveRefresh(provider string, ok bool) {
	if r == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	r.tokenRefreshes.WithLabelValues(provider, outcome).Inc()
}
