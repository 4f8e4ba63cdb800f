// Package metrics exposes dispatch, geocoding and pricing counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metric names.
const (
	MetricNotificationsTotal      = "leadmatch_notifications_total"
	MetricNotificationSeconds     = "leadmatch_notification_duration_seconds"
	MetricGeocodeResolutionsTotal = "leadmatch_geocode_resolutions_total"
	MetricPriceReductionsTotal    = "leadmatch_price_reductions_total"
	MetricMatchRunsTotal          = "leadmatch_match_runs_total"
)

// Collector implements the dispatch and geocode observers on a private registry.
type Collector struct {
	registry        *prometheus.Registry
	notifications   *prometheus.CounterVec
	durations       *prometheus.HistogramVec
	geocodes        *prometheus.CounterVec
	priceReductions prometheus.Counter
	matchRuns       *prometheus.CounterVec
}

// NewCollector registers all metrics. Runtime collectors are included when withRuntime is set.
func NewCollector(withRuntime bool) *Collector {
	registry := prometheus.NewRegistry()
	collector := &Collector{
		registry: registry,
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricNotificationsTotal,
			Help: "Notifications by kind and outcome status.",
		}, []string{"kind", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricNotificationSeconds,
			Help:    "Time spent dispatching one notification.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		geocodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricGeocodeResolutionsTotal,
			Help: "Geocode decisions by coordinate source.",
		}, []string{"decision", "source"}),
		priceReductions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPriceReductionsTotal,
			Help: "Listing updates that lowered the price.",
		}),
		matchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricMatchRunsTotal,
			Help: "Match runs by trigger.",
		}, []string{"trigger"}),
	}
	registry.MustRegister(
		collector.notifications,
		collector.durations,
		collector.geocodes,
		collector.priceReductions,
		collector.matchRuns,
	)
	if withRuntime {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return collector
}

// ObserveDispatch records one finished notification.
func (c *Collector) ObserveDispatch(kind string, status string, elapsed time.Duration) {
	c.notifications.WithLabelValues(kind, status).Inc()
	c.durations.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveGeocode records one coordinate decision.
func (c *Collector) ObserveGeocode(decision string, source string) {
	c.geocodes.WithLabelValues(decision, source).Inc()
}

// ObservePriceReduction records one price drop.
func (c *Collector) ObservePriceReduction() {
	c.priceReductions.Inc()
}

// ObserveMatchRun records one match run.
func (c *Collector) ObserveMatchRun(trigger string) {
	c.matchRuns.WithLabelValues(trigger).Inc()
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
