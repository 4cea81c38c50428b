// Package metrics provides Prometheus metrics for the loader subsystem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the loader's Prometheus metrics. A nil *Collector is valid
// and records nothing, so callers never need to guard their observations.
type Collector struct {
	registry *prometheus.Registry

	validations  *prometheus.CounterVec
	keyFetches   *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	decisions    *prometheus.CounterVec
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gantry_license_validations_total",
			Help: "License validation outcomes by state.",
		}, []string{"state"}),
		keyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gantry_key_fetches_total",
			Help: "Registry key fetch attempts by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gantry_key_cache_lookups_total",
			Help: "Key cache lookups by result (bundled, fresh, stale_rescue).",
		}, []string{"result"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gantry_load_decisions_total",
			Help: "Load decisions by outcome (admitted, unresolved).",
		}, []string{"outcome"}),
	}

	c.registry.MustRegister(c.validations, c.keyFetches, c.cacheLookups, c.decisions)
	return c
}

// Handler returns an HTTP handler exposing the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Validation records a validation outcome.
func (c *Collector) Validation(state string) {
	if c == nil {
		return
	}
	c.validations.WithLabelValues(state).Inc()
}

// KeyFetch records a registry fetch attempt.
func (c *Collector) KeyFetch(outcome string) {
	if c == nil {
		return
	}
	c.keyFetches.WithLabelValues(outcome).Inc()
}

// CacheLookup records a key cache lookup result.
func (c *Collector) CacheLookup(result string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// Decision records a load decision outcome.
func (c *Collector) Decision(outcome string) {
	if c == nil {
		return
	}
	c.decisions.WithLabelValues(outcome).Inc()
}
