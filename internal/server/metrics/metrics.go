// Package metrics exposes the server's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cfghost"

// Inconsistency kinds.
const (
	MissingArtifact  = "missing_artifact"
	ChecksumMismatch = "checksum_mismatch"
	OrphanEntry      = "orphan_entry"
	OrphanArtifact   = "orphan_artifact"
)

// Collector holds every metric the server records. A nil *Collector is
// valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	Publishes           *prometheus.CounterVec
	Fetches             *prometheus.CounterVec
	Inconsistencies     *prometheus.CounterVec
	StagingSwept        prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Config publish attempts by outcome.",
		}, []string{"outcome"}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Config fetches by outcome.",
		}, []string{"outcome"}),
		Inconsistencies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_inconsistencies_total",
			Help:      "Catalog entries found without a matching artifact, or with a bad checksum.",
		}, []string{"kind"}),
		StagingSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staging_swept_total",
			Help:      "Stale staged uploads removed by the janitor.",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.Publishes,
		c.Fetches,
		c.Inconsistencies,
		c.StagingSwept,
		c.HTTPRequestsTotal,
		c.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordPublish(outcome string) {
	if c == nil {
		return
	}
	c.Publishes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordFetch(outcome string) {
	if c == nil {
		return
	}
	c.Fetches.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordInconsistency(kind string) {
	if c == nil {
		return
	}
	c.Inconsistencies.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordSwept(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.StagingSwept.Add(float64(n))
}

func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
