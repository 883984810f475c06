// Package metrics exposes rxcouch activity as Prometheus collectors.
//
// Every method is safe on a nil *Metrics, so callers never need to check
// whether metrics were configured.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rxcouch"

type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	polls       *prometheus.CounterVec
	sharedFeeds prometheus.Gauge
	observers   prometheus.Gauge
	fallbacks   *prometheus.CounterVec
}

// New registers the rxcouch collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests sent to CouchDB, by method and status code (0 when no response arrived).",
		}, []string{"method", "code"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_polls_total",
			Help:      "Completed _changes requests, by database.",
		}, []string{"db"}),
		sharedFeeds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shared_feeds_active",
			Help:      "Shared per-database change feeds currently running.",
		}),
		observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers_active",
			Help:      "Document observations currently open.",
		}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_fallbacks_total",
			Help:      "Times a database was switched to the shared feed because the _doc_ids filter was refused.",
		}, []string{"db"}),
	}
	m.registry.MustRegister(m.requests, m.polls, m.sharedFeeds, m.observers, m.fallbacks)
	return m
}

// Registry gives access to the underlying registry, e.g. to add Go runtime collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) ObservePoll(db string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(db).Inc()
}

func (m *Metrics) SharedFeedStarted() {
	if m == nil {
		return
	}
	m.sharedFeeds.Inc()
}

func (m *Metrics) SharedFeedStopped() {
	if m == nil {
		return
	}
	m.sharedFeeds.Dec()
}

func (m *Metrics) ObserverOpened() {
	if m == nil {
		return
	}
	m.observers.Inc()
}

func (m *Metrics) ObserverClosed() {
	if m == nil {
		return
	}
	m.observers.Dec()
}

func (m *Metrics) CapabilityFallback(db string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(db).Inc()
}
