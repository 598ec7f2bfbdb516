// Package metrics exposes Prometheus counters for the playground proxies and the
// resource server guard.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded for proxied calls.
const (
	OutcomePassThrough = "pass_through"
	OutcomeError       = "error"
	OutcomeRedirect    = "redirect"
	OutcomeBadRequest  = "bad_request"
)

// Guard decisions.
const (
	DecisionAuthorized   = "authorized"
	DecisionUnauthorized = "unauthorized"
	DecisionForbidden    = "forbidden"
)

type Metrics struct {
	ProxyRequests  *prometheus.CounterVec
	ProxyDuration  *prometheus.HistogramVec
	GuardDecisions *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the playground metrics on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		ProxyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playground_proxy_requests_total",
			Help: "Proxied identity provider calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		ProxyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playground_proxy_duration_seconds",
			Help:    "Latency of proxied identity provider calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		GuardDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playground_guard_decisions_total",
			Help: "Resource server authorization decisions by route",
		}, []string{"route", "decision"}),
		gatherer: reg,
	}
}

// ObserveProxy records one proxied call.
func (m *Metrics) ObserveProxy(endpoint, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(endpoint, outcome).Inc()
	m.ProxyDuration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
}

// ObserveDecision records one guard decision.
func (m *Metrics) ObserveDecision(route, decision string) {
	if m == nil {
		return
	}
	m.GuardDecisions.WithLabelValues(route, decision).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
