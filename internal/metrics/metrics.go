package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the core's metrics on a private prometheus registry, so an
// embedding host process never sees collisions with its own collectors.
// A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	Requests       *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	AuthRetries    *prometheus.CounterVec
	TokensIssued   prometheus.Counter
	BoundaryCalls  *prometheus.CounterVec
}

// New creates a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vpncore_requests_total",
			Help: "Backend requests by operation and outcome",
		}, []string{"operation", "outcome"}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vpncore_request_duration_seconds",
			Help:    "Backend request latency including the auth retry",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		AuthRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vpncore_auth_retries_total",
			Help: "Requests retried after the backend rejected the bearer token",
		}, []string{"operation"}),
		TokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "vpncore_tokens_issued_total",
			Help: "Bearer tokens issued",
		}),
		BoundaryCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vpncore_boundary_calls_total",
			Help: "C boundary calls by function and result",
		}, []string{"call", "result"}),
	}
}

// Gatherer exposes the registry for scraping or dumping.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// ObserveRequest records one logical request.
func (r *Registry) ObserveRequest(operation, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.Requests.WithLabelValues(operation, outcome).Inc()
	r.RequestLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveAuthRetry records a reissue-and-retry.
func (r *Registry) ObserveAuthRetry(operation string) {
	if r == nil {
		return
	}
	r.AuthRetries.WithLabelValues(operation).Inc()
}

// ObserveTokenIssued records a newly issued token.
func (r *Registry) ObserveTokenIssued() {
	if r == nil {
		return
	}
	r.TokensIssued.Inc()
}

// ObserveBoundaryCall records a C boundary call.
func (r *Registry) ObserveBoundaryCall(call string, ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "null"
	}
	r.BoundaryCalls.WithLabelValues(call, result).Inc()
}
