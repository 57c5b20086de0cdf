// Package metrics holds the Prometheus metrics of the development identity
// provider. Every Server owns its own registry so tests never share counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Token issue reasons.
const (
	ReasonLogin    = "login"
	ReasonRegister = "register"
	ReasonRenewal  = "renewal"
	ReasonRefresh  = "refresh"
)

// Metrics holds all identity provider metrics
type Metrics struct {
	// LoginAttempts counts logins by outcome (success, invalid_credentials,
	// invalid_input).
	LoginAttempts *prometheus.CounterVec
	// TokensIssued counts signed tokens by reason.
	TokensIssued *prometheus.CounterVec
	// Rejections counts 401 and 403 answers by status and route.
	Rejections *prometheus.CounterVec
	// RequestDuration observes handler latency.
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		LoginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fakeidp_login_attempts_total",
				Help: "Total number of login attempts",
			},
			[]string{"result"},
		),
		TokensIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fakeidp_tokens_issued_total",
				Help: "Total number of tokens issued",
			},
			[]string{"reason"},
		),
		Rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fakeidp_rejections_total",
				Help: "Total number of requests answered with 401 or 403",
			},
			[]string{"status", "route"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fakeidp_request_duration_seconds",
				Help:    "Request handling duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

// NewRegistry creates a new Prometheus registry with metrics
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}

// HandlerFor returns an HTTP handler for a specific registry
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
