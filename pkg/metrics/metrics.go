package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "challenge"

// Metrics holds the Prometheus collectors of the service. Each instance owns its
// registry so that several can coexist in one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	ChallengesIssued   *prometheus.CounterVec
	QuotaExhausted     prometheus.Counter
	GeneratorFallbacks *prometheus.CounterVec
	RequestCounter     *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ChallengesIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "challenges_issued_total",
				Help:      "Challenges committed together with a quota charge",
			},
			[]string{"difficulty"},
		),
		QuotaExhausted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_exhausted_total",
				Help:      "Issuance requests rejected because the user had no quota left",
			},
		),
		GeneratorFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generator_fallbacks_total",
				Help:      "Generations answered with the built-in fallback challenge",
			},
			[]string{"reason"},
		),
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
