package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	SessionCacheLookups  *prometheus.CounterVec
	EmailsTotal          *prometheus.CounterVec
	RefreshTokensCleared prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contacts_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contacts_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		SessionCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contacts_session_cache_lookups_total",
				Help: "Session cache lookups by result",
			},
			[]string{"result"},
		),
		EmailsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contacts_emails_total",
				Help: "Account emails by template and outcome",
			},
			[]string{"template", "outcome"},
		),
		RefreshTokensCleared: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "contacts_refresh_tokens_cleared_total",
				Help: "Expired refresh tokens removed by maintenance",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SessionCacheLookups,
		m.EmailsTotal,
		m.RefreshTokensCleared,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) ObserveSessionCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.SessionCacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEmail(template string, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.EmailsTotal.WithLabelValues(template, outcome).Inc()
}

func (m *Metrics) ObserveRefreshTokensCleared(n int64) {
	m.RefreshTokensCleared.Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
