// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inviteauth"

var histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// Metrics records token and HTTP outcomes. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	tokensIssued    *prometheus.CounterVec
	tokenConsumes   *prometheus.CounterVec
	tokensPurged    prometheus.Counter
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	gatherer        prometheus.Gatherer
}

// New creates the collectors and registers them with reg. Collectors
// that are already registered are reused.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "issued_total",
			Help:      "Number of verification tokens issued",
		}, []string{"purpose"}),
		tokenConsumes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "consume_results_total",
			Help:      "Outcomes of verification token consumption",
		}, []string{"purpose", "result"}),
		tokensPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "purged_total",
			Help:      "Number of expired verification tokens purged",
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		gatherer: gatherer,
	}

	m.tokensIssued = register(reg, m.tokensIssued)
	m.tokenConsumes = register(reg, m.tokenConsumes)
	m.tokensPurged = register(reg, m.tokensPurged)
	m.requestTotal = register(reg, m.requestTotal)
	m.requestDuration = register(reg, m.requestDuration)
	return m
}

// NewDefault registers with the global Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// TokenIssued counts an issued token.
func (m *Metrics) TokenIssued(purpose string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(purpose).Inc()
}

// TokenConsumed counts a consumption attempt. result is "ok" or the
// rejection kind.
func (m *Metrics) TokenConsumed(purpose, result string) {
	if m == nil {
		return
	}
	m.tokenConsumes.WithLabelValues(purpose, result).Inc()
}

// TokensPurged adds n purged tokens.
func (m *Metrics) TokensPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensPurged.Add(float64(n))
}

// ObserveRequest records one handled HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestDuration.With(labels).Observe(d.Seconds())
}

// Handler serves the exposition format for the gatherer.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
