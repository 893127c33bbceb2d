// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains custom Prometheus metrics for Taskboard.
type Metrics struct {
	AuthOperationsTotal *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ResetTokensSwept    prometheus.Counter
}

// NewMetrics creates and registers custom Taskboard metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_auth_operations_total",
				Help: "Total number of auth operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_http_requests_total",
				Help: "Total number of HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskboard_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ResetTokensSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "taskboard_reset_tokens_swept_total",
				Help: "Total number of expired password reset tokens cleared",
			},
		),
	}

	reg.MustRegister(m.AuthOperationsTotal)
	reg.MustRegister(m.HTTPRequestsTotal)
	reg.MustRegister(m.HTTPRequestDuration)
	reg.MustRegister(m.ResetTokensSwept)

	return m
}

// RecordAuth counts one auth operation outcome.
func (m *Metrics) RecordAuth(operation, outcome string) {
	m.AuthOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveHTTP records a finished HTTP request.
func (m *Metrics) ObserveHTTP(route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordSwept counts reset tokens removed by the janitor.
func (m *Metrics) RecordSwept(n int64) {
	if n > 0 {
		m.ResetTokensSwept.Add(float64(n))
	}
}
