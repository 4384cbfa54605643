// Package metrics exposes Prometheus counters for the auth operations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation label values.
const (
	OpLogin     = "login"
	OpRefresh   = "refresh"
	OpRevoke    = "revoke"
	OpRevokeAll = "revoke_all"
	OpRegister  = "register"
)

// Result label values.
const (
	ResultSuccess      = "success"
	ResultUnauthorized = "unauthorized"
	ResultNotFound     = "not_found"
	ResultConflict     = "conflict"
	ResultInvalid      = "invalid"
	ResultError        = "error"
)

// Metrics owns a private registry so several servers can live in one
// process (tests). A nil *Metrics records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authkeeper",
		Name:      "auth_operations_total",
		Help:      "Auth operations by operation and outcome.",
	}, []string{"operation", "result"})
	reg.MustRegister(ops)

	return &Metrics{registry: reg, operations: ops}
}

// ObserveAuth counts one finished operation.
func (m *Metrics) ObserveAuth(operation, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

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
