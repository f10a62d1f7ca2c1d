package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RPCMetrics tracks JSON-RPC handler activity for the order daemon.
type RPCMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// TransitionMetrics counts order lifecycle transitions applied by the engine.
type TransitionMetrics struct {
	transitions *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *RPCMetrics

	transitionMetricsOnce sync.Once
	transitionRegistry    *TransitionMetrics
)

// RPC returns the lazily-initialised registry used to record JSON-RPC
// handler activity.
func RPC() *RPCMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "itr",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "itr",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "itr",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.errors, rpcRegistry.latency)
	})
	return rpcRegistry
}

// Observe records a completed request with the supplied outcome label.
func (m *RPCMetrics) Observe(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	method = normalizeLabel(method)
	m.requests.WithLabelValues(method, normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(method).Observe(seconds)
}

// RecordError increments the error counter for the method and RPC error code.
func (m *RPCMetrics) RecordError(method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(normalizeLabel(method), normalizeLabel(code)).Inc()
}

// Transitions returns the registry counting applied order transitions.
func Transitions() *TransitionMetrics {
	transitionMetricsOnce.Do(func() {
		transitionRegistry = &TransitionMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "itr",
				Subsystem: "orders",
				Name:      "transitions_total",
				Help:      "Count of order lifecycle transitions segmented by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(transitionRegistry.transitions)
	})
	return transitionRegistry
}

// Record increments the transition counter for the supplied kind, e.g.
// "open", "execute", "cancel".
func (m *TransitionMetrics) Record(kind string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(kind)).Inc()
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}
