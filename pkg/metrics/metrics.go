package metrics

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var metrics *Metrics

var errRegisterMetric = errors.New("failed to register metric")

// Label cache lookup results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Metrics holds the Prometheus collectors for registry lookups.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests   *prometheus.CounterVec // Requests by host and status.
	hostErrors *prometheus.CounterVec // Host-fatal failures by host.
	labelCache *prometheus.CounterVec // Label cache lookups by result.
	lookups    *prometheus.CounterVec // Public lookups by operation.
}

// NewWithRegistry creates a new Metrics handler with a custom Prometheus registry.
//
// Parameters:
//   - registry: Prometheus registerer to use for metric registration.
//
// Returns:
//   - (*Metrics, error): Metrics handler, or an error if a collector is already registered.
func NewWithRegistry(registry prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regscout_registry_requests_total",
			Help: "Number of HTTP requests sent to registries and token services",
		}, []string{"host", "status"}),
		hostErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regscout_registry_host_errors_total",
			Help: "Number of host-fatal registry failures",
		}, []string{"host"}),
		labelCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regscout_label_cache_lookups_total",
			Help: "Number of image label cache lookups",
		}, []string{"result"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regscout_lookups_total",
			Help: "Number of registry lookups by operation",
		}, []string{"operation"}),
	}

	metricsList := []prometheus.Collector{
		metrics.requests,
		metrics.hostErrors,
		metrics.labelCache,
		metrics.lookups,
	}
	for _, m := range metricsList {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("%w: %w", errRegisterMetric, err)
		}
	}

	return metrics, nil
}

// Default initializes or returns the singleton Metrics handler registered against
// the default Prometheus registry. It panics on registration failure.
func Default() *Metrics {
	if metrics != nil {
		return metrics
	}

	var err error

	metrics, err = NewWithRegistry(prometheus.DefaultRegisterer)
	if err != nil {
		panic(err)
	}

	return metrics
}

// ObserveRequest records a completed request. A zero status means no response was received.
func (m *Metrics) ObserveRequest(host string, status int) {
	if m == nil {
		return
	}

	label := "error"
	if status != 0 {
		label = strconv.Itoa(status)
	}

	m.requests.WithLabelValues(host, label).Inc()
}

// ObserveHostError records a host-fatal failure.
func (m *Metrics) ObserveHostError(host string) {
	if m == nil {
		return
	}

	m.hostErrors.WithLabelValues(host).Inc()
}

// ObserveLabelCache records a label cache lookup; result is CacheHit or CacheMiss.
func (m *Metrics) ObserveLabelCache(result string) {
	if m == nil {
		return
	}

	m.labelCache.WithLabelValues(result).Inc()
}

// ObserveLookup records a public lookup operation such as "digest" or "labels".
func (m *Metrics) ObserveLookup(operation string) {
	if m == nil {
		return
	}

	m.lookups.WithLabelValues(operation).Inc()
}
