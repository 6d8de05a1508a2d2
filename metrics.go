package gincerbos

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric label values.
const (
	resultAllowed = "allowed"
	resultDenied  = "denied"
	resultError   = "error"
)

// Hook denial reasons.
const (
	reasonDenied    = "denied"
	reasonNoLoader  = "no_loader"
	reasonLoadError = "load_error"
	reasonError     = "error"
)

// Metrics contains plugin metrics.
type Metrics struct {
	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	hookDenials   *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
}

// NewMetrics creates plugin metrics registered with the default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates plugin metrics registered with registerer.
// Collectors already registered under the same name are reused.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{}

	m.checksTotal = register(registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cerbos",
			Name:      "checks_total",
			Help:      "Total number of Cerbos authorization checks",
		},
		[]string{"transport", "result"},
	))

	m.checkDuration = register(registerer, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cerbos",
			Name:      "check_duration_seconds",
			Help:      "Cerbos authorization check duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"transport"},
	))

	m.cacheHits = register(registerer, prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cerbos",
			Name:      "cache_hits_total",
			Help:      "Total number of decision cache hits",
		},
	))

	m.cacheMisses = register(registerer, prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cerbos",
			Name:      "cache_misses_total",
			Help:      "Total number of decision cache misses",
		},
	))

	m.hookDenials = register(registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cerbos",
			Name:      "hook_denials_total",
			Help:      "Total number of requests rejected by the pre-handler hook",
		},
		[]string{"reason"},
	))

	m.breakerState = register(registerer, prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cerbos",
			Name:      "circuit_breaker_state",
			Help:      "Cerbos circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	))

	return m
}

// register registers c, returning the already registered collector when
// one with the same description exists.
func register[T prometheus.Collector](registerer prometheus.Registerer, c T) T {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// Init pre-initializes label combinations so series appear immediately.
func (m *Metrics) Init(transport string) {
	if m == nil {
		return
	}
	for _, result := range []string{resultAllowed, resultDenied, resultError} {
		m.checksTotal.WithLabelValues(transport, result)
	}
	m.checkDuration.WithLabelValues(transport)
	for _, reason := range []string{reasonDenied, reasonNoLoader, reasonLoadError, reasonError} {
		m.hookDenials.WithLabelValues(reason)
	}
}

// RecordCheck records a remote check.
func (m *Metrics) RecordCheck(transport, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(transport, result).Inc()
	m.checkDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

// RecordCacheHit records a decision cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss records a decision cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// RecordHookDenial records a request rejected by the hook.
func (m *Metrics) RecordHookDenial(reason string) {
	if m == nil {
		return
	}
	m.hookDenials.WithLabelValues(reason).Inc()
}

// SetBreakerState records a circuit breaker state by name.
func (m *Metrics) SetBreakerState(name, state string) {
	if m == nil {
		return
	}
	var value float64
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(name).Set(value)
}
