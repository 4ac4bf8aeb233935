package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "openils"
)

// Dispatch outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeUnresolved  = "unresolved"
	OutcomeUnsupported = "unsupported"
)

var (
	dispatchDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// Dispatch Metrics
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_total",
		Help:      "Count of catalog operations routed to a backend.",
	}, []string{"backend", "operation", "outcome"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Time taken for a dispatched catalog operation to complete.",
		Buckets:   dispatchDurationBuckets,
	}, []string{"operation"})

	BatchItemsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_items_dropped_total",
		Help:      "Number of batch items omitted from a merged result.",
	}, []string{"operation", "reason"})

	// Connector Lifecycle Metrics
	ConnectorSetupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connector_setup_total",
		Help:      "Count of connector configuration and setup attempts.",
	}, []string{"backend", "connector_type", "status"})

	ConnectorsInitialized = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connectors_initialized",
		Help:      "Number of cached connectors that completed setup.",
	})
)
