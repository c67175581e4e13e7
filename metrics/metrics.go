// Package metrics exposes prometheus instrumentation for flows and datastores.
package metrics

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/pay-commons/txflow/flow"
)

// Registry holds all metrics for the application
type Registry struct {
	// Flow Metrics
	StepsTotal     *prometheus.CounterVec
	StepDuration   *prometheus.HistogramVec
	ConflictsTotal *prometheus.CounterVec

	// Store Metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

var _ flow.Observer = (*Registry)(nil)

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})

	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initFlowMetrics()
	r.initStoreMetrics()

	return r
}

func (r *Registry) initFlowMetrics() {
	r.StepsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txflow_steps_total",
			Help: "Total number of executed flow steps",
		},
		[]string{"intent", "outcome"},
	)

	r.StepDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txflow_step_duration_seconds",
			Help:    "Flow step duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"intent"},
	)

	r.ConflictsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txflow_conflicts_total",
			Help: "Total number of flow steps that hit a version conflict",
		},
		[]string{"intent"},
	)
}

func (r *Registry) initStoreMetrics() {
	r.StoreOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txflow_store_operations_total",
			Help: "Total number of datastore operations",
		},
		[]string{"operation", "status"},
	)

	r.StoreOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txflow_store_operation_duration_seconds",
			Help:    "Datastore operation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)
}

// ObserveStep records a flow step. Steps rejected before running have no intent and are counted
// under "none".
func (r *Registry) ObserveStep(intent flow.Intent, outcome flow.Outcome, elapsed time.Duration) {
	label := "none"
	if intent != 0 {
		label = intent.String()
	}

	r.StepsTotal.WithLabelValues(label, string(outcome)).Inc()
	if outcome == flow.OutcomeInvalid {
		return
	}
	r.StepDuration.WithLabelValues(label).Observe(elapsed.Seconds())

	if outcome == flow.OutcomeConflict {
		r.ConflictsTotal.WithLabelValues(label).Inc()
	}
}

// RecordStoreOperation records a datastore operation
func (r *Registry) RecordStoreOperation(operation, status string, duration time.Duration) {
	r.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	r.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// WriteText writes every metric in the prometheus text exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric family %s: %w", mf.GetName(), err)
		}
	}

	return nil
}
