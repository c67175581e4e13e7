package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pay-commons/txflow/datastore"
	"github.com/pay-commons/txflow/flow"
	"github.com/pay-commons/txflow/flow/flowtest"
)

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NotNil(t, r)
	assert.NotNil(t, r.StepsTotal)
	assert.NotNil(t, r.StepDuration)
	assert.NotNil(t, r.ConflictsTotal)
	assert.NotNil(t, r.StoreOperationsTotal)
	assert.NotNil(t, r.StoreOperationDuration)
	assert.NotNil(t, r.GetPrometheusRegistry())
}

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	assert.Same(t, DefaultRegistry(), DefaultRegistry())
}

func TestRegistry_ObserveStep(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.ObserveStep(flow.IntentTransactional, flow.OutcomeStored, 2*time.Millisecond)
	r.ObserveStep(flow.IntentTransactional, flow.OutcomeStored, 3*time.Millisecond)
	r.ObserveStep(flow.IntentTransactional, flow.OutcomeConflict, time.Millisecond)
	r.ObserveStep(flow.IntentPreTransactional, flow.OutcomeEmpty, time.Millisecond)
	r.ObserveStep(0, flow.OutcomeInvalid, 0)

	assert.InDelta(t, 2, testutil.ToFloat64(r.StepsTotal.WithLabelValues("transactional", "stored")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.StepsTotal.WithLabelValues("transactional", "conflict")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.StepsTotal.WithLabelValues("pre-transactional", "empty")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.StepsTotal.WithLabelValues("none", "invalid")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.ConflictsTotal.WithLabelValues("transactional")), 0)

	hist, err := r.StepDuration.GetMetricWithLabelValues("transactional")
	require.NoError(t, err)

	var metric dto.Metric
	require.NoError(t, hist.(interface{ Write(*dto.Metric) error }).Write(&metric))
	assert.Equal(t, uint64(3), metric.GetHistogram().GetSampleCount())

	// invalid steps never ran, no duration is recorded
	assert.Equal(t, 2, testutil.CollectAndCount(r.StepDuration))
}

func TestRegistry_ObservesFlow(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	c := &flowtest.RecordingContext{}

	_, err := flow.New(c, flow.WithObserver(r)).
		ExecuteNext(flow.PreTransactional(flowtest.Value[*flowtest.RecordingContext]("Foo"))).
		ExecuteNext(flow.Transactional(flowtest.Failing[*flowtest.RecordingContext, string](datastore.ErrVersionConflict))).
		Complete()
	require.ErrorIs(t, err, flow.ErrTransactionalConflict)

	assert.InDelta(t, 1, testutil.ToFloat64(r.StepsTotal.WithLabelValues("pre-transactional", "stored")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.ConflictsTotal.WithLabelValues("transactional")), 0)
}

func TestRegistry_WriteText(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.ObserveStep(flow.IntentNonTransactional, flow.OutcomeStored, time.Millisecond)
	r.RecordStoreOperation("get", statusOK, time.Millisecond)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))

	out := buf.String()
	assert.Contains(t, out, "# TYPE txflow_steps_total counter")
	assert.Contains(t, out, `txflow_steps_total{intent="non-transactional",outcome="stored"} 1`)
	assert.Contains(t, out, `txflow_store_operations_total{operation="get",status="ok"} 1`)
	assert.Contains(t, out, "txflow_step_duration_seconds_bucket")
}

func Test_statusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: statusOK},
		{err: fmt.Errorf("key a: %w", datastore.ErrVersionConflict), want: statusConflict},
		{err: fmt.Errorf("key a: %w", datastore.ErrRecordNotFound), want: statusNotFound},
		{err: datastore.ErrRecordExists, want: statusExists},
		{err: errors.New("connection reset"), want: statusError},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, statusOf(tt.err))
		})
	}
}
