package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)
	var total float64
	for m := range ch {
		var dtoMetric dto.Metric
		require.NoError(t, m.Write(&dtoMetric))
		if dtoMetric.Counter != nil {
			total += dtoMetric.Counter.GetValue()
		}
	}
	return total
}

func TestRecordRequestProcessed(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg, "staging")

	r.RecordRequestProcessed("COMPLETED")
	r.RecordRequestProcessed("FAILED")

	assert.Equal(t, float64(2), counterValue(t, r.requestsProcessed))
}

func TestRecordPartitionsRewrittenIgnoresNonPositive(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg, "staging")

	r.RecordPartitionsRewritten(0)
	r.RecordPartitionsRewritten(3)

	assert.Equal(t, float64(3), counterValue(t, r.partitionsRewritten))
}

func TestRecordFailureByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg, "staging")

	r.RecordFailure("LOCATOR_QUERY_FAILED")
	r.RecordFailure("LOCATOR_QUERY_FAILED")
	r.RecordFailure("WAREHOUSE_DELETE_FAILED")

	assert.Equal(t, float64(3), counterValue(t, r.erasureFailures))
}

func TestDoubleRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NotPanics(t, func() {
		New(reg, "staging")
		New(reg, "staging")
	})
}
