package depositcore

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.recordOutcome("confirmed", "")
		m.sendAttempt("ok")
		m.setMaxFee(12.5)
		m.setCapacity(3)
		m.setProcessed(1)
		m.observeConfirmWait(6)
	})
}

func TestMetrics_RecordsOnRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.recordOutcome("skipped", "already_done")
	m.recordOutcome("skipped", "already_done")
	m.sendAttempt("underpriced")
	m.setCapacity(7)
	m.setMaxFee(61.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.records.WithLabelValues("skipped", "already_done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sendAttempts.WithLabelValues("underpriced")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.capacity))
	assert.Equal(t, 61.5, testutil.ToFloat64(m.maxFeeGwei))

	n, err := testutil.GatherAndCount(reg, "deposit_batch_records_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
