package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsRunsAndFailures(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("stock:repost_due").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("stock:repost_due").End(boom), boom)

	require.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("stock:repost_due", "success")), 1e-9)
	require.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("stock:repost_due", "failure")), 1e-9)
	require.InDelta(t, 1, testutil.ToFloat64(m.failures.WithLabelValues("stock:repost_due")), 1e-9)
}

func TestAddOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddOutcomes("stock:repost_due", "completed", 3)
	m.AddOutcomes("stock:repost_due", "completed", 0)
	require.InDelta(t, 3, testutil.ToFloat64(m.outcomes.WithLabelValues("stock:repost_due", "completed")), 1e-9)

	var nilMetrics *Metrics
	nilMetrics.AddOutcomes("x", "y", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
