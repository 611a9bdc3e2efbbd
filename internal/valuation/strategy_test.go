package valuation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMovingAverageBlendsIncoming(t *testing.T) {
	s := State{Qty: 50, Rate: 100, Value: 5000}

	out, err := ApplyMovingAverage(s, Movement{Qty: 25, IncomingRate: 900}, nil)
	require.NoError(t, err)
	require.InDelta(t, 75, out.Qty, 1e-9)
	require.InDelta(t, 366.67, Round(out.Rate, 2), 1e-9)
	require.InDelta(t, 27500, Round(out.Value, 2), 1e-6)
}

func TestMovingAverageOutgoingKeepsRate(t *testing.T) {
	s := State{Qty: 10, Rate: 120, Value: 1200}

	out, err := ApplyMovingAverage(s, Movement{Qty: -4}, nil)
	require.NoError(t, err)
	require.InDelta(t, 6, out.Qty, 1e-9)
	require.InDelta(t, 120, out.Rate, 1e-9)
	require.InDelta(t, 720, out.Value, 1e-9)
}

func TestMovingAverageNegativeUsesOutgoingRate(t *testing.T) {
	s := State{Qty: 2, Rate: 100, Value: 200}

	out, err := ApplyMovingAverage(s, Movement{Qty: -5, OutgoingRate: 90}, nil)
	require.NoError(t, err)
	require.InDelta(t, -3, out.Qty, 1e-9)
	require.InDelta(t, 90, out.Rate, 1e-9)
}

func TestMovingAverageNegativeFallsBack(t *testing.T) {
	out, err := ApplyMovingAverage(State{}, Movement{Qty: -5}, func() (float64, error) { return 42, nil })
	require.NoError(t, err)
	require.InDelta(t, 42, out.Rate, 1e-9)
	require.InDelta(t, -210, out.Value, 1e-9)
}

func TestQueueStateTracksValue(t *testing.T) {
	s := State{}
	var err error
	s, err = ApplyQueue(MethodFIFO, s, Movement{Qty: 10, IncomingRate: 100}, nil)
	require.NoError(t, err)
	s, err = ApplyQueue(MethodFIFO, s, Movement{Qty: 10, IncomingRate: 200}, nil)
	require.NoError(t, err)
	require.InDelta(t, 150, s.Rate, 1e-9)

	s, err = ApplyQueue(MethodFIFO, s, Movement{Qty: -15}, nil)
	require.NoError(t, err)
	require.InDelta(t, 5, s.Qty, 1e-9)
	require.InDelta(t, 1000, s.Value, 1e-9)
	require.InDelta(t, 200, s.Rate, 1e-9)

	s, err = ApplyQueue(MethodFIFO, s, Movement{Qty: -5}, nil)
	require.NoError(t, err)
	require.Equal(t, 0.0, s.Qty)
	require.Equal(t, 0.0, s.Value)
	require.Equal(t, Queue{{Qty: 0, Rate: 200}}, s.Queue)
}

func TestBatchUsesBatchRateForIssues(t *testing.T) {
	s := State{Qty: 10, Rate: 10, Value: 100}

	out, err := ApplyBatch(s, Movement{Qty: -4}, func() (float64, bool, error) { return 12, true, nil }, nil)
	require.NoError(t, err)
	require.InDelta(t, 6, out.Qty, 1e-9)
	require.InDelta(t, 52, out.Value, 1e-9)

	out, err = ApplyBatch(s, Movement{Qty: -4}, func() (float64, bool, error) { return 0, false, nil }, func() (float64, error) { return 5, nil })
	require.NoError(t, err)
	require.InDelta(t, 80, out.Value, 1e-9)
}

func TestSerializedIssueKeepsPositiveRate(t *testing.T) {
	s := State{Qty: 2, Rate: 500, Value: 1000}

	out, err := ApplySerialized(s, -1, -400, nil)
	require.NoError(t, err)
	require.InDelta(t, 1, out.Qty, 1e-9)
	require.InDelta(t, 600, out.Rate, 1e-9)
}

func TestReconciliationResetsQueue(t *testing.T) {
	s := State{Qty: 18, Rate: 90, Value: 1620, Queue: Queue{{Qty: 18, Rate: 90}}}

	out := ApplyReconciliation(MethodFIFO, s, 6, 100)
	require.Equal(t, Queue{{Qty: 6, Rate: 100}}, out.Queue)
	require.InDelta(t, 600, out.Value, 1e-9)

	avg := ApplyReconciliation(MethodMovingAverage, s, 6, 100)
	require.Equal(t, s.Queue, avg.Queue)
}

func TestRoundAndClamp(t *testing.T) {
	require.Equal(t, 1.24, Round(1.235, 2))
	require.Equal(t, 0.0, ClampNearZero(0.00009))
	require.Equal(t, -0.0002, ClampNearZero(-0.0002))
	require.True(t, IsNegative(-0.5, 2))
	require.False(t, IsNegative(-0.00001, 3))
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("moving average")
	require.NoError(t, err)
	require.Equal(t, MethodMovingAverage, m)

	_, err = ParseMethod("weighted")
	require.ErrorIs(t, err, ErrUnknownMethod)
}
