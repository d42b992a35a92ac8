package verify

import (
	"github.com/stretchr/testify/require"
	"math"
	"testing"
)

func TestClose(t *testing.T) {
	require.NoError(t, Close([]float64{1, 2, 3}, []float64{1, 2, 3}, 0))
	require.NoError(t, Close([]float32{1.03, 100}, []float32{1, 101}, 0.02))
	require.NoError(t, Close([]float64{}, []float64{}, 0.1))

	err := Close([]float64{1, 2.5, 3}, []float64{1, 2, 3}, 0.1)
	require.ErrorContains(t, err, "value #1")
	err = Close([]float64{1}, []float64{1, 2}, 0.1)
	require.ErrorContains(t, err, "got 1 values, want 2")
	require.Error(t, Close([]float64{math.NaN()}, []float64{math.NaN()}, 1))
	require.Error(t, Close([]float64{1}, []float64{1}, -1))

	// Relative part of the tolerance.
	require.NoError(t, Close([]float64{1100}, []float64{1000}, 0.1))
	require.Error(t, Close([]float64{1200}, []float64{1000}, 0.1))
}

func TestMaxDiff(t *testing.T) {
	require.InDelta(t, 0.5, MaxDiff([]float32{1, 2.5, 3}, []float32{1, 2, 3.25}), 1e-6)
	require.Equal(t, 0.0, MaxDiff([]float64{1}, nil))
}

type recordingT struct {
	failed bool
}

func (r *recordingT) Errorf(format string, args ...any) {}
func (r *recordingT) FailNow()                          { r.failed = true }

func TestRequireClose(t *testing.T) {
	RequireClose(t, []float64{1}, []float64{1.01}, 0.1)
	rec := &recordingT{}
	RequireClose(rec, []float64{1}, []float64{2}, 0.1)
	require.True(t, rec.failed)
}
