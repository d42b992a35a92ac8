// Package verify compares numeric results, typically of the same computation run on different
// backends or with different precision policies.
package verify

import (
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
	"math"
)

// Close returns nil if every value of got is close to the corresponding value of want:
//
//	|got[i] - want[i]| <= tol + tol * |want[i]|
//
// Otherwise, it returns an error naming the first offending index. NaN is never close to anything.
// Both series are logged at verbosity level 1.
func Close[T constraints.Float](got, want []T, tol float64) error {
	klog.V(1).Infof("verify: got  %v", got)
	klog.V(1).Infof("verify: want %v", want)
	if len(got) != len(want) {
		return errors.Errorf("verify: got %d values, want %d", len(got), len(want))
	}
	if tol < 0 || math.IsNaN(tol) {
		return errors.Errorf("verify: invalid tolerance %g", tol)
	}
	for ii := range got {
		g, w := float64(got[ii]), float64(want[ii])
		if !(math.Abs(g-w) <= tol+tol*math.Abs(w)) {
			return errors.Errorf("verify: value #%d: got %g, want %g (tolerance %g)", ii, g, w, tol)
		}
	}
	return nil
}

// MaxDiff returns the largest absolute difference between got and want, over their common length.
func MaxDiff[T constraints.Float](got, want []T) float64 {
	var maxDiff float64
	for ii := range min(len(got), len(want)) {
		maxDiff = max(maxDiff, math.Abs(float64(got[ii])-float64(want[ii])))
	}
	return maxDiff
}

// RequireClose fails the test immediately if got is not Close to want.
func RequireClose[T constraints.Float](t require.TestingT, got, want []T, tol float64, msgAndArgs ...any) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	require.NoError(t, Close(got, want, tol), msgAndArgs...)
}
