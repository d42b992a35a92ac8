// Package seeded runs tests with a seeded random number generator, and reports the seed when they
// fail, so the failure can be reproduced.
//
// Tests get their own *rand.Rand: the global generators are never seeded or changed, so tests using
// this package can run in parallel with anything else.
//
// Example:
//
//	func TestSomething(t *testing.T) {
//		t.Run("fixed", seeded.WithSeed(42, func(t *testing.T, rng *rand.Rand) { ... }))
//		t.Run("random", seeded.WithRandomSeed(func(t *testing.T, rng *rand.Rand) { ... }))
//	}
package seeded

import (
	"k8s.io/klog/v2"
	"math/rand/v2"
	"testing"
)

// TestFn is a test function that takes a seeded random number generator.
type TestFn func(t *testing.T, rng *rand.Rand)

// New returns a random number generator seeded with seed.
func New(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// WithSeed returns a test function that runs fn with a random number generator seeded with seed.
func WithSeed(seed uint64, fn TestFn) func(t *testing.T) {
	return func(t *testing.T) {
		klog.Infof("%s: seed=%d", t.Name(), seed)
		run(t, seed, fn)
	}
}

// WithRandomSeed returns a test function that runs fn with a random number generator seeded with a
// new random seed on each run. The seed is logged if the test fails.
func WithRandomSeed(fn TestFn) func(t *testing.T) {
	return func(t *testing.T) {
		seed := rand.Uint64()
		klog.V(1).Infof("%s: random seed=%d", t.Name(), seed)
		run(t, seed, fn)
	}
}

func run(t *testing.T, seed uint64, fn TestFn) {
	t.Helper()
	defer func() {
		// t.FailNow exits with runtime.Goexit, in which case there is nothing to recover but the test failed.
		if r := recover(); r != nil {
			klog.Warningf("%s panicked, use seed=%d to reproduce", t.Name(), seed)
			panic(r)
		}
		if t.Failed() {
			klog.Warningf("%s failed, use seed=%d to reproduce", t.Name(), seed)
			t.Logf("seed=%d", seed)
		}
	}()
	fn(t, New(seed))
}
