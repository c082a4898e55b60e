// Package validation implements the seeded statistical validation suite:
// permutation test, simple and adaptive (HADJ-BB) block bootstrap,
// Monte-Carlo slippage stress, and walk-forward evaluation. Every method is
// deterministic given (seed, n_iter, inputs), and distributions are prefix
// stable: raising n_iter with the same seed extends the distribution without
// altering earlier positions.
package validation

import (
	exprand "golang.org/x/exp/rand"
)

// seedModulus bounds derived seeds to a positive int32 range.
const seedModulus = 2_147_483_647

// SubSeed derives the seed for sub-computation i from a base seed:
// (base + i*9973) mod 2_147_483_647.
func SubSeed(base int64, i int) int64 {
	s := (base + int64(i)*9973) % seedModulus
	if s < 0 {
		s += seedModulus
	}
	return s
}

// trialRNG returns the RNG for trial i of a method. Per-trial seeding is
// what makes distributions prefix stable and safe to fill from parallel
// workers into a fixed-index array.
func trialRNG(methodSeed int64, i int) *exprand.Rand {
	return exprand.New(exprand.NewSource(uint64(SubSeed(methodSeed, i+1))))
}

// newSource builds the gonum-compatible RNG source for a derived seed.
func newSource(seed int64) exprand.Source {
	return exprand.NewSource(uint64(seed))
}
