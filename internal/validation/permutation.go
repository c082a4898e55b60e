package validation

import (
	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// PermutationResult reports the permutation test for mean-return
// significance. Samples holds the null means in trial order.
type PermutationResult struct {
	PValue       float64   `json:"p_value"`
	ObservedMean float64   `json:"observed_mean"`
	NullMean     float64   `json:"null_mean"`
	NullStd      float64   `json:"null_std"`
	Samples      []float64 `json:"samples"`
}

// PermutationTest shuffles the per-trade return series n times and reports
// the one-sided p-value of the observed mean against the null means.
func PermutationTest(trades []domain.CompletedTrade, positions []domain.PositionRow, n int, seed int64) *PermutationResult {
	returns := ExtractReturns(trades, positions)
	if len(returns) == 0 {
		return &PermutationResult{PValue: 1, Samples: []float64{}}
	}
	observed := mean(returns)

	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		rng := trialRNG(seed, i)
		shuffled := make([]float64, len(returns))
		copy(shuffled, returns)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		samples[i] = mean(shuffled)
	}
	return &PermutationResult{
		PValue:       oneSidedP(samples, observed),
		ObservedMean: observed,
		NullMean:     mean(samples),
		NullStd:      populationStd(samples),
		Samples:      samples,
	}
}
