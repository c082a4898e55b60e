package validation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// BootstrapResult is shared by the simple block bootstrap and HADJ-BB. For
// the simple method Method is "simple" and the adaptive fields are zero.
type BootstrapResult struct {
	Distribution []float64  `json:"distribution"`
	ObservedMean float64    `json:"observed_mean"`
	Mean         float64    `json:"mean"`
	Std          float64    `json:"std"`
	PValue       float64    `json:"p_value"`
	CI           [2]float64 `json:"ci"`
	Trials       int        `json:"trials"`
	Method       string     `json:"method"`
	BlockLength  int        `json:"block_length,omitempty"`
	Jitter       int        `json:"jitter"`
	Fallback     bool       `json:"fallback"`
}

// CIWidth returns high minus low of the confidence interval.
func (r *BootstrapResult) CIWidth() float64 { return r.CI[1] - r.CI[0] }

// BlockBootstrap resamples fixed-size blocks with replacement, preserving
// short-term dependence, and reports the distribution of means.
func BlockBootstrap(trades []domain.CompletedTrade, positions []domain.PositionRow, nIter, blockSize int, seed int64) *BootstrapResult {
	returns := ExtractReturns(trades, positions)
	if len(returns) == 0 {
		return &BootstrapResult{PValue: 1, Method: "simple", Distribution: []float64{}}
	}
	n := len(returns)
	if blockSize < 1 {
		blockSize = 1
	}
	if blockSize > n {
		blockSize = n
	}
	observed := mean(returns)
	dist := make([]float64, nIter)
	for i := 0; i < nIter; i++ {
		rng := trialRNG(seed, i)
		blocks := sampleBlocks(n, blockSize, rng.Intn)
		dist[i] = mean(concatBlocks(returns, blocks, n))
	}
	return &BootstrapResult{
		Distribution: dist,
		ObservedMean: observed,
		Mean:         mean(dist),
		Std:          populationStd(dist),
		PValue:       oneSidedP(dist, observed),
		CI:           ciFromDistribution(dist, 0.95),
		Trials:       nIter,
		Method:       "simple",
		BlockLength:  blockSize,
	}
}

// acf computes the sample autocorrelation for lags 1..maxLag using the
// covariance estimator divided by the variance; out[k-1] is lag k.
func acf(x []float64, maxLag int) []float64 {
	out := make([]float64, maxLag)
	n := len(x)
	if n == 0 {
		return out
	}
	mu := mean(x)
	denom := 0.0
	for _, v := range x {
		denom += (v - mu) * (v - mu)
	}
	if denom == 0 {
		return out
	}
	for k := 1; k <= maxLag; k++ {
		num := 0.0
		for i := k; i < n; i++ {
			num += (x[i] - mu) * (x[i-k] - mu)
		}
		out[k-1] = num / denom
	}
	return out
}

// chooseBlockLength selects the block length from the ACF: find the first
// local minimum m, then the smallest lag k >= m where ACF(k) and ACF(k+1)
// are both below tau (robust to single-lag noise). Falls back to L when the
// ACF never settles below the threshold.
func chooseBlockLength(acfVals []float64, tau float64) int {
	L := len(acfVals)
	if L == 0 {
		return 1
	}
	m := 1
	for i := 1; i < L; i++ {
		if acfVals[i] < acfVals[i-1] {
			m = i + 1
			break
		}
	}
	if acfVals[m-1] >= tau && acfVals[L-1] >= tau {
		return L
	}
	for j := m - 1; j < L-1; j++ {
		if acfVals[j] < tau && acfVals[j+1] < tau {
			return j + 1
		}
	}
	return L
}

func ciFromDistribution(dist []float64, level float64) [2]float64 {
	if len(dist) == 0 {
		return [2]float64{}
	}
	sorted := make([]float64, len(dist))
	copy(sorted, dist)
	sort.Float64s(sorted)
	alpha := (1 - level) / 2
	low := stat.Quantile(alpha, stat.LinInterp, sorted, nil)
	high := stat.Quantile(1-alpha, stat.LinInterp, sorted, nil)
	return [2]float64{low, high}
}

// HADJBB runs the Hybrid Adaptive Discrete Jitter block bootstrap: block
// length selected from the ACF, a deterministic jitter in {-1, 0, 1}, and an
// IID fallback for short or weakly autocorrelated series. maxCap overrides
// the ACF lag cap L = min(50, N/4) when positive.
func HADJBB(trades []domain.CompletedTrade, positions []domain.PositionRow, nIter, maxCap int, tau float64, ciLevel float64, seed int64) *BootstrapResult {
	if tau <= 0 {
		tau = 0.1
	}
	if ciLevel <= 0 || ciLevel >= 1 {
		ciLevel = 0.95
	}
	returns := ExtractReturns(trades, positions)
	if len(returns) == 0 {
		return &BootstrapResult{PValue: 1, Method: "hadj_bb", Distribution: []float64{}}
	}
	n := len(returns)
	capL := maxCap
	if capL <= 0 {
		capL = n / 4
		if capL > 50 {
			capL = 50
		}
	}
	if capL < 1 {
		capL = 1
	}
	observed := mean(returns)
	acfVals := acf(returns, capL)
	k := chooseBlockLength(acfVals, tau)

	// Jitter comes from the method RNG so it is independent of trial count.
	jitter := 0
	if k >= 2 {
		methodRNG := trialRNG(seed, -1)
		jitter = methodRNG.Intn(3) - 1
	}
	effBlock := k + jitter
	if effBlock < 2 {
		effBlock = 2
	}

	meanAbsACF := 0.0
	span := k
	if span < 1 {
		span = 1
	}
	if span > len(acfVals) {
		span = len(acfVals)
	}
	for _, v := range acfVals[:span] {
		meanAbsACF += math.Abs(v)
	}
	meanAbsACF /= float64(span)

	// Conservative floor on k so short-series fallback is robust to noisy
	// early threshold crossings; jitter cannot suppress the fallback. The
	// floor uses the unrounded default cap min(50, N/4).
	capF := float64(capL)
	if maxCap <= 0 {
		capF = math.Min(50, float64(n)/4)
	}
	kFloor := k
	if f := int(math.Ceil(0.9 * capF)); f > kFloor {
		kFloor = f
	}
	fallback := n < 5*kFloor || meanAbsACF < 0.05

	dist := make([]float64, nIter)
	if fallback {
		for i := 0; i < nIter; i++ {
			rng := trialRNG(seed, i)
			sample := make([]float64, n)
			for j := range sample {
				sample[j] = returns[rng.Intn(n)]
			}
			dist[i] = mean(sample)
		}
		return &BootstrapResult{
			Distribution: dist,
			ObservedMean: observed,
			Mean:         mean(dist),
			Std:          populationStd(dist),
			PValue:       oneSidedP(dist, observed),
			CI:           ciFromDistribution(dist, ciLevel),
			Trials:       nIter,
			Method:       "simple",
			Jitter:       jitter,
			Fallback:     true,
		}
	}

	for i := 0; i < nIter; i++ {
		rng := trialRNG(seed, i)
		blocks := sampleBlocks(n, effBlock, rng.Intn)
		dist[i] = mean(concatBlocks(returns, blocks, n))
	}
	return &BootstrapResult{
		Distribution: dist,
		ObservedMean: observed,
		Mean:         mean(dist),
		Std:          populationStd(dist),
		PValue:       oneSidedP(dist, observed),
		CI:           ciFromDistribution(dist, ciLevel),
		Trials:       nIter,
		Method:       "hadj_bb",
		BlockLength:  effBlock,
		Jitter:       jitter,
	}
}

