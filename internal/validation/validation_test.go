package validation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// tradesFromReturns builds completed trades whose return series is exactly
// the given values, exits spaced one minute apart.
func tradesFromReturns(returns []float64) []domain.CompletedTrade {
	out := make([]domain.CompletedTrade, len(returns))
	for i, r := range returns {
		out[i] = domain.CompletedTrade{
			EntryTs:    int64(i) * 60_000,
			ExitTs:     int64(i+1) * 60_000,
			EntryPrice: 100,
			ExitPrice:  100 * (1 + r),
			Qty:        10,
			ReturnPct:  r,
			Pnl:        1000 * r,
		}
	}
	return out
}

// smoothReturns produces a slowly varying series with strong positive
// short-lag autocorrelation, deterministically.
func smoothReturns(n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = 0.01 * math.Sin(float64(i)/20.0)
	}
	return out
}

func TestSubSeed_Formula(t *testing.T) {
	assert.Equal(t, int64(42+9973), SubSeed(42, 1))
	assert.Equal(t, int64(42+3*9973), SubSeed(42, 3))
	assert.GreaterOrEqual(t, SubSeed(seedModulus-1, 5), int64(0))
}

func TestExtractReturns_Priority(t *testing.T) {
	trades := tradesFromReturns([]float64{0.01, -0.02})
	got := ExtractReturns(trades, nil)
	assert.Equal(t, []float64{0.01, -0.02}, got)

	// No trades: fall back to equity pct change.
	positions := []domain.PositionRow{{Equity: 100}, {Equity: 110}, {Equity: 99}}
	got = ExtractReturns(nil, positions)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.1, got[0], 1e-12)
	assert.InDelta(t, -0.1, got[1], 1e-12)
}

func TestPermutationTest_SeededReproducibility(t *testing.T) {
	trades := tradesFromReturns(smoothReturns(40))
	a := PermutationTest(trades, nil, 100, 7)
	b := PermutationTest(trades, nil, 100, 7)
	assert.Equal(t, a.Samples, b.Samples)
	assert.Equal(t, a.PValue, b.PValue)
	assert.Len(t, a.Samples, 100)
}

func TestPermutationTest_EmptyInput(t *testing.T) {
	res := PermutationTest(nil, nil, 100, 7)
	assert.Equal(t, 1.0, res.PValue)
	assert.Empty(t, res.Samples)
}

func TestBlockBootstrap_PrefixStability(t *testing.T) {
	trades := tradesFromReturns(smoothReturns(60))
	long := BlockBootstrap(trades, nil, 500, 5, 11)
	short := BlockBootstrap(trades, nil, 200, 5, 11)
	assert.Equal(t, long.Distribution[:200], short.Distribution)
}

func TestHADJBB_CorrelatedSeriesUsesBlocks(t *testing.T) {
	trades := tradesFromReturns(smoothReturns(300))
	res := HADJBB(trades, nil, 500, 0, 0.1, 0.95, 7)
	assert.False(t, res.Fallback)
	assert.Equal(t, "hadj_bb", res.Method)
	assert.GreaterOrEqual(t, res.BlockLength, 2)
	assert.Len(t, res.Distribution, 500)
	assert.Contains(t, []int{-1, 0, 1}, res.Jitter)

	again := HADJBB(trades, nil, 500, 0, 0.1, 0.95, 7)
	assert.Equal(t, res.Distribution, again.Distribution)
	assert.Equal(t, res.CI, again.CI)
	assert.Equal(t, res.BlockLength, again.BlockLength)
}

func TestHADJBB_ShortSeriesFallsBack(t *testing.T) {
	// 10 alternating-sign returns: k_floor = ceil(0.9*10/4) = 3 and
	// N < 5*k_floor forces the IID path.
	returns := []float64{0.01, -0.008, 0.012, -0.011, 0.009, -0.01, 0.013, -0.007, 0.008, -0.012}
	res := HADJBB(tradesFromReturns(returns), nil, 500, 0, 0.1, 0.95, 7)
	assert.True(t, res.Fallback)
	assert.Equal(t, "simple", res.Method)
	assert.Len(t, res.Distribution, 500)
}

func TestHADJBB_PrefixStability(t *testing.T) {
	trades := tradesFromReturns(smoothReturns(300))
	long := HADJBB(trades, nil, 400, 0, 0.1, 0.95, 7)
	short := HADJBB(trades, nil, 150, 0, 0.1, 0.95, 7)
	assert.Equal(t, long.Fallback, short.Fallback)
	assert.Equal(t, long.Distribution[:150], short.Distribution)
}

func TestChooseBlockLength(t *testing.T) {
	// ACF decays below tau at lag 3 and stays there.
	acfVals := []float64{0.5, 0.3, 0.05, 0.04, 0.02}
	assert.Equal(t, 3, chooseBlockLength(acfVals, 0.1))

	// Never settles below tau: use L.
	assert.Equal(t, 4, chooseBlockLength([]float64{0.5, 0.45, 0.4, 0.35}, 0.1))

	// Single-lag dip below tau is not enough (noise robustness).
	acfVals = []float64{0.5, 0.05, 0.3, 0.04, 0.03}
	assert.Equal(t, 4, chooseBlockLength(acfVals, 0.1))
}

func TestMonteCarlo_SeededReproducibility(t *testing.T) {
	trades := tradesFromReturns(smoothReturns(50))
	cfg := MonteCarloConfig{NIter: 300, Model: "normal"}
	a, err := MonteCarloSlippage(trades, nil, cfg, 9)
	require.NoError(t, err)
	b, err := MonteCarloSlippage(trades, nil, cfg, 9)
	require.NoError(t, err)
	assert.Equal(t, a.Distribution, b.Distribution)
	assert.Equal(t, a.PValue, b.PValue)
	// Negative additive costs only: deltas cannot be positive.
	for _, d := range a.Distribution {
		assert.LessOrEqual(t, d, 1e-9)
	}
}

func TestMonteCarlo_UniformModel(t *testing.T) {
	trades := tradesFromReturns(smoothReturns(30))
	res, err := MonteCarloSlippage(trades, nil, MonteCarloConfig{
		NIter: 100, Model: "uniform", Params: map[string]any{"low": 0.0, "high": 0.0004},
	}, 3)
	require.NoError(t, err)
	assert.Len(t, res.Distribution, 100)
}

func TestMonteCarlo_UnknownModel(t *testing.T) {
	trades := tradesFromReturns([]float64{0.01})
	_, err := MonteCarloSlippage(trades, nil, MonteCarloConfig{NIter: 10, Model: "cauchy"}, 3)
	var cerr *domain.ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestWalkForward_FoldPartitioning(t *testing.T) {
	trades := tradesFromReturns(smoothReturns(10))
	res := WalkForward(trades, 4)
	require.Len(t, res.Folds, 4)
	// 10 trades in 4 folds: sizes 3,3,2,2.
	assert.Equal(t, 3, res.Folds[0].NTrades)
	assert.Equal(t, 3, res.Folds[1].NTrades)
	assert.Equal(t, 2, res.Folds[2].NTrades)
	assert.Equal(t, 2, res.Folds[3].NTrades)
	// Folds are contiguous in time.
	for i := 1; i < len(res.Folds); i++ {
		assert.GreaterOrEqual(t, res.Folds[i].StartTs, res.Folds[i-1].EndTs)
	}
	assert.Equal(t, 4, res.Summary.NFolds)
	assert.GreaterOrEqual(t, res.Summary.SharpeMax, res.Summary.SharpeMin)
}

func TestWalkForward_FewerTradesThanFolds(t *testing.T) {
	res := WalkForward(tradesFromReturns([]float64{0.01, 0.02}), 5)
	assert.Len(t, res.Folds, 2)
}

func TestRun_FullSuiteDeterministic(t *testing.T) {
	trades := tradesFromReturns(smoothReturns(80))
	spec := Spec{
		Permutation:    &PermutationConfig{N: 100},
		BlockBootstrap: &BlockBootstrapConfig{NIter: 200},
		MonteCarlo:     &MonteCarloConfig{NIter: 100},
		WalkForward:    &WalkForwardConfig{NFolds: 4},
	}
	a, err := Run(trades, nil, spec, 42)
	require.NoError(t, err)
	b, err := Run(trades, nil, spec, 42)
	require.NoError(t, err)

	assert.Equal(t, a.Permutation.Samples, b.Permutation.Samples)
	assert.Equal(t, a.BlockBootstrap.Distribution, b.BlockBootstrap.Distribution)
	assert.Equal(t, a.MonteCarlo.Distribution, b.MonteCarlo.Distribution)
	assert.Equal(t, a.Summary, b.Summary)
	require.NotNil(t, a.Summary.PermutationP)
	require.NotNil(t, a.Summary.BlockBootstrapP)
	require.NotNil(t, a.Summary.MonteCarloP)
	assert.Equal(t, 4, a.Summary.WalkForwardN)
	assert.Nil(t, a.Summary.GatePassed)
}

func TestRun_SkippedMethodsAreNil(t *testing.T) {
	res, err := Run(tradesFromReturns([]float64{0.01, 0.02}), nil, Spec{}, 1)
	require.NoError(t, err)
	assert.Nil(t, res.Permutation)
	assert.Nil(t, res.BlockBootstrap)
	assert.Nil(t, res.MonteCarlo)
	assert.Nil(t, res.WalkForward)
	assert.Nil(t, res.Summary.PermutationP)
}

func TestRun_CIWidthGate(t *testing.T) {
	trades := tradesFromReturns(smoothReturns(80))
	spec := Spec{
		BlockBootstrap: &BlockBootstrapConfig{NIter: 200},
		Gates:          &Gates{BlockBootstrap: &BBGate{MaxCIWidth: 1e9}},
	}
	res, err := Run(trades, nil, spec, 42)
	require.NoError(t, err)
	require.NotNil(t, res.Summary.GatePassed)
	assert.True(t, *res.Summary.GatePassed)

	spec.Gates.BlockBootstrap.MaxCIWidth = 0
	res, err = Run(trades, nil, spec, 42)
	require.NoError(t, err)
	require.NotNil(t, res.Summary.GatePassed)
	assert.False(t, *res.Summary.GatePassed)
}

func TestDifferentSeedsDiffer(t *testing.T) {
	trades := tradesFromReturns(smoothReturns(60))
	a := BlockBootstrap(trades, nil, 100, 5, 1)
	b := BlockBootstrap(trades, nil, 100, 5, 2)
	assert.NotEqual(t, a.Distribution, b.Distribution)
}

func TestHADJBB_ShortCorrelatedSeriesWithCapOverride(t *testing.T) {
	// 50 strongly autocorrelated returns stay on the block path when the
	// ACF lag cap is bounded so the short-series floor does not trip.
	trades := tradesFromReturns(smoothReturns(50))
	res := HADJBB(trades, nil, 500, 10, 0.1, 0.95, 7)
	assert.False(t, res.Fallback)
	assert.Equal(t, "hadj_bb", res.Method)
	assert.GreaterOrEqual(t, res.BlockLength, 2)
	assert.Len(t, res.Distribution, 500)
}
