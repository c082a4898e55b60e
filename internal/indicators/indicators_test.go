package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

func closesFrame(closes []float64) *domain.Frame {
	ts := make([]int64, len(closes))
	for i := range ts {
		ts[i] = int64(i+1) * 60_000
	}
	f := domain.NewFrame(ts)
	f.MustSetColumn(domain.ColClose, closes)
	return f
}

func TestBuild_ResolvesSpecs(t *testing.T) {
	set, err := Build([]Spec{
		{Name: "sma", Params: map[string]any{"window": 10}},
		{Name: "rsi", Params: map[string]any{"window": 14}},
		{Name: "dual_sma", Params: map[string]any{"fast": 5, "slow": 20}},
	})
	require.NoError(t, err)
	assert.Len(t, set.Objects, 2)
	assert.Len(t, set.Functions, 1)
}

func TestBuild_UnknownIndicator(t *testing.T) {
	_, err := Build([]Spec{{Name: "macd"}})
	var cerr *domain.ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestBuild_InvalidWindow(t *testing.T) {
	_, err := Build([]Spec{{Name: "sma", Params: map[string]any{"window": 0}}})
	var cerr *domain.ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestSet_SignatureDeterministic(t *testing.T) {
	build := func() *Set {
		set, err := Build([]Spec{
			{Name: "sma", Params: map[string]any{"window": 50}},
			{Name: "sma", Params: map[string]any{"window": 10}},
			{Name: "dual_sma", Params: map[string]any{"fast": 5, "slow": 20}},
		})
		require.NoError(t, err)
		return set
	}
	assert.Equal(t, build().Signature(), build().Signature())
	assert.Contains(t, build().Signature(), "sma_10:window=10")
}

func TestSMA_WarmupIsNaN(t *testing.T) {
	sma := NewSMA(3)
	out, err := sma.Compute(closesFrame([]float64{1, 2, 3, 4, 5}))
	require.NoError(t, err)
	series := out["sma_3"]
	assert.True(t, math.IsNaN(series[0]))
	assert.True(t, math.IsNaN(series[1]))
	assert.InDelta(t, 2.0, series[2], 1e-12)
	assert.InDelta(t, 4.0, series[4], 1e-12)
}

func TestSMA_ShortFrameAllNaN(t *testing.T) {
	out, err := NewSMA(10).Compute(closesFrame([]float64{1, 2, 3}))
	require.NoError(t, err)
	for _, v := range out["sma_10"] {
		assert.True(t, math.IsNaN(v))
	}
}

func TestRSI_FiniteWindow(t *testing.T) {
	rsi := NewRSI(3)
	assert.Equal(t, []int{4}, rsi.Windows())

	// Monotonically rising closes: no losses, RSI pins at 100 once warm.
	out, err := rsi.Compute(closesFrame([]float64{1, 2, 3, 4, 5, 6}))
	require.NoError(t, err)
	series := out["rsi_3"]
	assert.True(t, math.IsNaN(series[2]))
	assert.Equal(t, 100.0, series[3])
	assert.Equal(t, 100.0, series[5])
}

func TestDualSMAFunc_ColumnsEncodeWindows(t *testing.T) {
	fn := DualSMAFunc(2, 4)
	out, err := fn(closesFrame([]float64{1, 2, 3, 4, 5, 6}))
	require.NoError(t, err)
	require.Contains(t, out, "sma_short_2")
	require.Contains(t, out, "sma_long_4")
	assert.True(t, math.IsNaN(out["sma_long_4"][2]))
	assert.InDelta(t, 2.5, out["sma_long_4"][3], 1e-12)
}
