package features

import (
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friscapuff/alphaforge-brain/internal/dataset"
	"github.com/friscapuff/alphaforge-brain/internal/domain"
	"github.com/friscapuff/alphaforge-brain/internal/indicators"
	"github.com/friscapuff/alphaforge-brain/pkg/logger"
)

func testFrame(t *testing.T, bars int) *domain.Frame {
	t.Helper()
	frame, _ := dataset.Synthetic("TEST", "1m", time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC), bars)
	return frame
}

func testSet(t *testing.T) *indicators.Set {
	t.Helper()
	set, err := indicators.Build([]indicators.Spec{
		{Name: "sma", Params: map[string]any{"window": 10}},
		{Name: "sma", Params: map[string]any{"window": 50}},
		{Name: "dual_sma", Params: map[string]any{"fast": 5, "slow": 20}},
	})
	require.NoError(t, err)
	return set
}

func TestChunkSlices_Plan(t *testing.T) {
	slices := ChunkSlices(10, 4, 2)
	require.Equal(t, []ChunkSlice{
		{0, 4, 0},
		{2, 8, 2},
		{6, 10, 2},
	}, slices)
}

func TestChunkSlices_MonolithicFallback(t *testing.T) {
	assert.Equal(t, []ChunkSlice{{0, 10, 0}}, ChunkSlices(10, 0, 3))
	assert.Equal(t, []ChunkSlice{{0, 10, 0}}, ChunkSlices(10, 10, 3))
	assert.Nil(t, ChunkSlices(0, 4, 2))
}

func TestRequiredOverlap(t *testing.T) {
	set := testSet(t)
	// Largest window is sma_50 → overlap 49. The dual_sma windows (5, 20)
	// are inferred from the produced column names.
	assert.Equal(t, 49, RequiredOverlap(set, testFrame(t, 120)))

	small, err := indicators.Build([]indicators.Spec{
		{Name: "dual_sma", Params: map[string]any{"fast": 5, "slow": 20}},
	})
	require.NoError(t, err)
	assert.Equal(t, 19, RequiredOverlap(small, testFrame(t, 120)))
}

func TestBuild_DeterministicColumnOrder(t *testing.T) {
	engine := NewEngine(testSet(t))
	out, err := engine.Build(testFrame(t, 120))
	require.NoError(t, err)

	cols := out.Columns()
	base := len(domain.BaseColumns)
	// Features sorted by group segment then full name.
	assert.Equal(t, []string{"sma_10", "sma_50", "sma_long_20", "sma_short_5"}, cols[base:])
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	frame := testFrame(t, 60)
	before := frame.Columns()
	engine := NewEngine(testSet(t))
	_, err := engine.Build(frame)
	require.NoError(t, err)
	assert.Equal(t, before, frame.Columns())
}

func TestBuild_DuplicateColumnRejected(t *testing.T) {
	set, err := indicators.Build([]indicators.Spec{
		{Name: "sma", Params: map[string]any{"window": 10}},
		{Name: "sma", Params: map[string]any{"window": 10}},
	})
	require.NoError(t, err)
	_, err = NewEngine(set).Build(testFrame(t, 60))
	require.ErrorContains(t, err, "duplicate feature column")
}

func TestBuildChunked_EqualsMonolithic(t *testing.T) {
	frame := testFrame(t, 300)
	engine := NewEngine(testSet(t))

	mono, err := engine.Build(frame)
	require.NoError(t, err)

	for _, chunkSize := range []int{57, 64, 100, 299} {
		chunked, err := engine.BuildChunked(frame, chunkSize, -1)
		require.NoError(t, err)
		assert.True(t, mono.Equal(chunked), "chunk_size=%d", chunkSize)
	}

	// Any overlap at least the required minimum also matches.
	req := RequiredOverlap(engine.Set(), frame)
	for _, extra := range []int{0, 1, 13} {
		chunked, err := engine.BuildChunked(frame, 57, req+extra)
		require.NoError(t, err)
		assert.True(t, mono.Equal(chunked), "overlap=%d", req+extra)
	}
}

func TestBuildChunked_WarmupRowsAreNaN(t *testing.T) {
	frame := testFrame(t, 120)
	engine := NewEngine(testSet(t))
	out, err := engine.BuildChunked(frame, 40, -1)
	require.NoError(t, err)
	sma50 := out.Column("sma_50")
	assert.True(t, math.IsNaN(sma50[48]))
	assert.False(t, math.IsNaN(sma50[49]))
}

func TestCache_HitDoesNotRewrite(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(dir, logger.Nop())
	frame := testFrame(t, 120)
	engine := NewEngine(testSet(t))
	candleHash := dataset.StableFrameHash(frame)

	out1, err := cache.LoadOrBuild(frame, engine.Set(), EngineVersion, candleHash, engine.Build)
	require.NoError(t, err)

	path := cache.Path(candleHash, engine.Set(), EngineVersion)
	st1, err := os.Stat(path)
	require.NoError(t, err)

	out2, err := cache.LoadOrBuild(frame, engine.Set(), EngineVersion, candleHash, engine.Build)
	require.NoError(t, err)
	st2, err := os.Stat(path)
	require.NoError(t, err)

	assert.True(t, out1.Equal(out2))
	assert.Equal(t, st1.ModTime(), st2.ModTime())
}

func TestCache_CorruptedEntryRebuilt(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(dir, logger.Nop())
	frame := testFrame(t, 120)
	engine := NewEngine(testSet(t))
	candleHash := dataset.StableFrameHash(frame)

	_, err := cache.LoadOrBuild(frame, engine.Set(), EngineVersion, candleHash, engine.Build)
	require.NoError(t, err)

	path := cache.Path(candleHash, engine.Set(), EngineVersion)
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	out, err := cache.LoadOrBuild(frame, engine.Set(), EngineVersion, candleHash, engine.Build)
	require.NoError(t, err)
	mono, err := engine.Build(frame)
	require.NoError(t, err)
	assert.True(t, mono.Equal(out))
}

func TestCache_KeyChangesWithEngineVersion(t *testing.T) {
	cache := NewCache(t.TempDir(), logger.Nop())
	set := testSet(t)
	p1 := cache.Path("candle", set, "v1")
	p2 := cache.Path("candle", set, "v2")
	assert.NotEqual(t, p1, p2)
}
