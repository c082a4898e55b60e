package dataset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
	"github.com/friscapuff/alphaforge-brain/pkg/logger"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_NormalizesAndCounts(t *testing.T) {
	csv := "timestamp,open,high,low,close,volume\n" +
		"2024-01-03,10,11,9,10.5,100\n" +
		"2024-01-02,10,11,9,10.2,0\n" +
		"2024-01-02,99,99,99,99,5\n" + // duplicate ts, dropped
		"2024-01-04,10,11,9,,100\n" + // missing close, dropped
		"2030-01-01,10,11,9,10,100\n" // future, dropped
	path := writeCSV(t, csv)

	loader := NewLoader(logger.Nop())
	frame, meta, err := loader.Load(LoadOptions{
		Symbol: "test", Timeframe: "1d", Path: path,
		Now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, frame.Len())
	// ascending, unique
	assert.Less(t, frame.Ts[0], frame.Ts[1])
	assert.Equal(t, "TEST", meta.Symbol)
	assert.Equal(t, 5, meta.RowCountRaw)
	assert.Equal(t, 1, meta.AnomalyCounters[AnomalyDuplicatesDropped])
	assert.Equal(t, 1, meta.AnomalyCounters[AnomalyRowsDroppedMissing])
	assert.Equal(t, 1, meta.AnomalyCounters[AnomalyFutureRowsDropped])
	assert.Equal(t, 1, meta.AnomalyCounters[AnomalyZeroVolumeRows])
	assert.Equal(t, float64(1), frame.Column(domain.ColZeroVolume)[0])
	assert.Len(t, meta.DataHash, 64)
}

func TestLoad_LegacyVendorSchema(t *testing.T) {
	csv := "Date,Close/Last,Volume,Open,High,Low\n" +
		"01/03/2024,$10.50,\"1,000\",$10.00,$11.00,$9.00\n" +
		"01/02/2024,$10.20,500,$10.10,$10.90,$9.50\n"
	path := writeCSV(t, csv)

	loader := NewLoader(logger.Nop())
	frame, meta, err := loader.Load(LoadOptions{
		Symbol: "NVDA", Timeframe: "1d", Path: path,
		Now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, 2, frame.Len())
	assert.Equal(t, 10.2, frame.Column(domain.ColClose)[0])
	assert.Equal(t, 1000.0, frame.Column(domain.ColVolume)[1])
	assert.Equal(t, "NVDA", meta.Symbol)
}

func TestLoad_UnknownSchemaFails(t *testing.T) {
	path := writeCSV(t, "a,b,c\n1,2,3\n")
	loader := NewLoader(logger.Nop())
	_, _, err := loader.Load(LoadOptions{Symbol: "X", Timeframe: "1d", Path: path})
	var derr *domain.DatasetError
	require.ErrorAs(t, err, &derr)
}

func TestLoad_CalendarGapClassification(t *testing.T) {
	// 2024-01-01 is a holiday, 2024-01-06/07 a weekend. Missing session:
	// 2024-01-03 (Wednesday).
	csv := "timestamp,open,high,low,close,volume\n" +
		"2024-01-02,10,11,9,10,100\n" +
		"2024-01-04,10,11,9,10,100\n" +
		"2024-01-05,10,11,9,10,100\n" +
		"2024-01-08,10,11,9,10,100\n"
	path := writeCSV(t, csv)
	loader := NewLoader(logger.Nop())
	_, meta, err := loader.Load(LoadOptions{
		Symbol: "TEST", Timeframe: "1d", Path: path, CalendarID: "XNYS",
		Now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, meta.AnomalyCounters[AnomalyUnexpectedGaps])
	assert.Equal(t, 2, meta.AnomalyCounters[AnomalyExpectedClosures])
}

func TestLoad_DataHashStable(t *testing.T) {
	csv := "timestamp,open,high,low,close,volume\n2024-01-02,10,11,9,10.2,100\n"
	loader := NewLoader(logger.Nop())
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, m1, err := loader.Load(LoadOptions{Symbol: "A", Timeframe: "1d", Path: writeCSV(t, csv), Now: now})
	require.NoError(t, err)
	_, m2, err := loader.Load(LoadOptions{Symbol: "A", Timeframe: "1d", Path: writeCSV(t, csv), Now: now})
	require.NoError(t, err)
	assert.Equal(t, m1.DataHash, m2.DataHash)

	_, m3, err := loader.Load(LoadOptions{Symbol: "A", Timeframe: "1d",
		Path: writeCSV(t, "timestamp,open,high,low,close,volume\n2024-01-02,10,11,9,10.3,100\n"), Now: now})
	require.NoError(t, err)
	assert.NotEqual(t, m1.DataHash, m3.DataHash)
}

func TestAdjustments_SplitBackAdjustment(t *testing.T) {
	frame := frameFromRows([]rawRow{
		{ts: 1000, open: 100, high: 101, low: 99, close: 100, volume: 10},
		{ts: 2000, open: 100, high: 101, low: 99, close: 100, volume: 10},
		{ts: 3000, open: 50, high: 51, low: 49, close: 50, volume: 20},
	})
	factors := &AdjustmentFactors{
		Events:       []FactorEvent{{Ts: 3000, Split: 2.0}},
		CoverageFull: true,
	}
	adjusted, err := ApplySplitAdjustments(frame, factors)
	require.NoError(t, err)
	// Rows at and before the split are divided by the ratio.
	assert.InDelta(t, 50.0, adjusted.Column(domain.ColClose)[0], 1e-12)
	assert.InDelta(t, 50.0, adjusted.Column(domain.ColClose)[1], 1e-12)
	assert.InDelta(t, 25.0, adjusted.Column(domain.ColClose)[2], 1e-12)
	// Volume untouched.
	assert.Equal(t, 10.0, adjusted.Column(domain.ColVolume)[0])
}

func TestAdjustments_PartialCoverageRejected(t *testing.T) {
	frame := frameFromRows([]rawRow{{ts: 1000, open: 1, high: 1, low: 1, close: 1, volume: 1}})
	_, err := ApplySplitAdjustments(frame, &AdjustmentFactors{CoverageFull: false})
	var derr *domain.DatasetError
	require.ErrorAs(t, err, &derr)
}

func TestCombineDataHash_PolicyAsymmetry(t *testing.T) {
	raw := "abc123"
	assert.Equal(t, raw, CombineDataHash(raw, PolicyNone, ""))
	combined := CombineDataHash(raw, PolicyFullAdjusted, "deadbeef")
	assert.NotEqual(t, raw, combined)
	assert.Len(t, combined, 64)
	// Factors digest participates even when prices are numerically unchanged.
	assert.NotEqual(t, combined, CombineDataHash(raw, PolicyFullAdjusted, "feedface"))
}

func TestFactorsDigest_DividendInfluences(t *testing.T) {
	a, err := FactorsDigest(PolicyFullAdjusted, &AdjustmentFactors{
		Events: []FactorEvent{{Ts: 1000, Split: 2}}, CoverageFull: true})
	require.NoError(t, err)
	b, err := FactorsDigest(PolicyFullAdjusted, &AdjustmentFactors{
		Events: []FactorEvent{{Ts: 1000, Split: 2, Dividend: 0.5}}, CoverageFull: true})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCache_LoadsOncePerKey(t *testing.T) {
	csv := "timestamp,open,high,low,close,volume\n2024-01-02,10,11,9,10.2,100\n"
	path := writeCSV(t, csv)
	cache := NewCache(NewLoader(logger.Nop()), "", logger.Nop())
	opts := LoadOptions{Symbol: "TEST", Timeframe: "1d", Path: path,
		Now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}

	f1, m1, err := cache.Get(opts)
	require.NoError(t, err)
	f2, m2, err := cache.Get(opts)
	require.NoError(t, err)
	assert.Same(t, f1, f2)
	assert.Same(t, m1, m2)

	meta, ok := cache.Lookup("test", "1d")
	require.True(t, ok)
	assert.Equal(t, m1.DataHash, meta.DataHash)
}

func TestCache_DiskSnapshotRoundTrip(t *testing.T) {
	csv := "timestamp,open,high,low,close,volume\n2024-01-02,10,11,9,10.2,100\n"
	path := writeCSV(t, csv)
	dir := t.TempDir()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	c1 := NewCache(NewLoader(logger.Nop()), dir, logger.Nop())
	f1, m1, err := c1.Get(LoadOptions{Symbol: "TEST", Timeframe: "1d", Path: path, Now: now})
	require.NoError(t, err)

	// A fresh cache over the same dir restores from the snapshot even when
	// the CSV is gone.
	require.NoError(t, os.Remove(path))
	c2 := NewCache(NewLoader(logger.Nop()), dir, logger.Nop())
	f2, m2, err := c2.Get(LoadOptions{Symbol: "TEST", Timeframe: "1d", Path: path, Now: now})
	require.NoError(t, err)
	assert.True(t, f1.Equal(f2))
	assert.Equal(t, m1.DataHash, m2.DataHash)
}

func TestSynthetic_Deterministic(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f1, m1 := Synthetic("TEST", "1m", start, 240)
	f2, m2 := Synthetic("TEST", "1m", start, 240)
	assert.True(t, f1.Equal(f2))
	assert.Equal(t, m1.DataHash, m2.DataHash)
	assert.Equal(t, 240, f1.Len())
}
