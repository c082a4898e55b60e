package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
	"github.com/friscapuff/alphaforge-brain/internal/run"
	"github.com/friscapuff/alphaforge-brain/pkg/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(hash string, createdAt int64) *run.Record {
	seed := int64(42)
	metric := 1.5
	return &run.Record{
		RunHash:            hash,
		CreatedAt:          createdAt,
		Status:             run.StatusComplete,
		RetentionState:     run.RetentionFull,
		StrategyName:       "dual_sma",
		StrategyHash:       "sh",
		MetricsHash:        "mh",
		EquityCurveHash:    "eh",
		ManifestHash:       "ma",
		Seed:               &seed,
		PrimaryMetricValue: &metric,
		Summary:            map[string]any{"sharpe": 1.5},
	}
}

func TestSaveAndGet_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	rec := record("h1", 100)
	require.NoError(t, s.Save(rec))

	got, err := s.Get("h1")
	require.NoError(t, err)
	assert.Equal(t, rec.RunHash, got.RunHash)
	assert.Equal(t, rec.Status, got.Status)
	assert.Equal(t, rec.MetricsHash, got.MetricsHash)
	assert.Equal(t, rec.EquityCurveHash, got.EquityCurveHash)
	assert.Equal(t, *rec.Seed, *got.Seed)
	assert.Equal(t, 1.5, got.Summary["sharpe"])
}

func TestSave_UpsertsRetentionState(t *testing.T) {
	s := openTestStore(t)
	rec := record("h1", 100)
	require.NoError(t, s.Save(rec))
	rec.RetentionState = run.RetentionManifestOnly
	rec.Pinned = true
	require.NoError(t, s.Save(rec))

	got, err := s.Get("h1")
	require.NoError(t, err)
	assert.Equal(t, run.RetentionManifestOnly, got.RetentionState)
	assert.True(t, got.Pinned)
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestList_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Save(record("h1", 100)))
	require.NoError(t, s.Save(record("h2", 300)))
	require.NoError(t, s.Save(record("h3", 200)))

	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "h2", records[0].RunHash)
	assert.Equal(t, "h3", records[1].RunHash)
	assert.Equal(t, "h1", records[2].RunHash)
}

func TestLoadInto_RestoresRegistry(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Save(record("h1", 100)))
	require.NoError(t, s.Save(record("h2", 200)))

	registry := run.NewRegistry()
	n, err := s.LoadInto(registry)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	rec, err := registry.Get("h1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusComplete, rec.Status)
}
