package canonical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_SortsMappingKeys(t *testing.T) {
	s, err := JSON(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, s)
}

func TestJSON_PreservesListOrder(t *testing.T) {
	s, err := JSON([]any{3, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, `[3,2,1]`, s)
}

func TestJSON_Separators(t *testing.T) {
	s, err := JSON(map[string]any{"k": []any{1, "x"}})
	require.NoError(t, err)
	assert.Equal(t, `{"k":[1,"x"]}`, s)
}

func TestJSON_FloatCanonicalization(t *testing.T) {
	// 12 significant digits by default; format-parse-reemit.
	s, err := JSON(0.1 + 0.2)
	require.NoError(t, err)
	assert.Equal(t, "0.3", s)

	s, err = JSON(1.0)
	require.NoError(t, err)
	assert.Equal(t, "1", s)

	s, err = JSON(123456789.123456789)
	require.NoError(t, err)
	assert.Equal(t, "123456789.123", s)
}

func TestJSON_TimeNormalizedToUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, loc)
	s, err := JSON(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-01T14:30:00Z"`, s)
}

func TestHash_KeyOrderIndependence(t *testing.T) {
	c1 := map[string]any{"b": 2, "a": 1, "nested": map[string]any{"x": []any{3, 2, 1}}}
	c2 := map[string]any{"nested": map[string]any{"x": []any{3, 2, 1}}, "a": 1, "b": 2}
	h1, err := Hash(c1)
	require.NoError(t, err)
	h2, err := Hash(c2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHash_ListOrderIsSemantic(t *testing.T) {
	c1 := map[string]any{"a": 1, "b": 2, "nested": map[string]any{"x": []any{3, 2, 1}}}
	c3 := map[string]any{"a": 1, "b": 2, "nested": map[string]any{"x": []any{1, 2, 3}}}
	assert.NotEqual(t, MustHash(c1), MustHash(c3))
}

func TestMetricsHash_RoundsAndCoerces(t *testing.T) {
	h1 := MetricsHash(map[string]any{"sharpe": 1.23456789012349, "trades": 10, "note": "ok"})
	h2 := MetricsHash(map[string]any{"trades": 10, "note": "ok", "sharpe": 1.23456789012351})
	// Both round to the same 12-significant-digit value.
	assert.Equal(t, h1, h2)
}

func TestEquityCurveHash_Deterministic(t *testing.T) {
	nav := []float64{100000, 100250.5, 99875.25}
	dd := []float64{0, 0, -0.0037}
	assert.Equal(t, EquityCurveHash(nav, dd), EquityCurveHash(nav, dd))
	assert.NotEqual(t, EquityCurveHash(nav, dd), EquityCurveHash([]float64{100000, 100250.5, 99875.26}, dd))
}

func TestProvenanceHash_OrderIndependent(t *testing.T) {
	// Field presence, not construction order, determines the digest.
	a := ProvenanceHash("m1", "m2", "")
	b := ProvenanceHash("m1", "m2", "")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ProvenanceHash("m1", "m2", "e1"))
}

func TestRoundFloat_ZeroAndLargeMagnitude(t *testing.T) {
	assert.Equal(t, 0.0, RoundFloat(0))
	assert.True(t, RoundFloat(1e300) > 0)
}
