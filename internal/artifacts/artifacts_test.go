package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
	"github.com/friscapuff/alphaforge-brain/pkg/logger"
)

func payload() *Payload {
	return &Payload{
		Summary:    map[string]any{"metrics": map[string]any{"sharpe": 1.2}},
		Metrics:    map[string]any{"sharpe": 1.2},
		Validation: map[string]any{"permutation_p": 0.2},
		EquityCurve: []domain.EquityBar{
			{Ts: 1000, Nav: 100000, Return: 0, Drawdown: 0},
			{Ts: 2000, Nav: 100500, Return: 0.005, Drawdown: 0},
		},
		Trades: []domain.CompletedTrade{
			{ID: "t1", Symbol: "TEST", EntryTs: 1000, ExitTs: 2000, EntryPrice: 100, ExitPrice: 101, Qty: 10, Pnl: 10, ReturnPct: 0.01},
		},
		DataHash:  "dh",
		Symbol:    "TEST",
		Timeframe: "1m",
	}
}

func TestWrite_ProducesFullArtifactSet(t *testing.T) {
	w := NewWriter(t.TempDir(), logger.Nop())
	manifest, err := w.Write("run1", payload())
	require.NoError(t, err)
	require.NotEmpty(t, manifest.ManifestHash)
	assert.Empty(t, manifest.ChainPrev)

	for _, name := range []string{FileSummary, FileMetrics, FileValidation, FileValidationDetail, FileEquity, FileTrades, FilePlots, FileManifest} {
		_, err := os.Stat(filepath.Join(w.RunDir("run1"), name))
		require.NoError(t, err, name)
	}

	// Entry hashes cover the exact on-disk bytes.
	for _, entry := range manifest.Entries {
		data, err := os.ReadFile(filepath.Join(w.RunDir("run1"), entry.Name))
		require.NoError(t, err)
		sum := sha256.Sum256(data)
		assert.Equal(t, hex.EncodeToString(sum[:]), entry.SHA256, entry.Name)
		assert.Equal(t, int64(len(data)), entry.Bytes, entry.Name)
	}
}

func TestWrite_ManifestChain(t *testing.T) {
	w := NewWriter(t.TempDir(), logger.Nop())
	m1, err := w.Write("run1", payload())
	require.NoError(t, err)
	m2, err := w.Write("run2", payload())
	require.NoError(t, err)
	assert.Equal(t, m1.ManifestHash, m2.ChainPrev)
	assert.NotEqual(t, m1.ManifestHash, m2.ManifestHash)
}

func TestManifest_HashIgnoresRuntimeFields(t *testing.T) {
	m := &Manifest{
		Entries:  []Entry{{Name: "a", Kind: "json", SHA256: "x", Bytes: 1}},
		DataHash: "dh",
	}
	h1 := m.Hash()
	m.MetricsHash = "mh"
	m.ManifestHash = "self"
	assert.Equal(t, h1, m.Hash())
}

func TestManifest_EntryOrderInsensitive(t *testing.T) {
	a := &Manifest{Entries: []Entry{
		{Name: "b", Kind: "json", SHA256: "2", Bytes: 2},
		{Name: "a", Kind: "json", SHA256: "1", Bytes: 1},
	}}
	b := &Manifest{Entries: []Entry{
		{Name: "a", Kind: "json", SHA256: "1", Bytes: 1},
		{Name: "b", Kind: "json", SHA256: "2", Bytes: 2},
	}}
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestManifest_DuplicateNamesRejected(t *testing.T) {
	m := &Manifest{Entries: []Entry{
		{Name: "a", Kind: "json", SHA256: "1", Bytes: 1},
		{Name: "a", Kind: "json", SHA256: "2", Bytes: 2},
	}}
	assert.Error(t, m.Validate())
}

func TestIndex_WhitelistsContentFiles(t *testing.T) {
	w := NewWriter(t.TempDir(), logger.Nop())
	_, err := w.Write("run1", payload())
	require.NoError(t, err)

	// Extra junk and evicted staging must not appear in the index.
	require.NoError(t, os.WriteFile(filepath.Join(w.RunDir("run1"), "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(w.RunDir("run1"), EvictedDir), 0o755))

	index, err := w.Index("run1")
	require.NoError(t, err)
	names := make([]string, 0, len(index))
	for _, item := range index {
		names = append(names, item.Name)
	}
	assert.NotContains(t, names, "notes.txt")
	assert.NotContains(t, names, FileManifest)
	assert.Contains(t, names, FileEquity)
	assert.Contains(t, names, FileSummary)
}

func TestWrite_Deterministic(t *testing.T) {
	w1 := NewWriter(t.TempDir(), logger.Nop())
	w2 := NewWriter(t.TempDir(), logger.Nop())
	m1, err := w1.Write("run1", payload())
	require.NoError(t, err)
	m2, err := w2.Write("run1", payload())
	require.NoError(t, err)
	// Fresh chains, identical payloads: identical manifest hashes.
	assert.Equal(t, m1.ManifestHash, m2.ManifestHash)
}

func TestReadManifest_RoundTrip(t *testing.T) {
	w := NewWriter(t.TempDir(), logger.Nop())
	m, err := w.Write("run1", payload())
	require.NoError(t, err)
	got, err := w.ReadManifest("run1")
	require.NoError(t, err)
	assert.Equal(t, m.ManifestHash, got.ManifestHash)
	assert.Len(t, got.Entries, 7)
}
