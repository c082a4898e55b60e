package audit

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friscapuff/alphaforge-brain/pkg/logger"
)

func readLines(t *testing.T, path string) []Record {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []Record
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestWrite_HashChain(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 0, logger.Nop())

	l.Write(EventPin, "h1", nil)
	l.Write(EventUnpin, "h1", nil)
	l.Write(EventRetentionApply, "", map[string]any{"kept": 3, "demoted": 2})
	l.Write(EventDemote, "h2", nil)
	l.Write(EventRehydrate, "h2", map[string]any{"restored": true})

	records := readLines(t, l.Path())
	require.Len(t, records, 5)

	// First record anchors the chain with a null prev_hash.
	assert.Nil(t, records[0].PrevHash)
	for i, rec := range records {
		assert.Equal(t, HashRecord(&rec), rec.Hash, "record %d", i)
		if i > 0 {
			require.NotNil(t, rec.PrevHash)
			assert.Equal(t, records[i-1].Hash, *rec.PrevHash, "record %d", i)
		}
	}

	count, err := Verify(l.Path())
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestVerify_DetectsTampering(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 0, logger.Nop())
	l.Write(EventPin, "h1", nil)
	l.Write(EventDemote, "h2", nil)

	raw, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), "h2", "h3", 1)
	require.NoError(t, os.WriteFile(l.Path(), []byte(tampered), 0o644))

	_, err = Verify(l.Path())
	assert.ErrorContains(t, err, "hash mismatch")
}

func TestWrite_ChainSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	New(dir, 0, logger.Nop()).Write(EventPin, "h1", nil)
	// A fresh Log over the same dir continues the chain from disk.
	New(dir, 0, logger.Nop()).Write(EventUnpin, "h1", nil)

	records := readLines(t, filepath.Join(dir, FileName))
	require.Len(t, records, 2)
	require.NotNil(t, records[1].PrevHash)
	assert.Equal(t, records[0].Hash, *records[1].PrevHash)
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 200, logger.Nop()) // tiny threshold forces rotation

	l.Write(EventPin, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", nil)
	l.Write(EventUnpin, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", nil)

	// Live log was rotated away.
	_, err := os.Stat(l.Path())
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var rotated string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), RotatedPrefix) && strings.HasSuffix(e.Name(), ".gz") {
			rotated = e.Name()
		}
	}
	require.NotEmpty(t, rotated)

	// Rotated payload is valid gzip holding the original lines.
	f, err := os.Open(filepath.Join(dir, rotated))
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	// Integrity snapshot anchors the last hash.
	snapRaw, err := os.ReadFile(filepath.Join(dir, IntegritySnapshot))
	require.NoError(t, err)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(snapRaw, &snap))
	assert.Equal(t, rotated, snap["rotated_file"])
	assert.NotEmpty(t, snap["last_hash"])
	assert.Equal(t, true, snap["compressed"])

	m := l.Metrics()
	assert.GreaterOrEqual(t, m.RotationCount, 1)
	assert.Greater(t, m.RotatedOriginalBytes, int64(0))

	// Chain restarts cleanly after rotation.
	l.Write(EventPin, "h", nil)
	count, err := Verify(l.Path())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
