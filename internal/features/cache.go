package features

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friscapuff/alphaforge-brain/internal/canonical"
	"github.com/friscapuff/alphaforge-brain/internal/domain"
	"github.com/friscapuff/alphaforge-brain/internal/indicators"
)

// Cache is the content-addressed on-disk feature cache. The key combines the
// candle hash, the sorted indicator signatures, and the engine version, so a
// change to any of the three produces a fresh entry. Entries are written via
// tmp-rename; corrupted entries are rebuilt and overwritten.
type Cache struct {
	root string
	log  zerolog.Logger

	csvFallbackOnce sync.Once
}

// NewCache creates a feature cache rooted at dir.
func NewCache(dir string, log zerolog.Logger) *Cache {
	return &Cache{root: dir, log: log.With().Str("service", "feature_cache").Logger()}
}

// Path returns the cache file path for the given key components. The name
// keeps the .parquet extension even when the CSV fallback encoding is in
// use.
func (c *Cache) Path(candleHash string, set *indicators.Set, engineVersion string) string {
	digest := canonical.SHA256Text(set.Signature() + "|" + engineVersion)[:16]
	return filepath.Join(c.root, fmt.Sprintf("%s_%s.parquet", candleHash, digest))
}

// LoadOrBuild returns the cached feature frame for the key, building and
// persisting it on miss. A hit does not rewrite the file.
func (c *Cache) LoadOrBuild(
	frame *domain.Frame,
	set *indicators.Set,
	engineVersion string,
	candleHash string,
	build func(*domain.Frame) (*domain.Frame, error),
) (*domain.Frame, error) {
	path := c.Path(candleHash, set, engineVersion)
	if _, err := os.Stat(path); err == nil {
		cached, err := c.read(path)
		if err == nil {
			return cached, nil
		}
		c.log.Warn().Err(err).Str("path", path).Msg("Corrupted feature cache entry; rebuilding")
		_ = os.Remove(path)
	}
	built, err := build(frame)
	if err != nil {
		return nil, err
	}
	if err := c.write(path, built); err != nil {
		// Cache write failure is not fatal for the run.
		c.log.Warn().Err(err).Str("path", path).Msg("Feature cache write failed")
	}
	return built, nil
}

func (c *Cache) write(path string, frame *domain.Frame) error {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := writeParquet(f, frame); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		// Columnar engine unavailable or rejected the frame: fall back to the
		// CSV encoding, keeping the .parquet name.
		c.csvFallbackOnce.Do(func() {
			c.log.Warn().Err(err).Msg("Columnar cache encoding unavailable; using CSV fallback")
		})
		if err := writeCSVFallback(tmp, frame); err != nil {
			_ = os.Remove(tmp)
			return err
		}
		return os.Rename(tmp, path)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (c *Cache) read(path string) (*domain.Frame, error) {
	frame, perr := readParquet(path)
	if perr == nil {
		return restoreColumnOrder(frame), nil
	}
	frame, cerr := readCSVFallback(path)
	if cerr == nil {
		return frame, nil
	}
	return nil, fmt.Errorf("parquet: %v; csv fallback: %w", perr, cerr)
}

// restoreColumnOrder rebuilds the engine's deterministic column ordering
// after a parquet round-trip (the columnar schema sorts fields by name):
// base columns first in canonical order, then feature columns sorted by
// indicator group and full name.
func restoreColumnOrder(frame *domain.Frame) *domain.Frame {
	var features []string
	for _, c := range frame.Columns() {
		if !domain.IsBaseColumn(c) {
			features = append(features, c)
		}
	}
	sort.Slice(features, func(i, j int) bool {
		gi, gj := groupOf(features[i]), groupOf(features[j])
		if gi != gj {
			return gi < gj
		}
		return features[i] < features[j]
	})
	out := domain.NewFrame(frame.Ts)
	for _, c := range domain.BaseColumns {
		if frame.HasColumn(c) {
			out.MustSetColumn(c, frame.Column(c))
		}
	}
	for _, c := range features {
		out.MustSetColumn(c, frame.Column(c))
	}
	return out
}
