package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// cacheKey identifies one canonical dataset variant. A policy or factors
// change produces a distinct key, so stale adjusted frames can never be
// served for a different adjustment configuration.
type cacheKey struct {
	Symbol        string
	Timeframe     string
	Policy        string
	FactorsDigest string
}

type cacheEntry struct {
	frame *domain.Frame
	meta  *Metadata
}

// Cache is the process-wide dataset cache: read-mostly, one load per key
// under a per-key lock. An optional disk snapshot (msgpack) lets warm
// processes skip CSV re-parsing.
type Cache struct {
	loader  *Loader
	diskDir string // empty disables disk snapshots

	mu      sync.RWMutex
	entries map[cacheKey]*cacheEntry
	loading map[cacheKey]*sync.Mutex

	log zerolog.Logger
}

// NewCache creates a dataset cache. diskDir may be empty to keep snapshots
// in memory only.
func NewCache(loader *Loader, diskDir string, log zerolog.Logger) *Cache {
	return &Cache{
		loader:  loader,
		diskDir: diskDir,
		entries: make(map[cacheKey]*cacheEntry),
		loading: make(map[cacheKey]*sync.Mutex),
		log:     log.With().Str("service", "dataset_cache").Logger(),
	}
}

// Get returns the cached canonical frame and metadata for opts, loading once
// per key. Concurrent callers of the same key block on a per-key lock while
// the first performs the load.
func (c *Cache) Get(opts LoadOptions) (*domain.Frame, *Metadata, error) {
	key := cacheKey{
		Symbol:    strings.ToUpper(opts.Symbol),
		Timeframe: opts.Timeframe,
		Policy:    normalizePolicy(opts.AdjustmentPolicy),
	}
	if key.Policy != PolicyNone {
		fd, err := FactorsDigest(key.Policy, opts.AdjustmentFactors)
		if err != nil {
			return nil, nil, err
		}
		key.FactorsDigest = fd
	}

	c.mu.RLock()
	if e, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		return e.frame, e.meta, nil
	}
	c.mu.RUnlock()

	loadLock := c.loadLock(key)
	loadLock.Lock()
	defer loadLock.Unlock()

	// Re-check after acquiring the load lock.
	c.mu.RLock()
	if e, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		return e.frame, e.meta, nil
	}
	c.mu.RUnlock()

	if e := c.readSnapshot(key); e != nil {
		c.store(key, e)
		return e.frame, e.meta, nil
	}

	frame, meta, err := c.loader.Load(opts)
	if err != nil {
		return nil, nil, err
	}
	e := &cacheEntry{frame: frame, meta: meta}
	c.store(key, e)
	c.writeSnapshot(key, e)
	return frame, meta, nil
}

// Lookup returns cached metadata for (symbol, timeframe) under any policy
// variant, preferring the unadjusted one. Used by run hashing, which only
// needs dataset provenance, not the frame.
func (c *Cache) Lookup(symbol, timeframe string) (*Metadata, bool) {
	_, meta, ok := c.Loaded(symbol, timeframe)
	return meta, ok
}

// Loaded returns the cached canonical frame and metadata for (symbol,
// timeframe) under any policy variant, preferring the unadjusted one.
func (c *Cache) Loaded(symbol, timeframe string) (*domain.Frame, *Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var found *cacheEntry
	for k, e := range c.entries {
		if k.Symbol == strings.ToUpper(symbol) && k.Timeframe == timeframe {
			if k.Policy == PolicyNone {
				return e.frame, e.meta, true
			}
			found = e
		}
	}
	if found == nil {
		return nil, nil, false
	}
	return found.frame, found.meta, true
}

// Put inserts an externally constructed frame into the cache under the
// "none" policy.
func (c *Cache) Put(frame *domain.Frame, meta *Metadata) {
	key := cacheKey{Symbol: strings.ToUpper(meta.Symbol), Timeframe: meta.Timeframe, Policy: PolicyNone}
	c.store(key, &cacheEntry{frame: frame, meta: meta})
}

func (c *Cache) store(key cacheKey, e *cacheEntry) {
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

func (c *Cache) loadLock(key cacheKey) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.loading[key]
	if !ok {
		l = &sync.Mutex{}
		c.loading[key] = l
	}
	return l
}

// snapshot is the msgpack disk representation of a cache entry.
type snapshot struct {
	Ts      []int64              `msgpack:"ts"`
	Columns []string             `msgpack:"columns"`
	Data    map[string][]float64 `msgpack:"data"`
	Meta    *Metadata            `msgpack:"meta"`
}

func (c *Cache) snapshotPath(key cacheKey) string {
	name := fmt.Sprintf("%s_%s_%s", key.Symbol, key.Timeframe, key.Policy)
	if key.FactorsDigest != "" {
		name += "_" + key.FactorsDigest[:16]
	}
	return filepath.Join(c.diskDir, name+".msgpack")
}

func (c *Cache) readSnapshot(key cacheKey) *cacheEntry {
	if c.diskDir == "" {
		return nil
	}
	raw, err := os.ReadFile(c.snapshotPath(key))
	if err != nil {
		return nil
	}
	var snap snapshot
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		c.log.Warn().Err(err).Str("symbol", key.Symbol).Msg("Corrupted dataset snapshot; reloading from source")
		_ = os.Remove(c.snapshotPath(key))
		return nil
	}
	frame := domain.NewFrame(snap.Ts)
	for _, col := range snap.Columns {
		series, ok := snap.Data[col]
		if !ok || len(series) != len(snap.Ts) {
			return nil
		}
		frame.MustSetColumn(col, series)
	}
	return &cacheEntry{frame: frame, meta: snap.Meta}
}

func (c *Cache) writeSnapshot(key cacheKey, e *cacheEntry) {
	if c.diskDir == "" {
		return
	}
	if err := os.MkdirAll(c.diskDir, 0o755); err != nil {
		return
	}
	snap := snapshot{Ts: e.frame.Ts, Columns: e.frame.Columns(), Data: map[string][]float64{}, Meta: e.meta}
	for _, col := range snap.Columns {
		snap.Data[col] = e.frame.Column(col)
	}
	raw, err := msgpack.Marshal(&snap)
	if err != nil {
		return
	}
	// tmp-rename so readers never observe a partial snapshot
	path := c.snapshotPath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
	}
}

func normalizePolicy(p string) string {
	if p == "" {
		return PolicyNone
	}
	return p
}
