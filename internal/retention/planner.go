// Package retention classifies runs (full / top-k / pinned / manifest-only),
// physically demotes and rehydrates their artifacts, and coordinates cold
// storage offload. Every state change is recorded in the audit hash chain.
package retention

import (
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/friscapuff/alphaforge-brain/internal/artifacts"
	"github.com/friscapuff/alphaforge-brain/internal/run"
)

// Config are the retention thresholds.
type Config struct {
	KeepLast        int   `json:"keep_last"`
	TopKPerStrategy int   `json:"top_k_per_strategy"`
	MaxFullBytes    int64 `json:"max_full_bytes,omitempty"` // 0 means unbounded
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{KeepLast: 50, TopKPerStrategy: 5}
}

// Plan is the dry-run classification of the current registry contents.
type Plan struct {
	KeepFull map[string]struct{} `json:"-"`
	Demote   map[string]struct{} `json:"-"`
	Pinned   map[string]struct{} `json:"-"`
	TopK     map[string]struct{} `json:"-"`
}

// Sets renders the plan as sorted hash lists for API consumers.
func (p *Plan) Sets() map[string][]string {
	return map[string][]string{
		"keep_full": sortedKeys(p.KeepFull),
		"demote":    sortedKeys(p.Demote),
		"pinned":    sortedKeys(p.Pinned),
		"top_k":     sortedKeys(p.TopK),
	}
}

// BuildPlan classifies all records:
//  1. the newest KeepLast runs by created_at are kept;
//  2. within each strategy, the top TopKPerStrategy by primary metric
//     (missing metric ranks lowest) are kept;
//  3. pinned runs are unconditionally kept;
//  4. everything else demotes;
//  5. a MaxFullBytes budget then demotes kept non-pinned runs oldest-first
//     until the on-disk total fits.
func BuildPlan(records []*run.Record, cfg Config, runDirBytes func(runHash string) int64) *Plan {
	plan := &Plan{
		KeepFull: map[string]struct{}{},
		Demote:   map[string]struct{}{},
		Pinned:   map[string]struct{}{},
		TopK:     map[string]struct{}{},
	}
	if len(records) == 0 {
		return plan
	}

	newest := make([]*run.Record, len(records))
	copy(newest, records)
	sort.SliceStable(newest, func(i, j int) bool { return newest[i].CreatedAt > newest[j].CreatedAt })
	for i, rec := range newest {
		if i >= cfg.KeepLast {
			break
		}
		plan.KeepFull[rec.RunHash] = struct{}{}
	}

	byStrategy := map[string][]*run.Record{}
	for _, rec := range records {
		name := rec.StrategyName
		if name == "" {
			name = "_default"
		}
		byStrategy[name] = append(byStrategy[name], rec)
	}
	for _, group := range byStrategy {
		sort.SliceStable(group, func(i, j int) bool {
			return primaryMetric(group[i]) > primaryMetric(group[j])
		})
		for i, rec := range group {
			if i >= cfg.TopKPerStrategy {
				break
			}
			plan.TopK[rec.RunHash] = struct{}{}
			plan.KeepFull[rec.RunHash] = struct{}{}
		}
	}

	for _, rec := range records {
		if rec.Pinned {
			plan.Pinned[rec.RunHash] = struct{}{}
			plan.KeepFull[rec.RunHash] = struct{}{}
		}
	}

	for _, rec := range records {
		if _, kept := plan.KeepFull[rec.RunHash]; !kept {
			plan.Demote[rec.RunHash] = struct{}{}
		}
	}

	if cfg.MaxFullBytes > 0 && runDirBytes != nil {
		applyByteBudget(plan, records, cfg.MaxFullBytes, runDirBytes)
	}
	return plan
}

// applyByteBudget demotes kept non-pinned runs oldest-first until the total
// on-disk size of kept runs fits the budget. Top-k guarantees are not
// re-evaluated afterwards.
func applyByteBudget(plan *Plan, records []*run.Record, budget int64, runDirBytes func(string) int64) {
	type sized struct {
		hash      string
		createdAt int64
		bytes     int64
	}
	var candidates []sized
	var total int64
	for _, rec := range records {
		if _, kept := plan.KeepFull[rec.RunHash]; !kept {
			continue
		}
		if _, pinned := plan.Pinned[rec.RunHash]; pinned {
			continue
		}
		b := runDirBytes(rec.RunHash)
		candidates = append(candidates, sized{rec.RunHash, rec.CreatedAt, b})
		total += b
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].createdAt < candidates[j].createdAt })
	for _, c := range candidates {
		if total <= budget {
			break
		}
		delete(plan.KeepFull, c.hash)
		delete(plan.TopK, c.hash)
		plan.Demote[c.hash] = struct{}{}
		total -= c.bytes
	}
}

// RunDirBytes sums content file sizes of a run directory, excluding the
// manifest and the evicted staging dir. Sizes are never cached: eviction
// mutates the footprint between planning calls.
func RunDirBytes(root string) func(runHash string) int64 {
	return func(runHash string) int64 {
		dir := filepath.Join(root, runHash)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return 0
		}
		var total int64
		for _, e := range entries {
			if e.IsDir() || e.Name() == artifacts.FileManifest || e.Name() == artifacts.EvictedDir {
				continue
			}
			if info, err := e.Info(); err == nil {
				total += info.Size()
			}
		}
		return total
	}
}

func primaryMetric(rec *run.Record) float64 {
	if rec.PrimaryMetricValue == nil {
		return math.Inf(-1)
	}
	return *rec.PrimaryMetricValue
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
