package retention

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friscapuff/alphaforge-brain/internal/artifacts"
	"github.com/friscapuff/alphaforge-brain/internal/audit"
	"github.com/friscapuff/alphaforge-brain/internal/coldstorage"
	"github.com/friscapuff/alphaforge-brain/internal/domain"
	"github.com/friscapuff/alphaforge-brain/internal/run"
)

// Manager applies retention plans to the registry and the filesystem.
// Planning reads a registry snapshot without holding locks across I/O;
// record state transitions happen after the physical move completes.
type Manager struct {
	registry *run.Registry
	root     string
	auditLog *audit.Log
	cold     *coldstorage.Service // nil disables offload
	log      zerolog.Logger

	mu  sync.Mutex
	cfg Config
}

// NewManager creates a retention manager over the registry and artifact
// root.
func NewManager(registry *run.Registry, artifactRoot string, auditLog *audit.Log, cold *coldstorage.Service, cfg Config, log zerolog.Logger) *Manager {
	if cfg.KeepLast <= 0 {
		cfg = DefaultConfig()
	}
	return &Manager{
		registry: registry,
		root:     artifactRoot,
		auditLog: auditLog,
		cold:     cold,
		cfg:      cfg,
		log:      log.With().Str("service", "retention").Logger(),
	}
}

// Config returns the active retention configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// UpdateConfig validates and applies new thresholds, audits the change, and
// immediately re-applies the plan.
func (m *Manager) UpdateConfig(cfg Config) error {
	if cfg.KeepLast < 1 || cfg.KeepLast > 500 {
		return &domain.ConfigError{Field: "keep_last", Reason: "out of bounds [1,500]"}
	}
	if cfg.TopKPerStrategy < 0 || cfg.TopKPerStrategy > 50 {
		return &domain.ConfigError{Field: "top_k_per_strategy", Reason: "out of bounds [0,50]"}
	}
	if cfg.MaxFullBytes < 0 {
		return &domain.ConfigError{Field: "max_full_bytes", Reason: "must be >= 0"}
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	m.auditLog.Write(audit.EventRetentionConfig, "", map[string]any{
		"keep_last":      cfg.KeepLast,
		"top_k":          cfg.TopKPerStrategy,
		"max_full_bytes": cfg.MaxFullBytes,
	})
	_ = m.Apply(context.Background())
	return nil
}

// Plan produces the dry-run classification for the current registry
// contents under the active configuration.
func (m *Manager) Plan() *Plan {
	return BuildPlan(m.registry.List(), m.Config(), RunDirBytes(m.root))
}

// Diff classifies under an alternative configuration without applying it.
func (m *Manager) Diff(alt Config) *Plan {
	return BuildPlan(m.registry.List(), alt, RunDirBytes(m.root))
}

// Apply computes and applies the retention plan: records get their
// retention_state, demoted runs have non-manifest content moved into
// .evicted/ (then offloaded when cold storage is enabled), and the audit
// chain records one DEMOTE per demotion plus a RETENTION_APPLY summary.
func (m *Manager) Apply(ctx context.Context) *Plan {
	plan := m.Plan()

	for hash := range plan.Demote {
		rec, err := m.registry.Get(hash)
		if err != nil || rec.Pinned {
			continue
		}
		m.demote(ctx, hash)
		rec.RetentionState = run.RetentionManifestOnly
	}
	for _, rec := range m.registry.List() {
		if _, demoted := plan.Demote[rec.RunHash]; demoted {
			continue
		}
		switch {
		case rec.Pinned:
			rec.RetentionState = run.RetentionPinned
		case contains(plan.TopK, rec.RunHash):
			rec.RetentionState = run.RetentionTopK
		default:
			rec.RetentionState = run.RetentionFull
		}
	}

	for _, hash := range sortedKeys(plan.Demote) {
		m.auditLog.Write(audit.EventDemote, hash, nil)
	}
	m.auditLog.Write(audit.EventRetentionApply, "", map[string]any{
		"kept":    len(plan.KeepFull),
		"demoted": len(plan.Demote),
	})
	m.log.Info().Int("kept", len(plan.KeepFull)).Int("demoted", len(plan.Demote)).Msg("Retention applied")
	return plan
}

// demote moves all non-manifest content files into the run's .evicted
// staging dir, then offloads them when cold storage is enabled.
func (m *Manager) demote(ctx context.Context, runHash string) {
	runDir := filepath.Join(m.root, runHash)
	evicted := filepath.Join(runDir, artifacts.EvictedDir)
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return
	}
	if err := os.MkdirAll(evicted, 0o755); err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == artifacts.FileManifest || e.Name() == coldstorage.ManifestName {
			continue
		}
		src := filepath.Join(runDir, e.Name())
		if err := os.Rename(src, filepath.Join(evicted, e.Name())); err != nil {
			m.log.Warn().Err(err).Str("file", e.Name()).Msg("Eviction move failed")
		}
	}
	if m.cold != nil {
		files, err := os.ReadDir(evicted)
		if err != nil {
			return
		}
		var paths []string
		for _, f := range files {
			if !f.IsDir() {
				paths = append(paths, filepath.Join(evicted, f.Name()))
			}
		}
		if err := m.cold.Offload(ctx, runHash, paths); err != nil {
			m.log.Warn().Err(err).Str("run_hash", runHash[:12]).Msg("Cold storage offload failed")
		}
	}
}

// Pin marks a run kept regardless of age or rank.
func (m *Manager) Pin(runHash string) (*run.Record, error) {
	rec, err := m.registry.Get(runHash)
	if err != nil {
		return nil, err
	}
	rec.Pinned = true
	rec.RetentionState = run.RetentionPinned
	m.auditLog.Write(audit.EventPin, runHash, map[string]any{"retention_state": rec.RetentionState})
	return rec, nil
}

// Unpin clears the pin flag and sets a run in the pinned state to full; the
// retention plan is not consulted.
func (m *Manager) Unpin(runHash string) (*run.Record, error) {
	rec, err := m.registry.Get(runHash)
	if err != nil {
		return nil, err
	}
	rec.Pinned = false
	if rec.RetentionState == run.RetentionPinned {
		rec.RetentionState = run.RetentionFull
	}
	m.auditLog.Write(audit.EventUnpin, runHash, map[string]any{"retention_state": rec.RetentionState})
	return rec, nil
}

// RehydrateResult reports a rehydrate or restore outcome.
type RehydrateResult struct {
	Restored bool `json:"restored"`
	Noop     bool `json:"noop"`
}

// Rehydrate moves evicted files back into the run directory and restores
// the full retention state. Rehydrating a run that is already full is a
// successful no-op.
func (m *Manager) Rehydrate(runHash string) (*RehydrateResult, error) {
	rec, err := m.registry.Get(runHash)
	if err != nil {
		return nil, err
	}
	if rec.RetentionState != run.RetentionManifestOnly {
		m.auditLog.Write(audit.EventRehydrate, runHash, map[string]any{"restored": false, "noop": true})
		return &RehydrateResult{Restored: false, Noop: true}, nil
	}
	restored := m.moveBackEvicted(runHash)
	rec.RetentionState = run.RetentionFull
	m.auditLog.Write(audit.EventRehydrate, runHash, map[string]any{"restored": restored})
	return &RehydrateResult{Restored: restored}, nil
}

// Restore fetches a demoted run's content from cold storage, falling back
// to local rehydration when the cold path is unavailable or fails.
func (m *Manager) Restore(ctx context.Context, runHash string) (*RehydrateResult, error) {
	rec, err := m.registry.Get(runHash)
	if err != nil {
		return nil, err
	}
	if rec.RetentionState != run.RetentionManifestOnly {
		m.auditLog.Write(audit.EventRestore, runHash, map[string]any{"cold": false, "noop": true})
		return &RehydrateResult{Restored: false, Noop: true}, nil
	}
	restored := false
	cold := false
	if m.cold != nil && m.cold.HasManifest(runHash) {
		ok, err := m.cold.Restore(ctx, runHash)
		if err != nil {
			m.log.Warn().Err(err).Str("run_hash", runHash[:12]).Msg("Cold restore failed; falling back to local rehydrate")
		} else {
			restored, cold = ok, true
		}
	}
	if !cold {
		restored = m.moveBackEvicted(runHash)
	}
	if restored || cold {
		rec.RetentionState = run.RetentionFull
	}
	m.auditLog.Write(audit.EventRestore, runHash, map[string]any{"cold": cold, "fallback": !cold})
	return &RehydrateResult{Restored: restored}, nil
}

func (m *Manager) moveBackEvicted(runHash string) bool {
	runDir := filepath.Join(m.root, runHash)
	evicted := filepath.Join(runDir, artifacts.EvictedDir)
	entries, err := os.ReadDir(evicted)
	if err != nil {
		return false
	}
	restored := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Rename(filepath.Join(evicted, e.Name()), filepath.Join(runDir, e.Name())); err == nil {
			restored = true
		}
	}
	return restored
}

// StateMetrics summarizes per-state record counts and on-disk bytes.
type StateMetrics struct {
	Counts          map[string]int   `json:"counts"`
	Bytes           map[string]int64 `json:"bytes"`
	TotalBytes      int64            `json:"total_bytes"`
	BudgetRemaining *int64           `json:"budget_remaining,omitempty"`
}

// Metrics enumerates the filesystem directly; sizes are authoritative and
// never cached.
func (m *Manager) Metrics() *StateMetrics {
	sizeOf := RunDirBytes(m.root)
	out := &StateMetrics{
		Counts: map[string]int{run.RetentionFull: 0, run.RetentionPinned: 0, run.RetentionTopK: 0, run.RetentionManifestOnly: 0},
		Bytes:  map[string]int64{run.RetentionFull: 0, run.RetentionPinned: 0, run.RetentionTopK: 0, run.RetentionManifestOnly: 0},
	}
	for _, rec := range m.registry.List() {
		state := rec.RetentionState
		if state == "" {
			state = run.RetentionFull
		}
		out.Counts[state]++
		b := sizeOf(rec.RunHash)
		out.Bytes[state] += b
		out.TotalBytes += b
	}
	cfg := m.Config()
	if cfg.MaxFullBytes > 0 {
		remaining := cfg.MaxFullBytes - out.Bytes[run.RetentionFull]
		if remaining < 0 {
			remaining = 0
		}
		out.BudgetRemaining = &remaining
	}
	return out
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
