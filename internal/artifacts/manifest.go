// Package artifacts writes the per-run artifact set and its hash-chained
// manifest, and serves the whitelisted artifact index.
package artifacts

import (
	"fmt"
	"sort"

	"github.com/friscapuff/alphaforge-brain/internal/canonical"
)

// Entry describes one content file of a manifest, unique by name.
type Entry struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// Manifest is the canonical artifact manifest. Once written it is never
// mutated; retention demotion removes content files but leaves the manifest
// in place.
type Manifest struct {
	Entries    []Entry `json:"entries"`
	ChainPrev  string  `json:"chain_prev,omitempty"`
	DataHash   string  `json:"data_hash,omitempty"`
	CalendarID string  `json:"calendar_id,omitempty"`
	Symbol     string  `json:"symbol,omitempty"`
	Timeframe  string  `json:"timeframe,omitempty"`

	// Runtime fields excluded from the canonical form.
	ManifestHash    string `json:"manifest_hash,omitempty"`
	MetricsHash     string `json:"metrics_hash,omitempty"`
	EquityCurveHash string `json:"equity_curve_hash,omitempty"`
}

// Validate rejects duplicate entry names.
func (m *Manifest) Validate() error {
	seen := map[string]struct{}{}
	for _, e := range m.Entries {
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("duplicate artifact name: %s", e.Name)
		}
		seen[e.Name] = struct{}{}
	}
	return nil
}

// CanonicalMap renders the hash-participating fields: entries sorted by
// name, optional chain and dataset fields included only when present.
func (m *Manifest) CanonicalMap() map[string]any {
	entries := make([]Entry, len(m.Entries))
	copy(entries, m.Entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	list := make([]any, len(entries))
	for i, e := range entries {
		list[i] = map[string]any{
			"name":   e.Name,
			"kind":   e.Kind,
			"sha256": e.SHA256,
			"bytes":  e.Bytes,
		}
	}
	out := map[string]any{"entries": list}
	if m.ChainPrev != "" {
		out["chain_prev"] = m.ChainPrev
	}
	if m.DataHash != "" {
		out["data_hash"] = m.DataHash
	}
	if m.CalendarID != "" {
		out["calendar_id"] = m.CalendarID
	}
	if m.Symbol != "" {
		out["symbol"] = m.Symbol
	}
	if m.Timeframe != "" {
		out["timeframe"] = m.Timeframe
	}
	return out
}

// Hash computes the canonical manifest hash.
func (m *Manifest) Hash() string {
	return canonical.MustHash(m.CanonicalMap())
}
