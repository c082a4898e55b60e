// Package run ties the pipeline together: run configuration, canonical run
// hashing, the staged orchestrator, the in-memory registry with per-hash
// single-flight, and the replayable event buffer.
package run

import (
	"time"

	"github.com/friscapuff/alphaforge-brain/internal/canonical"
	"github.com/friscapuff/alphaforge-brain/internal/dataset"
	"github.com/friscapuff/alphaforge-brain/internal/domain"
	"github.com/friscapuff/alphaforge-brain/internal/execution"
	"github.com/friscapuff/alphaforge-brain/internal/indicators"
	"github.com/friscapuff/alphaforge-brain/internal/risk"
	"github.com/friscapuff/alphaforge-brain/internal/validation"
)

// StrategySpec names a strategy and its parameters.
type StrategySpec struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// Config is the immutable run configuration. It is constructed from the
// submission payload, validated once, and never mutated.
type Config struct {
	Symbol     string            `json:"symbol"`
	Timeframe  string            `json:"timeframe"`
	Start      string            `json:"start"` // ISO date
	End        string            `json:"end"`   // ISO date
	Indicators []indicators.Spec `json:"indicators"`
	Strategy   StrategySpec      `json:"strategy"`
	Risk       risk.Spec         `json:"risk"`
	Execution  execution.Spec    `json:"execution"`
	Validation validation.Spec   `json:"validation"`
	Seed       *int64            `json:"seed,omitempty"`
}

// Validate enforces cross-field rules. Strategy-specific constraints live
// here because they gate submission, not execution.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return &domain.ConfigError{Field: "symbol", Reason: "required"}
	}
	if c.Timeframe == "" {
		return &domain.ConfigError{Field: "timeframe", Reason: "required"}
	}
	if c.Strategy.Name == "" {
		return &domain.ConfigError{Field: "strategy.name", Reason: "required"}
	}
	if c.Risk.Model == "" {
		return &domain.ConfigError{Field: "risk.model", Reason: "required"}
	}
	if c.Start != "" && c.End != "" {
		start, err1 := time.Parse("2006-01-02", c.Start)
		end, err2 := time.Parse("2006-01-02", c.End)
		if err1 != nil {
			return &domain.ConfigError{Field: "start", Reason: "invalid ISO date"}
		}
		if err2 != nil {
			return &domain.ConfigError{Field: "end", Reason: "invalid ISO date"}
		}
		if end.Before(start) {
			return &domain.ConfigError{Field: "end", Reason: "end before start"}
		}
	}
	if c.Strategy.Name == "dual_sma" {
		fast, fok := intValue(c.Strategy.Params, "fast", "short_window")
		slow, sok := intValue(c.Strategy.Params, "slow", "long_window")
		if fok && sok && fast >= slow {
			return &domain.ConfigError{Field: "strategy.params", Reason: "dual_sma fast must be < slow"}
		}
	}
	return nil
}

// CanonicalMap renders the config into the canonical value model for
// hashing. Mapping keys mirror the submission payload schema.
func (c *Config) CanonicalMap() map[string]any {
	inds := make([]any, len(c.Indicators))
	for i, spec := range c.Indicators {
		inds[i] = map[string]any{"name": spec.Name, "params": anyMap(spec.Params)}
	}
	m := map[string]any{
		"symbol":    c.Symbol,
		"timeframe": c.Timeframe,
		"start":     c.Start,
		"end":       c.End,
		"indicators": inds,
		"strategy":  map[string]any{"name": c.Strategy.Name, "params": anyMap(c.Strategy.Params)},
		"risk":      map[string]any{"model": c.Risk.Model, "params": anyMap(c.Risk.Params)},
		"execution": executionMap(c.Execution),
		"validation": validationMap(c.Validation),
	}
	if c.Seed != nil {
		m["seed"] = *c.Seed
	} else {
		m["seed"] = nil
	}
	return m
}

// Hash computes the canonical run hash. When dataset metadata is resolvable
// for the config's symbol, dataset provenance (symbol, timeframe,
// data_hash) is folded in so a dataset change produces a new run hash; the
// bare-config hash is the legacy fallback.
func (c *Config) Hash(meta *dataset.Metadata) string {
	base := c.CanonicalMap()
	if meta != nil {
		base["_dataset"] = map[string]any{
			"symbol":    meta.Symbol,
			"timeframe": c.Timeframe,
			"data_hash": meta.DataHash,
		}
	}
	return canonical.MustHash(base)
}

// StrategyHash is the compact strategy identity recorded on run records:
// name plus the parameter values in key order.
func (c *Config) StrategyHash() string {
	return canonical.MustHash(map[string]any{
		"name":   c.Strategy.Name,
		"params": anyMap(c.Strategy.Params),
	})
}

func executionMap(e execution.Spec) map[string]any {
	m := map[string]any{
		"fee_bps":      e.FeeBps,
		"slippage_bps": e.SlippageBps,
	}
	if e.SlippageModel != nil {
		m["slippage_model"] = map[string]any{
			"model":  e.SlippageModel.Model,
			"params": anyMap(e.SlippageModel.Params),
		}
	}
	return m
}

func validationMap(v validation.Spec) map[string]any {
	m := map[string]any{}
	if v.Permutation != nil {
		m["permutation"] = map[string]any{"n": v.Permutation.N}
	}
	if v.BlockBootstrap != nil {
		bb := map[string]any{"n_iter": v.BlockBootstrap.NIter, "block_size": v.BlockBootstrap.BlockSize}
		if v.BlockBootstrap.Method != "" {
			bb["method"] = v.BlockBootstrap.Method
		}
		m["block_bootstrap"] = bb
	}
	if v.MonteCarlo != nil {
		m["monte_carlo"] = map[string]any{
			"n_iter": v.MonteCarlo.NIter,
			"model":  v.MonteCarlo.Model,
			"params": anyMap(v.MonteCarlo.Params),
		}
	}
	if v.WalkForward != nil {
		m["walk_forward"] = map[string]any{"n_folds": v.WalkForward.NFolds}
	}
	if v.Gates != nil && v.Gates.BlockBootstrap != nil {
		m["gates"] = map[string]any{
			"block_bootstrap": map[string]any{"max_ci_width": v.Gates.BlockBootstrap.MaxCIWidth},
		}
	}
	return m
}

func anyMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return in
}

func intValue(params map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := params[k].(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}
