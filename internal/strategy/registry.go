// Package strategy turns feature frames into signal timelines. Strategies
// are value-level plugins keyed by name; the causality guard wraps feature
// and strategy execution to detect signals that consume future-indexed
// information.
package strategy

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// Strategy computes the signal column for a feature frame. The signal at row
// i must derive only from information at rows <= i. A NaN signal means no
// opinion.
type Strategy func(frame *domain.Frame, params map[string]any) (*domain.Frame, error)

var registry = map[string]Strategy{
	"dual_sma": dualSMA,
}

// Get resolves a strategy by name.
func Get(name string) (Strategy, error) {
	s, ok := registry[name]
	if !ok {
		return nil, &domain.ConfigError{Field: "strategy.name", Reason: fmt.Sprintf("unknown strategy %q", name)}
	}
	return s, nil
}

// NormalizeParams rewrites legacy parameter aliases for the named strategy
// (dual_sma: fast→short_window, slow→long_window). The input map is not
// mutated.
func NormalizeParams(name string, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	if name == "dual_sma" {
		if v, ok := out["fast"]; ok {
			if _, has := out["short_window"]; !has {
				out["short_window"] = v
			}
		}
		if v, ok := out["slow"]; ok {
			if _, has := out["long_window"]; !has {
				out["long_window"] = v
			}
		}
	}
	return out
}

// dualSMA emits +1 while the short average is above the long one, -1 while
// below, and NaN while either average is still warming up. The SMA columns
// are located by their window suffix (sma_short_<n> / sma_long_<n>), falling
// back to plain sma_<n> columns when the function-style indicator was not
// configured.
func dualSMA(frame *domain.Frame, params map[string]any) (*domain.Frame, error) {
	shortW := intOr(params, "short_window", 10)
	longW := intOr(params, "long_window", 50)

	shortCol := findColumn(frame, fmt.Sprintf("sma_short_%d", shortW), fmt.Sprintf("sma_%d", shortW))
	longCol := findColumn(frame, fmt.Sprintf("sma_long_%d", longW), fmt.Sprintf("sma_%d", longW))
	if shortCol == "" || longCol == "" {
		return nil, &domain.ConfigError{
			Field:  "strategy.dual_sma",
			Reason: fmt.Sprintf("required SMA columns for windows %d/%d not present (have %s)", shortW, longW, strings.Join(featureColumns(frame), ",")),
		}
	}

	short := frame.Column(shortCol)
	long := frame.Column(longCol)
	signal := domain.NaNSeries(frame.Len())
	for i := range signal {
		if math.IsNaN(short[i]) || math.IsNaN(long[i]) {
			continue
		}
		switch {
		case short[i] > long[i]:
			signal[i] = 1
		case short[i] < long[i]:
			signal[i] = -1
		default:
			signal[i] = 0
		}
	}
	out := frame.Clone()
	out.MustSetColumn(domain.ColSignal, signal)
	return out, nil
}

func findColumn(frame *domain.Frame, candidates ...string) string {
	for _, c := range candidates {
		if frame.HasColumn(c) {
			return c
		}
	}
	return ""
}

func featureColumns(frame *domain.Frame) []string {
	var out []string
	for _, c := range frame.Columns() {
		if !domain.IsBaseColumn(c) {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func intOr(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}
