// Package risk transforms signal frames into sized frames by adding a
// position_size column. All models return a size of zero for invalid inputs
// (non-positive price, out-of-range probabilities, non-finite results).
package risk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// DefaultEquity is the notional account value sizing is computed against.
const DefaultEquity = 100_000.0

// Spec selects a sizing model and its parameters.
type Spec struct {
	Model  string         `json:"model"`
	Params map[string]any `json:"params"`
}

// Apply sizes every signaled bar of the frame according to the spec,
// returning a copy with a position_size column. Bars with a NaN signal get
// size zero.
func Apply(spec Spec, frame *domain.Frame, equity float64) (*domain.Frame, error) {
	if equity <= 0 {
		equity = DefaultEquity
	}
	closes := frame.Column(domain.ColClose)
	signal := frame.Column(domain.ColSignal)
	if closes == nil || signal == nil {
		return nil, &domain.ConfigError{Field: "risk", Reason: "frame must carry close and signal columns"}
	}

	sizes := make([]float64, frame.Len())
	switch spec.Model {
	case "fixed_fraction":
		fraction := floatOr(spec.Params, "fraction", 0.1)
		if fraction <= 0 || fraction > 1 {
			return nil, &domain.ConfigError{Field: "risk.fraction", Reason: "must be in (0,1]"}
		}
		for i := range sizes {
			if math.IsNaN(signal[i]) {
				continue
			}
			sizes[i] = fixedFractionSize(equity, closes[i], fraction)
		}

	case "volatility_target":
		targetVol := floatOr(spec.Params, "target_vol", 0.15)
		lookback := intOr(spec.Params, "lookback", 20)
		baseFraction := floatOr(spec.Params, "base_fraction", 0.1)
		if lookback <= 1 {
			return nil, &domain.ConfigError{Field: "risk.lookback", Reason: "must be > 1"}
		}
		realized := rollingStd(returns(closes), lookback)
		for i := range sizes {
			if math.IsNaN(signal[i]) {
				continue
			}
			sizes[i] = volatilityTargetSize(equity, closes[i], targetVol, realized[i], baseFraction)
		}

	case "kelly_fraction":
		pWin := floatOr(spec.Params, "p_win", 0.55)
		payoffRatio := floatOr(spec.Params, "payoff_ratio", 1.0)
		baseFraction := floatOr(spec.Params, "base_fraction", 0.5)
		for i := range sizes {
			if math.IsNaN(signal[i]) {
				continue
			}
			sizes[i] = kellyFractionSize(equity, closes[i], pWin, payoffRatio, baseFraction)
		}

	default:
		return nil, &domain.ConfigError{Field: "risk.model", Reason: fmt.Sprintf("unsupported risk model %q", spec.Model)}
	}

	out := frame.Clone()
	out.MustSetColumn(domain.ColPositionSz, sizes)
	return out, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func fixedFractionSize(equity, price, fraction float64) float64 {
	if price <= 0 || math.IsNaN(price) {
		return 0
	}
	notional := equity * fraction
	if notional <= 0 {
		return 0
	}
	size := notional / price
	if !isFinite(size) {
		return 0
	}
	return size
}

// volatilityTargetSize scales the allocated fraction inversely with realized
// volatility, capped at a full allocation.
func volatilityTargetSize(equity, price, targetVol, realizedVol, baseFraction float64) float64 {
	if price <= 0 || realizedVol <= 0 || targetVol <= 0 || math.IsNaN(realizedVol) {
		return 0
	}
	fraction := math.Min(1, baseFraction*(targetVol/realizedVol))
	return fixedFractionSize(equity, price, fraction)
}

// kellyFractionSize computes f* = clamp(p - (1-p)/R, 0, 1) dampened by
// baseFraction.
func kellyFractionSize(equity, price, pWin, payoffRatio, baseFraction float64) float64 {
	if price <= 0 || payoffRatio <= 0 {
		return 0
	}
	if pWin < 0 || pWin > 1 {
		return 0
	}
	kelly := pWin - (1-pWin)/payoffRatio
	if !isFinite(kelly) {
		return 0
	}
	kelly = math.Max(0, math.Min(1, kelly))
	return fixedFractionSize(equity, price, math.Min(1, kelly*baseFraction))
}

// returns computes simple per-bar returns; index 0 is NaN.
func returns(prices []float64) []float64 {
	out := domain.NaNSeries(len(prices))
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			out[i] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return out
}

// rollingStd is the population standard deviation over the trailing lookback
// values; NaN until the window is full.
func rollingStd(series []float64, lookback int) []float64 {
	out := domain.NaNSeries(len(series))
	window := make([]float64, 0, lookback)
	for i := range series {
		start := i - lookback + 1
		if start < 0 {
			continue
		}
		window = window[:0]
		valid := true
		for j := start; j <= i; j++ {
			if math.IsNaN(series[j]) {
				valid = false
				break
			}
			window = append(window, series[j])
		}
		if !valid {
			continue
		}
		mean := stat.Mean(window, nil)
		varSum := 0.0
		for _, v := range window {
			varSum += (v - mean) * (v - mean)
		}
		out[i] = math.Sqrt(varSum / float64(len(window)))
	}
	return out
}

func floatOr(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
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
