package validation

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// sharpeScale annualizes a minute-level Sharpe: sqrt(252 trading days of
// minutes). The factor is cadence-blind by inherited contract; revisiting it
// is tracked as an open design decision.
var sharpeScale = math.Sqrt(252 * 24 * 60)

// MonteCarloResult reports the slippage stress test: the distribution of
// annualized-Sharpe deltas against the unstressed baseline.
type MonteCarloResult struct {
	Distribution   []float64 `json:"distribution"`
	ObservedMetric float64   `json:"observed_metric"`
	PValue         float64   `json:"p_value"`
}

// MonteCarloConfig selects the additive cost-noise model.
type MonteCarloConfig struct {
	NIter  int            `json:"n_iter"`
	Model  string         `json:"model"` // normal | uniform
	Params map[string]any `json:"params"`
}

// MonteCarloSlippage perturbs the return series with additive negative noise
// drawn from the configured model and measures the distribution of Sharpe
// deltas; the p-value is the fraction of deltas at or above zero.
func MonteCarloSlippage(trades []domain.CompletedTrade, positions []domain.PositionRow, cfg MonteCarloConfig, seed int64) (*MonteCarloResult, error) {
	returns := ExtractReturns(trades, positions)
	if len(returns) == 0 {
		return &MonteCarloResult{PValue: 1, Distribution: []float64{}}, nil
	}
	baseline := annualizedSharpe(returns)

	model := cfg.Model
	if model == "" {
		model = "normal"
	}
	var sample func(rngSeed int64, n int) []float64
	switch model {
	case "normal":
		mu := floatOr(cfg.Params, "mu", 0.0001)
		sigma := floatOr(cfg.Params, "sigma", 0.0002)
		sample = func(rngSeed int64, n int) []float64 {
			dist := distuv.Normal{Mu: mu, Sigma: sigma, Src: newSource(rngSeed)}
			out := make([]float64, n)
			for i := range out {
				v := dist.Rand()
				if v < 0 {
					v = 0 // costs only; clip at zero
				}
				out[i] = v
			}
			return out
		}
	case "uniform":
		low := floatOr(cfg.Params, "low", 0.0)
		high := floatOr(cfg.Params, "high", 0.0004)
		sample = func(rngSeed int64, n int) []float64 {
			dist := distuv.Uniform{Min: low, Max: high, Src: newSource(rngSeed)}
			out := make([]float64, n)
			for i := range out {
				out[i] = dist.Rand()
			}
			return out
		}
	default:
		return nil, &domain.ConfigError{Field: "validation.monte_carlo.model", Reason: "unsupported model " + model}
	}

	nIter := cfg.NIter
	dist := make([]float64, nIter)
	stressed := make([]float64, len(returns))
	for i := 0; i < nIter; i++ {
		noise := sample(SubSeed(seed, i+1), len(returns))
		for j := range returns {
			stressed[j] = returns[j] - noise[j]
		}
		dist[i] = annualizedSharpe(stressed) - baseline
	}
	count := 0
	for _, d := range dist {
		if d >= 0 {
			count++
		}
	}
	pValue := 1.0
	if nIter > 0 {
		pValue = float64(count) / float64(nIter)
	}
	return &MonteCarloResult{
		Distribution:   dist,
		ObservedMetric: baseline,
		PValue:         pValue,
	}, nil
}

func annualizedSharpe(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mu := mean(returns)
	sigma := populationStd(returns)
	if sigma == 0 {
		return 0
	}
	return mu / sigma * sharpeScale
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
