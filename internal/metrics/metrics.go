// Package metrics derives the equity curve and summary metrics from
// simulator output, plus the deterministic metric and equity-curve digests
// recorded on run records.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/friscapuff/alphaforge-brain/internal/canonical"
	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// BuildEquityCurve converts per-bar position snapshots into an equity curve
// with simple returns and a running drawdown.
func BuildEquityCurve(positions []domain.PositionRow) []domain.EquityBar {
	if len(positions) == 0 {
		return nil
	}
	out := make([]domain.EquityBar, len(positions))
	peak := positions[0].Equity
	for i, p := range positions {
		ret := 0.0
		if i > 0 && positions[i-1].Equity != 0 {
			ret = (p.Equity - positions[i-1].Equity) / positions[i-1].Equity
		}
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := 0.0
		if peak != 0 {
			dd = (p.Equity - peak) / peak
		}
		out[i] = domain.EquityBar{Ts: p.Ts, Nav: p.Equity, Return: ret, Drawdown: dd}
	}
	return out
}

// Summary holds the baseline run metrics.
type Summary struct {
	TotalReturn float64        `json:"total_return"`
	Sharpe      float64        `json:"sharpe"`
	MaxDrawdown float64        `json:"max_drawdown"`
	TradeCount  int            `json:"trade_count"`
	Anomalies   map[string]int `json:"anomaly_counters,omitempty"`
}

// Compute derives the summary metrics from the trade list and equity curve.
// Sharpe is the per-bar mean/std ratio without annualization.
func Compute(trades []domain.CompletedTrade, curve []domain.EquityBar) Summary {
	s := Summary{TradeCount: len(trades)}
	if len(curve) == 0 {
		return s
	}
	first, last := curve[0].Nav, curve[len(curve)-1].Nav
	if first != 0 {
		s.TotalReturn = last/first - 1
	}
	returns := make([]float64, 0, len(curve)-1)
	for _, bar := range curve[1:] {
		returns = append(returns, bar.Return)
	}
	if len(returns) > 0 {
		mean := stat.Mean(returns, nil)
		std := populationStd(returns, mean)
		if std > 0 {
			s.Sharpe = mean / std
		}
	}
	minDD := 0.0
	for _, bar := range curve {
		if bar.Drawdown < minDD {
			minDD = bar.Drawdown
		}
	}
	s.MaxDrawdown = minDD
	return s
}

// Map renders the summary as the canonical metrics mapping consumed by
// MetricsHash and the artifact writer.
func (s Summary) Map() map[string]any {
	m := map[string]any{
		"total_return": s.TotalReturn,
		"sharpe":       s.Sharpe,
		"max_drawdown": s.MaxDrawdown,
		"trade_count":  s.TradeCount,
	}
	return m
}

// Hash returns the deterministic metrics digest.
func (s Summary) Hash() string {
	return canonical.MetricsHash(s.Map())
}

// CurveHash returns the deterministic equity-curve digest.
func CurveHash(curve []domain.EquityBar) string {
	nav := make([]float64, len(curve))
	dd := make([]float64, len(curve))
	for i, bar := range curve {
		nav[i] = bar.Nav
		dd[i] = bar.Drawdown
	}
	return canonical.EquityCurveHash(nav, dd)
}

func populationStd(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += (x - mean) * (x - mean)
	}
	return math.Sqrt(sum / float64(len(xs)))
}
