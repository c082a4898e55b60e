package validation

import (
	"math"
	"sort"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// walk-forward fold Sharpe uses daily annualization.
var foldSharpeScale = math.Sqrt(252)

// Fold is the per-fold walk-forward report.
type Fold struct {
	Fold        int     `json:"fold"`
	StartTs     int64   `json:"start"`
	EndTs       int64   `json:"end"`
	NTrades     int     `json:"n_trades"`
	Sharpe      float64 `json:"sharpe"`
	Return      float64 `json:"return"`
	MaxDrawdown float64 `json:"max_dd"`
}

// WalkForwardSummary aggregates fold metrics.
type WalkForwardSummary struct {
	NFolds     int     `json:"n_folds"`
	SharpeMean float64 `json:"sharpe_mean"`
	SharpeMin  float64 `json:"sharpe_min"`
	SharpeMax  float64 `json:"sharpe_max"`
	MaxDDWorst float64 `json:"max_dd_worst"`
}

// WalkForwardResult bundles folds and their aggregate.
type WalkForwardResult struct {
	Folds   []Fold             `json:"folds"`
	Summary WalkForwardSummary `json:"summary"`
}

// WalkForward partitions the trade sequence (ordered by exit timestamp,
// falling back to entry) into nFolds contiguous folds of nearly equal size
// and evaluates each fold on its own return series.
func WalkForward(trades []domain.CompletedTrade, nFolds int) *WalkForwardResult {
	if nFolds <= 0 || len(trades) == 0 {
		return &WalkForwardResult{Folds: []Fold{}}
	}
	ordered := make([]domain.CompletedTrade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return foldTs(ordered[i]) < foldTs(ordered[j])
	})
	total := len(ordered)
	if total < nFolds {
		nFolds = total
	}
	sizes := make([]int, nFolds)
	for i := range sizes {
		sizes[i] = total / nFolds
	}
	for i := 0; i < total%nFolds; i++ {
		sizes[i]++
	}

	var folds []Fold
	start := 0
	for i, sz := range sizes {
		segment := ordered[start : start+sz]
		start += sz
		returns := ExtractReturns(segment, nil)
		sharpe, ret, maxDD := foldMetrics(returns)
		folds = append(folds, Fold{
			Fold:        i + 1,
			StartTs:     foldTs(segment[0]),
			EndTs:       foldTs(segment[len(segment)-1]),
			NTrades:     len(segment),
			Sharpe:      sharpe,
			Return:      ret,
			MaxDrawdown: maxDD,
		})
	}
	return &WalkForwardResult{Folds: folds, Summary: summarizeFolds(folds)}
}

func summarizeFolds(folds []Fold) WalkForwardSummary {
	s := WalkForwardSummary{NFolds: len(folds)}
	if len(folds) == 0 {
		return s
	}
	s.SharpeMin = math.Inf(1)
	s.SharpeMax = math.Inf(-1)
	sum := 0.0
	for _, f := range folds {
		sum += f.Sharpe
		if f.Sharpe < s.SharpeMin {
			s.SharpeMin = f.Sharpe
		}
		if f.Sharpe > s.SharpeMax {
			s.SharpeMax = f.Sharpe
		}
		if f.MaxDrawdown < s.MaxDDWorst {
			s.MaxDDWorst = f.MaxDrawdown
		}
	}
	s.SharpeMean = sum / float64(len(folds))
	return s
}

func foldMetrics(returns []float64) (sharpe, totalReturn, maxDD float64) {
	if len(returns) == 0 {
		return 0, 0, 0
	}
	mu := mean(returns)
	sigma := populationStd(returns)
	if sigma > 0 {
		sharpe = mu / sigma * foldSharpeScale
	}
	cum := 1.0
	peak := 1.0
	for _, r := range returns {
		cum *= 1 + r
		if cum > peak {
			peak = cum
		}
		if dd := cum/peak - 1; dd < maxDD {
			maxDD = dd
		}
	}
	totalReturn = cum - 1
	return sharpe, totalReturn, maxDD
}

func foldTs(tr domain.CompletedTrade) int64 {
	if tr.ExitTs != 0 {
		return tr.ExitTs
	}
	return tr.EntryTs
}
