package validation

import (
	"math"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// ExtractReturns derives the per-trade return series validation operates on.
// Preference order: trade-level return_pct, then pnl/(qty*entry_price), then
// equity-curve percentage changes when positions are supplied.
func ExtractReturns(trades []domain.CompletedTrade, positions []domain.PositionRow) []float64 {
	if len(trades) > 0 {
		out := make([]float64, 0, len(trades))
		for _, tr := range trades {
			r := tr.ReturnPct
			if math.IsNaN(r) || r == 0 && tr.Pnl != 0 {
				denom := math.Abs(tr.Qty) * tr.EntryPrice
				if denom != 0 {
					r = tr.Pnl / denom
				}
			}
			if !math.IsNaN(r) {
				out = append(out, r)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	if len(positions) > 1 {
		out := make([]float64, 0, len(positions)-1)
		for i := 1; i < len(positions); i++ {
			prev := positions[i-1].Equity
			if prev != 0 {
				out = append(out, (positions[i].Equity-prev)/prev)
			}
		}
		return out
	}
	return nil
}

// sampleBlocks draws (start, end) index pairs of the given block size until
// the cumulative length covers n observations. End is exclusive and may
// exceed n; callers clamp segment reads.
func sampleBlocks(n, blockSize int, intn func(int) int) [][2]int {
	if n <= 0 {
		return nil
	}
	if blockSize < 1 {
		blockSize = 1
	}
	var blocks [][2]int
	covered := 0
	for covered < n {
		limit := n - blockSize + 1
		if limit < 1 {
			limit = 1
		}
		start := intn(limit)
		blocks = append(blocks, [2]int{start, start + blockSize})
		covered += blockSize
	}
	return blocks
}

// concatBlocks assembles sampled blocks into a length-n series.
func concatBlocks(arr []float64, blocks [][2]int, n int) []float64 {
	out := make([]float64, 0, n)
	for _, b := range blocks {
		end := b[1]
		if end > len(arr) {
			end = len(arr)
		}
		out = append(out, arr[b[0]:end]...)
		if len(out) >= n {
			break
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func populationStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mu := mean(xs)
	sum := 0.0
	for _, x := range xs {
		sum += (x - mu) * (x - mu)
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// oneSidedP is the add-one-smoothed one-sided p-value:
// (count(dist >= observed) + 1) / (n + 1).
func oneSidedP(dist []float64, observed float64) float64 {
	count := 0
	for _, v := range dist {
		if v >= observed {
			count++
		}
	}
	return float64(count+1) / float64(len(dist)+1)
}
