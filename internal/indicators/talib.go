package indicators

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// Every registered indicator must be finite-window: the value at row i may
// depend only on rows (i-window, i]. Recursively smoothed indicators (EMA,
// Wilder RSI) are excluded because they would break the chunked-equals-
// monolithic guarantee.

// maskWarmup replaces the first n values with NaN. go-talib emits zeros for
// warm-up rows; canonical frames represent missing cells as NaN.
func maskWarmup(series []float64, n int) []float64 {
	for i := 0; i < n && i < len(series); i++ {
		series[i] = math.NaN()
	}
	return series
}

// SMA is a simple moving average over the close column.
type SMA struct {
	window int
}

// NewSMA creates a simple moving average indicator.
func NewSMA(window int) *SMA { return &SMA{window: window} }

func (s *SMA) Name() string             { return fmt.Sprintf("sma_%d", s.window) }
func (s *SMA) FeatureColumns() []string { return []string{fmt.Sprintf("sma_%d", s.window)} }
func (s *SMA) Windows() []int           { return []int{s.window} }

func (s *SMA) Compute(frame *domain.Frame) (map[string][]float64, error) {
	closes := frame.Column(domain.ColClose)
	if closes == nil {
		return nil, fmt.Errorf("sma: frame has no close column")
	}
	if frame.Len() < s.window {
		return map[string][]float64{s.FeatureColumns()[0]: domain.NaNSeries(frame.Len())}, nil
	}
	out := maskWarmup(talib.Sma(closes, s.window), s.window-1)
	return map[string][]float64{s.FeatureColumns()[0]: out}, nil
}

// RSI is a relative strength index with simple-average smoothing, so its
// lookback is exactly window+1 rows.
type RSI struct {
	window int
}

// NewRSI creates a relative strength index indicator.
func NewRSI(window int) *RSI { return &RSI{window: window} }

func (r *RSI) Name() string             { return fmt.Sprintf("rsi_%d", r.window) }
func (r *RSI) FeatureColumns() []string { return []string{fmt.Sprintf("rsi_%d", r.window)} }
func (r *RSI) Windows() []int           { return []int{r.window + 1} }

func (r *RSI) Compute(frame *domain.Frame) (map[string][]float64, error) {
	closes := frame.Column(domain.ColClose)
	if closes == nil {
		return nil, fmt.Errorf("rsi: frame has no close column")
	}
	n := frame.Len()
	col := r.FeatureColumns()[0]
	if n < r.window+1 {
		return map[string][]float64{col: domain.NaNSeries(n)}, nil
	}
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}
	avgGain := talib.Sma(gains, r.window)
	avgLoss := talib.Sma(losses, r.window)
	out := domain.NaNSeries(n)
	for i := r.window; i < n; i++ {
		if avgLoss[i] == 0 {
			if avgGain[i] == 0 {
				out[i] = 50
			} else {
				out[i] = 100
			}
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		out[i] = 100 - 100/(1+rs)
	}
	return map[string][]float64{col: out}, nil
}

// DualSMAFunc is the legacy function-style dual moving average indicator. It
// produces sma_short_<fast> and sma_long_<slow> columns; window sizes are
// recoverable from the column names, which is what overlap inference for
// function-style indicators relies on.
func DualSMAFunc(fast, slow int) Func {
	return func(frame *domain.Frame) (map[string][]float64, error) {
		closes := frame.Column(domain.ColClose)
		if closes == nil {
			return nil, fmt.Errorf("dual_sma: frame has no close column")
		}
		out := map[string][]float64{}
		for _, spec := range []struct {
			col    string
			window int
		}{
			{fmt.Sprintf("sma_short_%d", fast), fast},
			{fmt.Sprintf("sma_long_%d", slow), slow},
		} {
			if frame.Len() < spec.window {
				out[spec.col] = domain.NaNSeries(frame.Len())
				continue
			}
			out[spec.col] = maskWarmup(talib.Sma(closes, spec.window), spec.window-1)
		}
		return out, nil
	}
}
