package dataset

import (
	"math"
	"strings"
	"time"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// Synthetic builds a deterministic candle frame for configs that reference
// no dataset file: a slow sine waveform around 100 with high and low 0.2
// either side of the price, and linearly increasing volume. The frame depends only on (start, bars,
// barSeconds), so identical configs always see identical candles.
func Synthetic(symbol, timeframe string, start time.Time, bars int) (*domain.Frame, *Metadata) {
	barSec := declaredBarSeconds(timeframe)
	if barSec <= 0 {
		barSec = 60
	}
	ts := make([]int64, bars)
	open := make([]float64, bars)
	high := make([]float64, bars)
	low := make([]float64, bars)
	cls := make([]float64, bars)
	vol := make([]float64, bars)
	zv := make([]float64, bars)
	base := start.UTC().UnixMilli()
	for i := 0; i < bars; i++ {
		price := 100.0 + math.Sin(float64(i)/5.0)*0.2
		ts[i] = base + int64(i)*barSec*1000
		open[i] = price
		high[i] = price + 0.2
		low[i] = price - 0.2
		cls[i] = price
		vol[i] = float64(1000 + i)
	}
	f := domain.NewFrame(ts)
	f.MustSetColumn(domain.ColOpen, open)
	f.MustSetColumn(domain.ColHigh, high)
	f.MustSetColumn(domain.ColLow, low)
	f.MustSetColumn(domain.ColClose, cls)
	f.MustSetColumn(domain.ColVolume, vol)
	f.MustSetColumn(domain.ColZeroVolume, zv)

	meta := &Metadata{
		Symbol:             strings.ToUpper(symbol),
		Timeframe:          timeframe,
		DataHash:           StableFrameHash(f),
		RowCountRaw:        bars,
		RowCountCanonical:  bars,
		AnomalyCounters:    map[string]int{},
		ObservedBarSeconds: barSec,
		DeclaredBarSeconds: barSec,
		AdjustmentPolicy:   PolicyNone,
	}
	if bars > 0 {
		meta.FirstTs = ts[0]
		meta.LastTs = ts[bars-1]
	}
	return f, meta
}
