// Package execution simulates naive T+1 order execution over a sized signal
// frame: a signal on bar i leads to at most one fill at bar i+1's open,
// adjusted through the slippage chain (extended model, then fixed bps, then
// fees).
package execution

import (
	"math"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// DefaultInitialCash is the simulated account's starting cash.
const DefaultInitialCash = 100_000.0

// SlippageModel is the optional extended slippage model applied before the
// fixed-bps adjustment.
type SlippageModel struct {
	Model  string         `json:"model"`
	Params map[string]any `json:"params"`
}

// Spec holds execution parameters.
type Spec struct {
	FeeBps        float64        `json:"fee_bps"`
	SlippageBps   float64        `json:"slippage_bps"`
	SlippageModel *SlippageModel `json:"slippage_model,omitempty"`
}

// Options control simulator behavior beyond cost parameters.
type Options struct {
	InitialCash    float64
	SkipZeroVolume bool // a zero-volume bar misses the fill
	FlattenEnd     bool // append a synthetic closing fill at the final close
}

// Result bundles the simulator outputs.
type Result struct {
	Fills     []domain.Fill
	Positions []domain.PositionRow
}

// Simulate executes the T+1 fill rule over the sized frame. The frame must
// carry open, close, signal, and position_size columns. The last bar's
// signal never produces a fill unless FlattenEnd synthesizes the close.
func Simulate(spec Spec, frame *domain.Frame, opts Options) (*Result, error) {
	if frame.Len() == 0 {
		return &Result{}, nil
	}
	for _, col := range []string{domain.ColOpen, domain.ColClose, domain.ColSignal, domain.ColPositionSz} {
		if !frame.HasColumn(col) {
			return nil, &domain.ConfigError{Field: "execution", Reason: "sized frame missing column " + col}
		}
	}
	open := frame.Column(domain.ColOpen)
	closeCol := frame.Column(domain.ColClose)
	volume := frame.Column(domain.ColVolume)
	signal := frame.Column(domain.ColSignal)
	positionSize := frame.Column(domain.ColPositionSz)

	cash := opts.InitialCash
	if cash == 0 {
		cash = DefaultInitialCash
	}
	position := 0.0

	res := &Result{}
	for i := 0; i < frame.Len(); i++ {
		if i > 0 && !math.IsNaN(signal[i-1]) && signal[i-1] != 0 {
			direction := 1
			if signal[i-1] < 0 {
				direction = -1
			}
			target := float64(direction) * positionSize[i-1]

			vol := 1.0
			if volume != nil {
				vol = volume[i]
			}
			if opts.SkipZeroVolume && vol == 0 {
				// Missed execution; position unchanged.
			} else {
				delta := target - position
				if math.Abs(delta) > 1e-12 {
					price := applySlippageChain(open[i], direction, spec, vol, math.Abs(delta))
					notional := delta * price
					cash -= notional
					position = target
					side := "BUY"
					if direction < 0 {
						side = "SELL"
					}
					res.Fills = append(res.Fills, domain.Fill{
						Ts:            frame.Ts[i],
						Side:          side,
						Qty:           math.Abs(delta),
						Price:         price,
						CostBasis:     notional,
						CashAfter:     cash,
						PositionAfter: position,
					})
				}
			}
		}
		res.Positions = append(res.Positions, domain.PositionRow{
			Ts:       frame.Ts[i],
			Position: position,
			Cash:     cash,
			Equity:   cash + position*closeCol[i],
		})
	}

	if opts.FlattenEnd && position != 0 {
		last := frame.Len() - 1
		direction := 1
		if position > 0 {
			direction = -1
		}
		vol := 1.0
		if volume != nil {
			vol = volume[last]
		}
		price := applySlippageChain(closeCol[last], direction, spec, vol, math.Abs(position))
		delta := -position
		notional := delta * price
		cash -= notional
		position = 0
		side := "BUY"
		if direction < 0 {
			side = "SELL"
		}
		res.Fills = append(res.Fills, domain.Fill{
			Ts:            frame.Ts[last],
			Side:          side,
			Qty:           math.Abs(delta),
			Price:         price,
			CostBasis:     notional,
			CashAfter:     cash,
			PositionAfter: 0,
			Synthetic:     true,
		})
		res.Positions[last].Position = 0
		res.Positions[last].Cash = cash
		res.Positions[last].Equity = cash
	}
	return res, nil
}

// applySlippageChain worsens the base price in trade direction: extended
// model first, then fixed-bps slippage, then fees.
func applySlippageChain(base float64, side int, spec Spec, volume, qty float64) float64 {
	price := applyModel(base, side, spec.SlippageModel, volume, qty)
	price *= 1 + spec.SlippageBps/10_000*float64(side)
	price *= 1 + spec.FeeBps/10_000*float64(side)
	return price
}

func applyModel(price float64, side int, model *SlippageModel, volume, qty float64) float64 {
	if model == nil {
		return price
	}
	switch model.Model {
	case "spread_pct":
		// spread expressed as a fraction of price; half against the side
		spread := floatOr(model.Params, "spread_pct", 0)
		return price + price*(spread/2)*float64(side)
	case "participation_rate":
		participation := floatOr(model.Params, "participation_pct", 0.1)
		if volume <= 0 || qty <= 0 {
			return price
		}
		share := math.Min(1, (qty/volume)*participation)
		return price * (1 + share*float64(side))
	}
	return price
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
