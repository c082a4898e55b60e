package execution

import (
	"fmt"
	"math"

	"github.com/friscapuff/alphaforge-brain/internal/canonical"
	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// openPosition tracks one in-flight round trip while folding fills.
type openPosition struct {
	qty           float64 // signed open quantity
	entryTs       int64
	entryQty      float64 // absolute quantity accumulated on the entry side
	entryNotional float64
	exitQty       float64
	exitNotional  float64
}

// AggregateTrades folds the fill stream into round-trip completed trades. A
// trade opens when the position leaves zero and closes when it returns to
// zero or flips sign; a flip closes the old trade and opens a new one at the
// same fill. Entry and exit prices are quantity-weighted averages of the
// participating fills.
func AggregateTrades(symbol string, fills []domain.Fill) []domain.CompletedTrade {
	var trades []domain.CompletedTrade
	var pos *openPosition

	open := func(ts int64, signedQty, price float64) {
		pos = &openPosition{
			qty:           signedQty,
			entryTs:       ts,
			entryQty:      math.Abs(signedQty),
			entryNotional: math.Abs(signedQty) * price,
		}
	}

	closeOut := func(exitTs int64) {
		if pos == nil || pos.entryQty == 0 {
			pos = nil
			return
		}
		entryPrice := pos.entryNotional / pos.entryQty
		exitPrice := entryPrice
		if pos.exitQty > 0 {
			exitPrice = pos.exitNotional / pos.exitQty
		}
		direction := 1.0
		if pos.qty < 0 {
			direction = -1.0
		}
		pnl := (exitPrice - entryPrice) * pos.entryQty * direction
		returnPct := 0.0
		if entryPrice != 0 {
			returnPct = (exitPrice - entryPrice) / entryPrice * direction
		}
		id := canonical.SHA256Text(fmt.Sprintf("%s|%d|%d|%d", symbol, pos.entryTs, exitTs, len(trades)))[:16]
		trades = append(trades, domain.CompletedTrade{
			ID:          id,
			Symbol:      symbol,
			EntryTs:     pos.entryTs,
			ExitTs:      exitTs,
			EntryPrice:  entryPrice,
			ExitPrice:   exitPrice,
			Qty:         pos.entryQty * direction,
			Pnl:         pnl,
			ReturnPct:   returnPct,
			HoldingSecs: float64(exitTs-pos.entryTs) / 1000.0,
		})
		pos = nil
	}

	for _, fill := range fills {
		signedQty := fill.Qty
		if fill.Side == "SELL" {
			signedQty = -signedQty
		}
		if pos == nil {
			open(fill.Ts, signedQty, fill.Price)
			continue
		}
		if sameSign(pos.qty, signedQty) {
			// Scaling into the existing position.
			pos.qty += signedQty
			pos.entryQty += math.Abs(signedQty)
			pos.entryNotional += math.Abs(signedQty) * fill.Price
			continue
		}
		closing := math.Min(math.Abs(signedQty), math.Abs(pos.qty))
		pos.exitQty += closing
		pos.exitNotional += closing * fill.Price
		remainder := pos.qty + signedQty
		switch {
		case math.Abs(remainder) < 1e-12:
			closeOut(fill.Ts)
		case sameSign(remainder, pos.qty):
			// Partial reduction; the trade stays open.
			pos.qty = remainder
		default:
			// Flip: close the old trade and open the excess as a new one.
			closeOut(fill.Ts)
			open(fill.Ts, remainder, fill.Price)
		}
	}
	return trades
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
