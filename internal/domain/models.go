package domain

// Fill is a single simulated execution. Synthetic marks the closing fill
// appended by the flatten-at-end option.
type Fill struct {
	Ts            int64   `json:"timestamp"`
	Side          string  `json:"side"`
	Qty           float64 `json:"qty"`
	Price         float64 `json:"price"`
	CostBasis     float64 `json:"cost_basis"`
	CashAfter     float64 `json:"cash_after"`
	PositionAfter float64 `json:"position_after"`
	Synthetic     bool    `json:"synthetic,omitempty"`
}

// PositionRow is the per-bar portfolio snapshot taken after any fill on that
// bar. Equity marks the position to the bar's close.
type PositionRow struct {
	Ts       int64   `json:"timestamp"`
	Position float64 `json:"position"`
	Cash     float64 `json:"cash"`
	Equity   float64 `json:"equity"`
}

// CompletedTrade is a round-trip position lifecycle aggregated from fills.
// ReturnPct is signed by trade direction so validation can consume it
// directly.
type CompletedTrade struct {
	ID          string  `json:"id"`
	Symbol      string  `json:"symbol"`
	EntryTs     int64   `json:"entry_ts"`
	ExitTs      int64   `json:"exit_ts"`
	EntryPrice  float64 `json:"entry_price"`
	ExitPrice   float64 `json:"exit_price"`
	Qty         float64 `json:"qty"`
	Pnl         float64 `json:"pnl"`
	ReturnPct   float64 `json:"return_pct"`
	HoldingSecs float64 `json:"holding_period_secs"`
}

// EquityBar is one point of the equity curve: net asset value plus the
// running drawdown at that bar.
type EquityBar struct {
	Ts       int64   `json:"timestamp"`
	Nav      float64 `json:"nav"`
	Return   float64 `json:"return"`
	Drawdown float64 `json:"drawdown"`
}
