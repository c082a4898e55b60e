package artifacts

import (
	"bytes"

	"github.com/parquet-go/parquet-go"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// equityRow is the parquet row schema of equity.parquet.
type equityRow struct {
	Ts       int64   `parquet:"timestamp"`
	Nav      float64 `parquet:"nav"`
	Return   float64 `parquet:"return"`
	Drawdown float64 `parquet:"drawdown"`
}

// tradeRow is the parquet row schema of trades.parquet.
type tradeRow struct {
	ID          string  `parquet:"id"`
	Symbol      string  `parquet:"symbol"`
	EntryTs     int64   `parquet:"entry_ts"`
	ExitTs      int64   `parquet:"exit_ts"`
	EntryPrice  float64 `parquet:"entry_price"`
	ExitPrice   float64 `parquet:"exit_price"`
	Qty         float64 `parquet:"qty"`
	Pnl         float64 `parquet:"pnl"`
	ReturnPct   float64 `parquet:"return_pct"`
	HoldingSecs float64 `parquet:"holding_period_secs"`
}

func encodeEquity(curve []domain.EquityBar) ([]byte, error) {
	rows := make([]equityRow, len(curve))
	for i, bar := range curve {
		rows[i] = equityRow{Ts: bar.Ts, Nav: bar.Nav, Return: bar.Return, Drawdown: bar.Drawdown}
	}
	return encodeParquet(rows)
}

func encodeTrades(trades []domain.CompletedTrade) ([]byte, error) {
	rows := make([]tradeRow, len(trades))
	for i, tr := range trades {
		rows[i] = tradeRow{
			ID: tr.ID, Symbol: tr.Symbol,
			EntryTs: tr.EntryTs, ExitTs: tr.ExitTs,
			EntryPrice: tr.EntryPrice, ExitPrice: tr.ExitPrice,
			Qty: tr.Qty, Pnl: tr.Pnl, ReturnPct: tr.ReturnPct,
			HoldingSecs: tr.HoldingSecs,
		}
	}
	return encodeParquet(rows)
}

// encodeParquet serializes rows into an in-memory parquet file so the
// manifest entry hash covers the exact bytes on disk.
func encodeParquet[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[T](&buf)
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
