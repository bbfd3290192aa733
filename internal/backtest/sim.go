package backtest

import (
	"log"
	"time"

	"divergence-monitor/internal/model"
	"divergence-monitor/internal/monitor"
)

// SimTrade is one simulated fill at a signal candle's close.
type SimTrade struct {
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"` // BUY or SELL
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	Time      time.Time `json:"time"`
	CashAfter float64   `json:"cash_after"`
}

// SimResult summarizes an all-in long-only simulation over one symbol's
// signals: buy the full balance on a bullish signal, flatten on a bearish
// one, mark any open position at the final close.
type SimResult struct {
	Symbol      string     `json:"symbol"`
	StartCash   float64    `json:"start_cash"`
	FinalEquity float64    `json:"final_equity"`
	ReturnPct   float64    `json:"return_pct"`
	Trades      []SimTrade `json:"trades"`
	OpenAtEnd   bool       `json:"open_at_end"`
}

// Simulate runs the naive signal-following strategy for one symbol. It is
// a sanity check on signal quality, not a strategy: no sizing, slippage,
// or fees.
func Simulate(res *monitor.Result, symbol string, startCash float64) SimResult {
	out := SimResult{Symbol: symbol, StartCash: startCash, FinalEquity: startCash}
	candles := res.Candles[symbol]
	if len(candles) == 0 {
		return out
	}

	cash := startCash
	qty := 0.0

	for _, sig := range res.Signals {
		if sig.Symbol != symbol {
			continue
		}
		switch sig.Direction {
		case model.Bullish:
			if qty > 0 || sig.Price <= 0 {
				continue
			}
			qty = cash / sig.Price
			cash = 0
			out.Trades = append(out.Trades, SimTrade{
				Symbol: symbol, Action: "BUY", Qty: qty,
				Price: sig.Price, Time: sig.OpenTime, CashAfter: cash,
			})
		case model.Bearish:
			if qty == 0 {
				continue
			}
			cash = qty * sig.Price
			out.Trades = append(out.Trades, SimTrade{
				Symbol: symbol, Action: "SELL", Qty: qty,
				Price: sig.Price, Time: sig.OpenTime, CashAfter: cash,
			})
			qty = 0
		}
	}

	// Mark open inventory at the last close.
	last := candles[len(candles)-1].Close
	out.FinalEquity = cash + qty*last
	out.OpenAtEnd = qty > 0
	if startCash > 0 {
		out.ReturnPct = (out.FinalEquity - startCash) / startCash * 100
	}

	log.Printf("[backtest] sim %s: %d trades, equity %.2f -> %.2f (%.2f%%)",
		symbol, len(out.Trades), startCash, out.FinalEquity, out.ReturnPct)
	return out
}
