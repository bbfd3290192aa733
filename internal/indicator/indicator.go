// Package indicator provides technical indicator calculations over candle data.
//
// All indicators implement the Indicator interface, receiving candles and
// producing float64 values. Indicators update incrementally — O(1) per
// candle, no history scans — so the same instances serve live streaming
// and historical replay identically.
package indicator

import "divergence-monitor/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "RSI", "MACD", "KDJ").
	Name() string

	// Update feeds a new closed candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current primary value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Peek computes what Value() would be if a candle with this close price
	// were added next, WITHOUT mutating internal state.
	// Used for live preview values from forming candles.
	Peek(close float64) float64
}
