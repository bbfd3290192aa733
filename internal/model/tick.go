package model

import "time"

// Tick represents a single trade/quote update from the market data feed.
// Prices are float64 USD; Alpaca delivers equities prices as decimals.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Size   int64     `json:"size"`    // traded quantity (0 when unknown)
	TickTS time.Time `json:"tick_ts"` // UTC timestamp
}
