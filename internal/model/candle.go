package model

import (
	"encoding/json"
	"time"
)

// Candle represents an OHLCV candle for a single symbol and timeframe.
// TF is the timeframe duration in seconds (e.g., 600 = 10 minutes).
// OpenTime is the bucket start (UTC, TF-aligned): bucket = ts - ts%TF.
type Candle struct {
	Symbol   string    `json:"symbol"`
	TF       int       `json:"tf"`        // timeframe in seconds
	OpenTime time.Time `json:"open_time"` // bucket start time (UTC, TF-aligned)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"` // cumulative quantity in this bucket
	Count    int       `json:"count"`  // number of updates merged (ticks or sub-bars)
	Closed   bool      `json:"closed"` // false while the bucket is still open
}

// Key returns a unique key for this candle's series: "symbol@{TF}s".
func (c *Candle) Key() string {
	return c.Symbol + "@" + Itoa(c.TF) + "s"
}

// Bucket returns the bucket index of this candle: floor(openTime / TF).
func (c *Candle) Bucket() int64 {
	return c.OpenTime.Unix() / int64(c.TF)
}

// StreamKey returns the Redis stream key: "candle:{TF}s:{symbol}".
func (c *Candle) StreamKey() string {
	return "candle:" + Itoa(c.TF) + "s:" + c.Symbol
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
