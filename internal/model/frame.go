package model

import (
	"encoding/json"
	"time"
)

// IndicatorFrame holds the indicator values computed from one closed candle.
// Exactly one frame exists per closed candle, aligned by index with the
// candle series. Values whose warm-up is incomplete carry Ready=false and
// must not be used for detection or confirmation.
type IndicatorFrame struct {
	Symbol   string    `json:"symbol"`
	TF       int       `json:"tf"`        // timeframe in seconds
	OpenTime time.Time `json:"open_time"` // candle that produced this frame
	Forming  bool      `json:"forming"`   // true for previews from a still-open candle

	RSI      float64 `json:"rsi"`
	RSIReady bool    `json:"rsi_ready"`

	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`
	MACDReady  bool    `json:"macd_ready"`

	K        float64 `json:"kdj_k"`
	D        float64 `json:"kdj_d"`
	J        float64 `json:"kdj_j"`
	KDJReady bool    `json:"kdj_ready"`
}

// Ready reports whether every indicator in the frame has completed warm-up.
func (f *IndicatorFrame) Ready() bool {
	return f.RSIReady && f.MACDReady && f.KDJReady
}

// StreamKey returns the Redis stream key: "frame:{TF}s:{symbol}".
func (f *IndicatorFrame) StreamKey() string {
	return "frame:" + Itoa(f.TF) + "s:" + f.Symbol
}

// JSON returns the JSON-encoded frame.
func (f *IndicatorFrame) JSON() []byte {
	b, _ := json.Marshal(f)
	return b
}
