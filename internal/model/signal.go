package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Direction classifies a divergence signal.
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
)

// Strength classifies how many secondary indicators confirmed a signal.
type Strength string

const (
	StrengthStrong Strength = "STRONG"
	StrengthNormal Strength = "NORMAL"
)

// Confirmation names a secondary indicator that agreed with a divergence.
type Confirmation string

const (
	ConfirmMACD Confirmation = "MACD"
	ConfirmKDJ  Confirmation = "KDJ"
)

// Signal is an emitted divergence occurrence. Immutable once created.
// Identity for dedup is (Symbol, TF, OpenTime, Direction); ID() derives a
// stable short identifier from it so the ledger survives restarts.
type Signal struct {
	Symbol        string         `json:"symbol"`
	TF            int            `json:"tf"`        // timeframe in seconds
	OpenTime      time.Time      `json:"open_time"` // open time of the divergence candle
	Direction     Direction      `json:"direction"`
	Strength      Strength       `json:"strength"`
	Trigger       string         `json:"trigger"` // always "RSI_DIVERGENCE"
	Confirmations []Confirmation `json:"confirmations"`

	// Context for alert rendering, not part of the identity.
	Price     float64   `json:"price"`      // close of the divergence candle
	RSI       float64   `json:"rsi"`        // RSI at the divergence pivot
	PrevPivot time.Time `json:"prev_pivot"` // open time of the compared pivot
	Reason    string    `json:"reason"`     // human-readable pivot comparison
	EmittedAt time.Time `json:"emitted_at"`
}

// TriggerRSIDivergence is the only trigger this system produces.
const TriggerRSIDivergence = "RSI_DIVERGENCE"

// Identity returns the dedup key: "symbol|{TF}s|openTimeRFC3339|direction".
func (s *Signal) Identity() string {
	return s.Symbol + "|" + Itoa(s.TF) + "s|" + s.OpenTime.UTC().Format(time.RFC3339) + "|" + string(s.Direction)
}

// ID returns the first 16 hex characters of the SHA-256 of Identity().
// Stable across restarts and across live/backtest runs of the same data.
func (s *Signal) ID() string {
	sum := sha256.Sum256([]byte(s.Identity()))
	return hex.EncodeToString(sum[:])[:16]
}

// StreamKey returns the Redis stream key: "signal:{TF}s:{symbol}".
func (s *Signal) StreamKey() string {
	return "signal:" + Itoa(s.TF) + "s:" + s.Symbol
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
