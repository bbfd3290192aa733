// Package divergence finds price/RSI divergences over a trailing candle
// window and scores them against MACD and KDJ confirmation rules.
package divergence

import (
	"fmt"
	"log"

	"divergence-monitor/internal/model"
)

// Config tunes pivot detection and pair selection.
type Config struct {
	PivotLeft   int     // bars to the left of a pivot that must be worse
	PivotRight  int     // bars to the right that must be worse (confirmation lag)
	MinSepBars  int     // minimum bars between the two compared pivots
	MaxSepBars  int     // maximum bars between the two compared pivots
	MinRSIDelta float64 // minimum RSI gap between the two pivots (0 = any strict gap)
	Lookback    int     // trailing candles scanned per call
}

// DefaultConfig returns the production detection parameters.
func DefaultConfig() Config {
	return Config{
		PivotLeft:   3,
		PivotRight:  3,
		MinSepBars:  6,
		MaxSepBars:  60,
		MinRSIDelta: 0,
		Lookback:    120,
	}
}

// Validate checks the config for usable values.
func (c Config) Validate() error {
	if c.PivotLeft < 1 || c.PivotRight < 1 {
		return fmt.Errorf("pivot window must be >= 1 on each side, got left=%d right=%d", c.PivotLeft, c.PivotRight)
	}
	if c.MinSepBars < 1 {
		return fmt.Errorf("min separation must be >= 1, got %d", c.MinSepBars)
	}
	if c.MaxSepBars < c.MinSepBars {
		return fmt.Errorf("max separation %d below min separation %d", c.MaxSepBars, c.MinSepBars)
	}
	if c.MinRSIDelta < 0 {
		return fmt.Errorf("min rsi delta must be >= 0, got %.2f", c.MinRSIDelta)
	}
	if min := c.minWindow(); c.Lookback < min {
		return fmt.Errorf("lookback %d too small to hold two pivots (need >= %d)", c.Lookback, min)
	}
	return nil
}

// minWindow is the smallest scan window that can contain two separated pivots.
func (c Config) minWindow() int {
	return c.PivotLeft + c.PivotRight + c.MinSepBars + 1
}

// Candidate is an unconfirmed divergence anchored at the most recent pivot.
// Pivot indices are positions in the candle/frame slices passed to Scan.
type Candidate struct {
	Symbol    string
	Direction model.Direction
	Pivot1    int // earlier pivot
	Pivot2    int // anchoring pivot (the divergence candle)
	Price1    float64
	Price2    float64
	RSI1      float64
	RSI2      float64
	Reason    string
}

// Detector scans aligned candle/frame series for RSI divergence.
type Detector struct {
	cfg Config
}

// NewDetector validates the config and returns a Detector.
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("divergence config: %w", err)
	}
	return &Detector{cfg: cfg}, nil
}

// Config returns the detector's active configuration.
func (d *Detector) Config() Config { return d.cfg }

// Scan examines the trailing lookback window of closed candles and their
// aligned frames, and returns at most one candidate divergence anchored at
// the most recent qualifying pivot. Bullish takes precedence when a window
// somehow holds both. Pivots whose RSI is not yet warmed up never qualify.
func (d *Detector) Scan(candles []model.Candle, frames []model.IndicatorFrame) (Candidate, bool) {
	if len(candles) != len(frames) {
		log.Printf("[divergence] WARNING: candle/frame misalignment: %d candles vs %d frames",
			len(candles), len(frames))
		return Candidate{}, false
	}
	if len(candles) < d.cfg.minWindow() {
		return Candidate{}, false
	}

	offset := 0
	if len(candles) > d.cfg.Lookback {
		offset = len(candles) - d.cfg.Lookback
	}
	closes := make([]float64, len(candles)-offset)
	for i := range closes {
		closes[i] = candles[offset+i].Close
	}

	if cand, ok := d.bullish(candles, frames, closes, offset); ok {
		return cand, true
	}
	return d.bearish(candles, frames, closes, offset)
}

func (d *Detector) bullish(candles []model.Candle, frames []model.IndicatorFrame, closes []float64, offset int) (Candidate, bool) {
	lows := PivotLows(closes, d.cfg.PivotLeft, d.cfg.PivotRight)
	p1, p2, ok := selectLastTwo(lows, d.cfg.MinSepBars, d.cfg.MaxSepBars)
	if !ok {
		return Candidate{}, false
	}
	i1, i2 := offset+p1, offset+p2
	f1, f2 := frames[i1], frames[i2]
	if !f1.RSIReady || !f2.RSIReady {
		return Candidate{}, false
	}

	priceLowerLow := candles[i2].Close < candles[i1].Close
	delta := f2.RSI - f1.RSI
	rsiHigherLow := delta > 0 && delta >= d.cfg.MinRSIDelta
	if !priceLowerLow || !rsiHigherLow {
		return Candidate{}, false
	}

	return Candidate{
		Symbol:    candles[i2].Symbol,
		Direction: model.Bullish,
		Pivot1:    i1,
		Pivot2:    i2,
		Price1:    candles[i1].Close,
		Price2:    candles[i2].Close,
		RSI1:      f1.RSI,
		RSI2:      f2.RSI,
		Reason: fmt.Sprintf("Bullish divergence: price lower low (%.2f -> %.2f) and RSI higher low (%.2f -> %.2f).",
			candles[i1].Close, candles[i2].Close, f1.RSI, f2.RSI),
	}, true
}

func (d *Detector) bearish(candles []model.Candle, frames []model.IndicatorFrame, closes []float64, offset int) (Candidate, bool) {
	highs := PivotHighs(closes, d.cfg.PivotLeft, d.cfg.PivotRight)
	p1, p2, ok := selectLastTwo(highs, d.cfg.MinSepBars, d.cfg.MaxSepBars)
	if !ok {
		return Candidate{}, false
	}
	i1, i2 := offset+p1, offset+p2
	f1, f2 := frames[i1], frames[i2]
	if !f1.RSIReady || !f2.RSIReady {
		return Candidate{}, false
	}

	priceHigherHigh := candles[i2].Close > candles[i1].Close
	delta := f1.RSI - f2.RSI
	rsiLowerHigh := delta > 0 && delta >= d.cfg.MinRSIDelta
	if !priceHigherHigh || !rsiLowerHigh {
		return Candidate{}, false
	}

	return Candidate{
		Symbol:    candles[i2].Symbol,
		Direction: model.Bearish,
		Pivot1:    i1,
		Pivot2:    i2,
		Price1:    candles[i1].Close,
		Price2:    candles[i2].Close,
		RSI1:      f1.RSI,
		RSI2:      f2.RSI,
		Reason: fmt.Sprintf("Bearish divergence: price higher high (%.2f -> %.2f) and RSI lower high (%.2f -> %.2f).",
			candles[i1].Close, candles[i2].Close, f1.RSI, f2.RSI),
	}, true
}
