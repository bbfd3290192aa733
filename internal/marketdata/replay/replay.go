// Package replay feeds historical candles through the same close path the
// live feed uses, and generates deterministic synthetic series for sim
// runs and fixtures.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"divergence-monitor/internal/model"
)

// Replayer reads closed candles from storage and replays them oldest
// first at a configurable speed.
type Replayer struct {
	reader model.CandleReader
}

// New creates a Replayer backed by a candle reader.
func New(reader model.CandleReader) *Replayer {
	return &Replayer{reader: reader}
}

// Run replays all stored candles for the given symbols at one timeframe,
// merged by open time, into outCh. speed controls the playback rate:
// 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible. fromTS filters to
// candles with open_time strictly after that Unix timestamp (0 = all).
func (r *Replayer) Run(ctx context.Context, symbols []string, tf int, fromTS int64, speed float64, outCh chan<- model.Candle) error {
	var all []model.Candle
	for _, sym := range symbols {
		candles, err := r.reader.ReadCandles(sym, tf, fromTS)
		if err != nil {
			return err
		}
		all = append(all, candles...)
	}

	if len(all) == 0 {
		log.Println("[replay] no candles found in storage")
		return nil
	}

	// Per-symbol reads come back ordered; interleave across symbols.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].OpenTime.Before(all[j].OpenTime)
	})

	log.Printf("[replay] loaded %d candles across %d symbols, speed=%.1fx", len(all), len(symbols), speed)

	var prevTS time.Time
	emitted := 0

	for _, c := range all {
		if speed > 0 && !prevTS.IsZero() {
			gap := c.OpenTime.Sub(prevTS)
			if gap > 0 {
				scaledGap := time.Duration(float64(gap) / speed)
				// Cap max sleep to avoid very long waits
				if scaledGap > 5*time.Second {
					scaledGap = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaledGap):
				}
			}
		}
		prevTS = c.OpenTime

		c.Closed = true
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return ctx.Err()
		case outCh <- c:
			emitted++
		}
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return nil
}
