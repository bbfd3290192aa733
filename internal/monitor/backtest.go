package monitor

import (
	"context"
	"fmt"
	"log"
	"sort"

	"divergence-monitor/internal/model"
)

// Result is what a backtest run hands to reporting and charting: every
// emitted signal in emit order plus the full retained candle and frame
// series per symbol.
type Result struct {
	TF      int
	Signals []model.Signal
	Candles map[string][]model.Candle
	Frames  map[string][]model.IndicatorFrame
}

// RunBacktest replays already-closed historical candles through the exact
// close path live mode uses, single-threaded for determinism. History may
// interleave symbols; it is merged by open time before replay. Returns
// after the last candle.
func (m *Monitor) RunBacktest(ctx context.Context, history []model.Candle) (*Result, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("monitor: backtest needs at least one candle")
	}

	ordered := make([]model.Candle, len(history))
	copy(ordered, history)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OpenTime.Before(ordered[j].OpenTime)
	})

	// Seed validates strict per-symbol bucket progression up front, so a
	// malformed data set fails before any state mutates.
	if err := m.agg.Seed(ordered); err != nil {
		return nil, err
	}

	for i, c := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !c.Closed {
			log.Printf("[monitor] backtest skipping unclosed candle %d (%s %v)", i, c.Symbol, c.OpenTime)
			continue
		}
		m.process(ctx, c, true)
	}

	res := &Result{
		TF:      m.cfg.TF,
		Signals: m.Emitted(),
		Candles: make(map[string][]model.Candle, len(m.pipes)),
		Frames:  make(map[string][]model.IndicatorFrame, len(m.pipes)),
	}
	for sym := range m.pipes {
		res.Candles[sym], res.Frames[sym] = m.Series(sym)
	}

	log.Printf("[monitor] backtest complete: %d candles, %d signals", len(ordered), len(res.Signals))
	return res, nil
}
