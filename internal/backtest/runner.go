package backtest

import (
	"context"
	"fmt"
	"log"
	"time"

	"divergence-monitor/internal/model"
	"divergence-monitor/internal/monitor"
)

// Params configures one backtest run.
type Params struct {
	Symbols   []string
	TF        int // timeframe in seconds
	Start     time.Time
	End       time.Time
	Horizons  []int   // forward-return horizons in candles
	StartCash float64 // per-symbol simulation balance

	// CompareRSIOnly reruns the same history with confirmation scoring
	// disabled, so the report shows what filtering buys.
	CompareRSIOnly bool
}

// Report is the full output of one run.
type Report struct {
	Result   *monitor.Result
	Accuracy Accuracy
	Sims     map[string]SimResult

	// RSIOnly holds the unfiltered comparison run when requested.
	RSIOnly         *monitor.Result
	RSIOnlyAccuracy *Accuracy
}

// Run fetches history, replays it through the monitor pipeline, and builds
// the accuracy report and trade simulations.
func Run(ctx context.Context, p Params, src model.HistorySource) (*Report, error) {
	if src == nil {
		return nil, fmt.Errorf("backtest: no history source")
	}
	if len(p.Horizons) == 0 {
		p.Horizons = []int{3, 6}
	}
	if p.StartCash <= 0 {
		p.StartCash = 1000
	}

	var history []model.Candle
	for _, sym := range p.Symbols {
		bars, err := src.Bars(sym, p.TF, p.Start, p.End)
		if err != nil {
			return nil, fmt.Errorf("backtest: fetch %s: %w", sym, err)
		}
		log.Printf("[backtest] %s: %d candles between %s and %s",
			sym, len(bars), p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
		history = append(history, bars...)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("backtest: no candles in range")
	}

	cfg := runConfig(p)
	res, err := replayHistory(ctx, cfg, history)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Result:   res,
		Accuracy: BuildAccuracy(res, p.Horizons),
		Sims:     make(map[string]SimResult, len(p.Symbols)),
	}
	for _, sym := range p.Symbols {
		rep.Sims[sym] = Simulate(res, sym, p.StartCash)
	}

	if p.CompareRSIOnly {
		raw := runConfig(p)
		raw.Confirm.UseMACD = false
		raw.Confirm.UseKDJ = false
		raw.Confirm.RequireConfirmation = false

		rawRes, err := replayHistory(ctx, raw, history)
		if err != nil {
			return nil, fmt.Errorf("backtest: rsi-only comparison: %w", err)
		}
		rawAcc := BuildAccuracy(rawRes, p.Horizons)
		rep.RSIOnly = rawRes
		rep.RSIOnlyAccuracy = &rawAcc
		log.Printf("[backtest] comparison: %d confirmed vs %d raw divergences",
			len(res.Signals), len(rawRes.Signals))
	}

	return rep, nil
}

// runConfig builds a monitor config sized for offline replay: retention
// large enough that the whole run stays addressable for reporting, and no
// background loops.
func runConfig(p Params) monitor.Config {
	cfg := monitor.DefaultConfig(p.Symbols, p.TF)
	span := int(p.End.Sub(p.Start)/time.Second)/p.TF + 1
	if span > cfg.Retention {
		cfg.Retention = span
	}
	cfg.SnapshotInterval = 0
	cfg.PreviewInterval = 0
	return cfg
}

func replayHistory(ctx context.Context, cfg monitor.Config, history []model.Candle) (*monitor.Result, error) {
	m, err := monitor.New(cfg, monitor.Deps{Ledger: NewMemLedger()})
	if err != nil {
		return nil, err
	}
	return m.RunBacktest(ctx, history)
}
