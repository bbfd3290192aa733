// Package monitor is the engine controller: it drives the aggregator,
// indicator engine, divergence detector, confirmation scorer, and signal
// ledger through one per-candle-close path, in live streaming and in
// historical replay alike.
//
// Every symbol runs as an independent sequential pipeline. Live mode
// routes all updates for a symbol to that symbol's worker; the backtest
// replays the merged candle sequence on one goroutine. The ledger is the
// only state shared across symbols and provides its own atomic
// check-and-record.
package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"divergence-monitor/internal/divergence"
	"divergence-monitor/internal/indicator"
	"divergence-monitor/internal/marketdata/agg"
	"divergence-monitor/internal/model"
)

// pipeline holds the per-symbol state owned by that symbol's worker. The
// mutex covers the close path against external readers (previews,
// snapshot checkpoints, result accessors), not worker-vs-worker access.
type pipeline struct {
	symbol string

	mu      sync.Mutex
	engine  *indicator.Engine // single-symbol frame engine
	candles []model.Candle    // retained closed candles, oldest first
	closes  int               // closes consumed this process
	active  bool              // false while warming up
}

// Monitor orchestrates the detection pipeline for a set of symbols on one
// timeframe.
type Monitor struct {
	cfg  Config
	deps Deps

	agg      *agg.Aggregator
	detector *divergence.Detector
	scorer   *divergence.Scorer
	pipes    map[string]*pipeline

	emitMu  sync.Mutex
	emitted []model.Signal

	closedMu sync.Mutex
	closedCh chan model.Candle // live close path, nil outside RunLive
}

// New validates the configuration and builds a Monitor. The ledger is the
// only required collaborator.
func New(cfg Config, deps Deps) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("monitor: signal ledger is required")
	}

	aggregator, err := agg.New(cfg.TF)
	if err != nil {
		return nil, err
	}
	detector, err := divergence.NewDetector(cfg.Detect)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:      cfg,
		deps:     deps,
		agg:      aggregator,
		detector: detector,
		scorer:   divergence.NewScorer(cfg.Confirm),
		pipes:    make(map[string]*pipeline, len(cfg.Symbols)),
	}
	for _, sym := range cfg.Symbols {
		m.pipes[sym] = &pipeline{
			symbol: sym,
			engine: indicator.NewEngine(cfg.TF, cfg.Params, cfg.Retention),
		}
	}
	return m, nil
}

// TF returns the working timeframe in seconds.
func (m *Monitor) TF() int { return m.cfg.TF }

// process is the single close path shared by live and backtest modes:
// append the candle, compute one frame, then (once active, and when detect
// is set) scan for divergence, score confirmations, and emit through the
// ledger. Seeding passes detect=false so restored history warms state
// without re-scanning every historical close.
func (m *Monitor) process(ctx context.Context, c model.Candle, detect bool) {
	p, ok := m.pipes[c.Symbol]
	if !ok {
		log.Printf("[monitor] dropping close for unconfigured symbol %s", c.Symbol)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	frame := p.engine.OnClose(c)
	p.candles = append(p.candles, c)
	if len(p.candles) > m.cfg.Retention {
		copy(p.candles, p.candles[1:])
		p.candles = p.candles[:len(p.candles)-1]
	}
	p.closes++

	if m.deps.Hooks.OnClose != nil {
		m.deps.Hooks.OnClose(c)
	}
	if m.deps.Publisher != nil {
		m.deps.Publisher.PublishCandle(ctx, c)
		m.deps.Publisher.PublishFrame(ctx, frame)
	}

	if p.closes%m.cfg.Heartbeat == 0 {
		state := "WARMING_UP"
		if p.active {
			state = "ACTIVE"
		}
		log.Printf("[monitor] %s %s close=%.2f rsi=%.1f state=%s (%d closes)",
			p.symbol, model.FormatTF(m.cfg.TF), c.Close, frame.RSI, state, p.closes)
	}

	if !p.active {
		if len(p.engine.Frames(p.symbol)) < m.cfg.Warmup {
			return
		}
		p.active = true
		log.Printf("[monitor] %s warmed up after %d closed candles, detection active", p.symbol, m.cfg.Warmup)
		if m.deps.Hooks.OnStateChange != nil {
			m.deps.Hooks.OnStateChange(p.symbol, true)
		}
	}
	if !detect {
		return
	}

	candles, frames := alignedView(p.candles, p.engine.Frames(p.symbol))

	start := time.Now()
	cand, found := m.detector.Scan(candles, frames)
	if m.deps.Hooks.OnScanDuration != nil {
		m.deps.Hooks.OnScanDuration(time.Since(start))
	}
	if !found {
		return
	}

	strength, confs, pass := m.scorer.Score(cand, frames)
	if !pass {
		return
	}

	m.emit(ctx, model.Signal{
		Symbol:        p.symbol,
		TF:            m.cfg.TF,
		OpenTime:      candles[cand.Pivot2].OpenTime,
		Direction:     cand.Direction,
		Strength:      strength,
		Trigger:       model.TriggerRSIDivergence,
		Confirmations: confs,
		Price:         cand.Price2,
		RSI:           cand.RSI2,
		PrevPivot:     candles[cand.Pivot1].OpenTime,
		Reason:        cand.Reason,
		EmittedAt:     time.Now().UTC(),
	})
}

// emit records the signal in the ledger and, when this process is the
// first writer of the identity, delivers it. A ledger failure drops the
// signal: at-most-once beats availability.
func (m *Monitor) emit(ctx context.Context, sig model.Signal) {
	inserted, err := m.deps.Ledger.TryRecord(ctx, sig)
	if err != nil {
		log.Printf("[monitor] ERROR: dropping signal %s (%s %s): %v",
			sig.ID(), sig.Symbol, sig.Direction, err)
		if m.deps.Hooks.OnDropped != nil {
			m.deps.Hooks.OnDropped(sig, err)
		}
		return
	}
	if !inserted {
		if m.deps.Hooks.OnSuppressed != nil {
			m.deps.Hooks.OnSuppressed(sig)
		}
		return
	}

	log.Printf("[monitor] SIGNAL %s %s %s %s @ %.2f confirmations=%v",
		sig.Symbol, model.FormatTF(sig.TF), sig.Direction, sig.Strength, sig.Price, sig.Confirmations)

	if m.deps.Alerts != nil {
		if err := m.deps.Alerts.Dispatch(ctx, sig); err != nil {
			log.Printf("[monitor] alert delivery incomplete for %s: %v", sig.ID(), err)
		}
	}
	if m.deps.Publisher != nil {
		m.deps.Publisher.PublishSignal(ctx, sig)
	}

	m.emitMu.Lock()
	m.emitted = append(m.emitted, sig)
	m.emitMu.Unlock()

	if m.deps.OnSignal != nil {
		m.deps.OnSignal(sig)
	}
}

// Emitted returns a copy of every signal emitted so far, in emit order.
func (m *Monitor) Emitted() []model.Signal {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	out := make([]model.Signal, len(m.emitted))
	copy(out, m.emitted)
	return out
}

// Series returns copies of the retained candle and frame series for a
// symbol, aligned 1:1 and oldest first.
func (m *Monitor) Series(symbol string) ([]model.Candle, []model.IndicatorFrame) {
	p, ok := m.pipes[symbol]
	if !ok {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	candles, frames := alignedView(p.candles, p.engine.Frames(symbol))
	outC := make([]model.Candle, len(candles))
	copy(outC, candles)
	outF := make([]model.IndicatorFrame, len(frames))
	copy(outF, frames)
	return outC, outF
}

// Active reports whether a symbol has completed warm-up.
func (m *Monitor) Active(symbol string) bool {
	p, ok := m.pipes[symbol]
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// alignedView trims candles and frames to their longest shared suffix of
// matching open times. After a snapshot restore the frame series can start
// earlier (or later) than the freshly fetched candle history; detection
// must only ever see a 1:1 aligned window.
func alignedView(candles []model.Candle, frames []model.IndicatorFrame) ([]model.Candle, []model.IndicatorFrame) {
	ci, fi := len(candles), len(frames)
	for ci > 0 && fi > 0 && candles[ci-1].OpenTime.Equal(frames[fi-1].OpenTime) {
		ci--
		fi--
	}
	return candles[ci:], frames[fi:]
}
