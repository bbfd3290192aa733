package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"divergence-monitor/internal/marketdata/replay"
	"divergence-monitor/internal/model"
)

var monBase = time.Unix(1_700_000_400, 0).UTC()

// stubLedger is an in-memory SignalLedger with a switchable failure mode.
type stubLedger struct {
	mu   sync.Mutex
	ids  map[string]bool
	fail bool
}

func newStubLedger() *stubLedger {
	return &stubLedger{ids: make(map[string]bool)}
}

func (l *stubLedger) Has(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return false, errors.New("ledger down")
	}
	return l.ids[id], nil
}

func (l *stubLedger) TryRecord(_ context.Context, sig model.Signal) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return false, errors.New("ledger down")
	}
	id := sig.ID()
	if l.ids[id] {
		return false, nil
	}
	l.ids[id] = true
	return true, nil
}

func testConfig() Config {
	return DefaultConfig([]string{"TEST"}, 600)
}

// ─── Backtest end to end ─────────────────────────────────────────────────

func TestRunBacktest_EmitsBullishStrongSignal(t *testing.T) {
	series := replay.BullishDivergenceSeries("TEST", 600, monBase)

	m, err := New(testConfig(), Deps{Ledger: newStubLedger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := m.RunBacktest(context.Background(), series)
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}

	if len(res.Signals) != 1 {
		t.Fatalf("expected exactly 1 signal, got %d: %+v", len(res.Signals), res.Signals)
	}
	sig := res.Signals[0]
	if sig.Direction != model.Bullish {
		t.Errorf("direction = %s, want BULLISH", sig.Direction)
	}
	if sig.Strength != model.StrengthStrong {
		t.Errorf("strength = %s, want STRONG", sig.Strength)
	}
	if sig.Trigger != model.TriggerRSIDivergence {
		t.Errorf("trigger = %s", sig.Trigger)
	}
	// Anchored at the lower low (index 72), compared against the first
	// low (index 57).
	if want := series[72].OpenTime; !sig.OpenTime.Equal(want) {
		t.Errorf("open time = %v, want %v", sig.OpenTime, want)
	}
	if want := series[57].OpenTime; !sig.PrevPivot.Equal(want) {
		t.Errorf("prev pivot = %v, want %v", sig.PrevPivot, want)
	}
	if sig.Price != series[72].Close {
		t.Errorf("price = %v, want %v", sig.Price, series[72].Close)
	}

	confs := map[model.Confirmation]bool{}
	for _, c := range sig.Confirmations {
		confs[c] = true
	}
	if !confs[model.ConfirmMACD] || !confs[model.ConfirmKDJ] {
		t.Errorf("confirmations = %v, want MACD and KDJ", sig.Confirmations)
	}

	if len(res.Candles["TEST"]) != len(res.Frames["TEST"]) {
		t.Errorf("result series misaligned: %d candles vs %d frames",
			len(res.Candles["TEST"]), len(res.Frames["TEST"]))
	}
	if !m.Active("TEST") {
		t.Error("symbol should be active after warm-up")
	}
}

func TestRunBacktest_SingleConfirmationIsNormal(t *testing.T) {
	series := replay.BullishDivergenceSeries("TEST", 600, monBase)

	cfg := testConfig()
	cfg.Confirm.UseKDJ = false // only MACD can agree

	m, err := New(cfg, Deps{Ledger: newStubLedger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := m.RunBacktest(context.Background(), series)
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}

	if len(res.Signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(res.Signals))
	}
	sig := res.Signals[0]
	if sig.Strength != model.StrengthNormal {
		t.Errorf("strength = %s, want NORMAL", sig.Strength)
	}
	if len(sig.Confirmations) != 1 || sig.Confirmations[0] != model.ConfirmMACD {
		t.Errorf("confirmations = %v, want [MACD]", sig.Confirmations)
	}
}

func TestRunBacktest_PreseededLedgerSuppresses(t *testing.T) {
	series := replay.BullishDivergenceSeries("TEST", 600, monBase)

	ledger := newStubLedger()
	known := model.Signal{
		Symbol:    "TEST",
		TF:        600,
		OpenTime:  series[72].OpenTime,
		Direction: model.Bullish,
	}
	ledger.ids[known.ID()] = true

	suppressed := 0
	m, err := New(testConfig(), Deps{
		Ledger: ledger,
		Hooks:  Hooks{OnSuppressed: func(model.Signal) { suppressed++ }},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := m.RunBacktest(context.Background(), series)
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}

	if len(res.Signals) != 0 {
		t.Fatalf("expected 0 signals with pre-seeded ledger, got %d", len(res.Signals))
	}
	if suppressed == 0 {
		t.Error("expected the suppression hook to fire")
	}
}

func TestRunBacktest_LedgerFailureDropsSignal(t *testing.T) {
	series := replay.BullishDivergenceSeries("TEST", 600, monBase)

	ledger := newStubLedger()
	ledger.fail = true

	var dropped []error
	m, err := New(testConfig(), Deps{
		Ledger: ledger,
		Hooks:  Hooks{OnDropped: func(_ model.Signal, err error) { dropped = append(dropped, err) }},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := m.RunBacktest(context.Background(), series)
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}

	if len(res.Signals) != 0 {
		t.Fatalf("signal emitted on unverified dedup state: %+v", res.Signals)
	}
	if len(dropped) == 0 {
		t.Error("expected the drop hook to fire with the ledger error")
	}
}

func TestRunBacktest_RejectsOutOfOrderHistory(t *testing.T) {
	series := replay.BullishDivergenceSeries("TEST", 600, monBase)
	series[10].OpenTime = series[9].OpenTime // duplicate bucket

	m, err := New(testConfig(), Deps{Ledger: newStubLedger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.RunBacktest(context.Background(), series); err == nil {
		t.Fatal("expected error for non-increasing history")
	}
}

// ─── Live path ───────────────────────────────────────────────────────────

// Live mode fed the same series as TF bars must emit the identical signal:
// one code path for both modes.
func TestRunLive_MatchesBacktestSignal(t *testing.T) {
	series := replay.BullishDivergenceSeries("TEST", 600, monBase)

	cfg := testConfig()
	cfg.PreviewInterval = 0
	m, err := New(cfg, Deps{Ledger: newStubLedger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	barCh := make(chan model.Candle)
	go func() {
		for _, c := range series {
			barCh <- c
		}
		close(barCh)
	}()

	done := make(chan error, 1)
	go func() { done <- m.RunLive(context.Background(), nil, barCh) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunLive: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("RunLive did not drain after feed close")
	}

	got := m.Emitted()
	if len(got) != 1 {
		t.Fatalf("expected 1 signal from live replay, got %d", len(got))
	}
	if got[0].Direction != model.Bullish || got[0].Strength != model.StrengthStrong {
		t.Errorf("signal = %s/%s, want BULLISH/STRONG", got[0].Direction, got[0].Strength)
	}
	if !got[0].OpenTime.Equal(series[72].OpenTime) {
		t.Errorf("open time = %v, want %v", got[0].OpenTime, series[72].OpenTime)
	}
}

func TestRouteClose_ReturnsWhenFanoutStopped(t *testing.T) {
	m, err := New(testConfig(), Deps{Ledger: newStubLedger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Simulate a resync arriving after shutdown: the live channel still
	// exists but nothing drains it, and the context is already cancelled.
	m.closedMu.Lock()
	m.closedCh = make(chan model.Candle)
	m.closedMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.routeClose(ctx, model.Candle{Symbol: "TEST", OpenTime: monBase, Closed: true})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("routeClose blocked on stopped fan-out")
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────

func TestAlignedView(t *testing.T) {
	mk := func(times ...int) ([]model.Candle, []model.IndicatorFrame) {
		var cs []model.Candle
		var fs []model.IndicatorFrame
		for _, n := range times {
			ts := monBase.Add(time.Duration(n) * 10 * time.Minute)
			cs = append(cs, model.Candle{OpenTime: ts})
			fs = append(fs, model.IndicatorFrame{OpenTime: ts})
		}
		return cs, fs
	}

	candles, frames := mk(0, 1, 2, 3)
	c, f := alignedView(candles, frames)
	if len(c) != 4 || len(f) != 4 {
		t.Fatalf("full match trimmed to %d/%d", len(c), len(f))
	}

	// Frames start earlier than candles (snapshot covered older closes).
	_, longFrames := mk(0, 1, 2, 3)
	shortCandles, _ := mk(2, 3)
	c, f = alignedView(shortCandles, longFrames)
	if len(c) != 2 || len(f) != 2 {
		t.Fatalf("suffix match = %d/%d, want 2/2", len(c), len(f))
	}
	if !c[0].OpenTime.Equal(f[0].OpenTime) {
		t.Error("aligned view open times differ")
	}

	// Disjoint tails share nothing.
	a, _ := mk(0, 1)
	_, b := mk(5, 6)
	c, f = alignedView(a, b)
	if len(c) != 0 || len(f) != 0 {
		t.Fatalf("disjoint series aligned to %d/%d", len(c), len(f))
	}
}
