package indicator

import (
	"fmt"

	"divergence-monitor/internal/model"
)

// Snapshottable is implemented by indicators that support state serialization.
type Snapshottable interface {
	Indicator
	Snapshot() IndicatorSnapshot
	RestoreFromSnapshot(snap IndicatorSnapshot) error
}

// IndicatorSnapshot holds the serialized state of a single indicator
// instance. Composite indicators (MACD, KDJ) nest the snapshots of their
// inner smoothers.
type IndicatorSnapshot struct {
	Type   string `json:"type"`   // "SMA", "EMA", "SMMA", "RSI", "MACD", "KDJ"
	Period int    `json:"period"` // indicator period (slow period for MACD, window for KDJ)

	// SMA fields
	Buf     []float64 `json:"buf,omitempty"`
	Idx     int       `json:"idx,omitempty"`
	Count   int       `json:"count"`
	Sum     float64   `json:"sum,omitempty"`
	Current float64   `json:"current"`

	// EMA fields
	Multiplier float64 `json:"multiplier,omitempty"`

	// SMMA fields
	Primed bool `json:"primed,omitempty"`

	// RSI fields
	PrevClose float64 `json:"prev_close,omitempty"`
	AvgGain   float64 `json:"avg_gain,omitempty"`
	AvgLoss   float64 `json:"avg_loss,omitempty"`

	// MACD fields
	Signal float64            `json:"signal,omitempty"`
	Hist   float64            `json:"hist,omitempty"`
	Fast   *IndicatorSnapshot `json:"fast,omitempty"`
	Slow   *IndicatorSnapshot `json:"slow,omitempty"`
	Sig    *IndicatorSnapshot `json:"sig,omitempty"`

	// KDJ fields
	Highs []float64          `json:"highs,omitempty"`
	Lows  []float64          `json:"lows,omitempty"`
	J     float64            `json:"j,omitempty"`
	KSnap *IndicatorSnapshot `json:"k_snap,omitempty"`
	DSnap *IndicatorSnapshot `json:"d_snap,omitempty"`
}

// SymbolSnapshot holds the full per-symbol engine state: indicator
// accumulators plus the retained frame series, so a restored engine can
// resume detection without waiting for the frame window to refill.
type SymbolSnapshot struct {
	Symbol string                 `json:"symbol"`
	LastTS int64                  `json:"last_ts"` // unix seconds of last consumed close
	RSI    IndicatorSnapshot      `json:"rsi"`
	MACD   IndicatorSnapshot      `json:"macd"`
	KDJ    IndicatorSnapshot      `json:"kdj"`
	Frames []model.IndicatorFrame `json:"frames"`
}

// EngineSnapshot holds the full state of the frame engine.
type EngineSnapshot struct {
	Version int              `json:"version"` // schema version for forward compat
	TF      int              `json:"tf"`
	Params  Params           `json:"params"`
	Symbols []SymbolSnapshot `json:"symbols"`
}

// SnapshotEngine captures the full state of a frame Engine.
func SnapshotEngine(e *Engine) (*EngineSnapshot, error) {
	snap := &EngineSnapshot{
		Version: 1,
		TF:      e.tf,
		Params:  e.params,
	}

	for sym, st := range e.state {
		frames := make([]model.IndicatorFrame, len(st.frames))
		copy(frames, st.frames)
		snap.Symbols = append(snap.Symbols, SymbolSnapshot{
			Symbol: sym,
			LastTS: st.lastTS,
			RSI:    st.rsi.Snapshot(),
			MACD:   st.macd.Snapshot(),
			KDJ:    st.kdj.Snapshot(),
			Frames: frames,
		})
	}

	return snap, nil
}

// RestoreEngine rebuilds a frame Engine from a snapshot. The snapshot must
// match the requested timeframe and params; mismatches are an error so the
// caller can fall back to a cold start explicitly.
func RestoreEngine(tf int, params Params, retention int, snap *EngineSnapshot) (*Engine, error) {
	if snap.TF != tf {
		return nil, fmt.Errorf("snapshot tf=%d does not match configured tf=%d", snap.TF, tf)
	}
	if snap.Params != params {
		return nil, fmt.Errorf("snapshot params %+v do not match configured params %+v", snap.Params, params)
	}

	e := NewEngine(tf, params, retention)
	for _, ss := range snap.Symbols {
		st := e.newSymbolState()
		if err := st.rsi.RestoreFromSnapshot(ss.RSI); err != nil {
			return nil, fmt.Errorf("restore rsi for %s: %w", ss.Symbol, err)
		}
		if err := st.macd.RestoreFromSnapshot(ss.MACD); err != nil {
			return nil, fmt.Errorf("restore macd for %s: %w", ss.Symbol, err)
		}
		if err := st.kdj.RestoreFromSnapshot(ss.KDJ); err != nil {
			return nil, fmt.Errorf("restore kdj for %s: %w", ss.Symbol, err)
		}
		st.lastTS = ss.LastTS
		st.frames = make([]model.IndicatorFrame, len(ss.Frames))
		copy(st.frames, ss.Frames)
		e.state[ss.Symbol] = st
	}

	return e, nil
}
