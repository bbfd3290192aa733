package indicator

import (
	"log"

	"divergence-monitor/internal/model"
)

// Restorer orchestrates frame engine restoration on monitor startup.
// Priority chain: persisted snapshot → cold start, followed by a candle
// replay to catch up from the snapshot to the present.
type Restorer struct {
	tf        int
	params    Params
	retention int
}

// NewRestorer creates a Restorer for the given engine configuration.
func NewRestorer(tf int, params Params, retention int) *Restorer {
	return &Restorer{tf: tf, params: params, retention: retention}
}

// RestoreFromSnap attempts to restore an engine from a snapshot.
// If snap is nil or incompatible, returns a fresh engine (cold start).
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) *Engine {
	if snap == nil {
		log.Println("[restorer] no snapshot found — cold starting frame engine")
		return NewEngine(r.tf, r.params, r.retention)
	}

	engine, err := RestoreEngine(r.tf, r.params, r.retention, snap)
	if err != nil {
		log.Printf("[restorer] WARNING: snapshot restore failed: %v — falling back to cold start", err)
		return NewEngine(r.tf, r.params, r.retention)
	}

	log.Printf("[restorer] restored frame engine from snapshot (version=%d, symbols=%d)",
		snap.Version, len(snap.Symbols))
	return engine
}

// ReplayCandles feeds closed candles into the engine to catch up from the
// snapshot to current state. Candles at or before a symbol's last consumed
// close are skipped, so overlapping backfills never double-update state.
// Returns the number of candles replayed.
func (r *Restorer) ReplayCandles(engine *Engine, candles []model.Candle) int {
	count := 0
	for _, c := range candles {
		if !c.Closed {
			continue
		}
		if c.OpenTime.Unix() <= engine.LastOpenTime(c.Symbol) {
			continue
		}
		engine.OnClose(c)
		count++
	}
	if count > 0 {
		log.Printf("[restorer] replayed %d candles to catch up", count)
	}
	return count
}
