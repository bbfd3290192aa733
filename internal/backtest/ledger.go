// Package backtest turns a historical monitor run into a report: emitted
// signals, forward-return accuracy per confirmation bucket, an all-in
// trade simulation, and a JSON bundle for external charting.
package backtest

import (
	"context"
	"sync"

	"divergence-monitor/internal/model"
)

// MemLedger is an in-memory SignalLedger for backtests and tests, where
// dedup only needs to hold for one run. Same atomic first-writer-wins
// contract as the durable ledger.
type MemLedger struct {
	mu  sync.Mutex
	ids map[string]bool
}

// NewMemLedger creates an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{ids: make(map[string]bool)}
}

// Has reports whether the identity was already recorded.
func (l *MemLedger) Has(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ids[id], nil
}

// TryRecord records the signal's identity; returns true for the first
// writer only.
func (l *MemLedger) TryRecord(_ context.Context, sig model.Signal) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := sig.ID()
	if l.ids[id] {
		return false, nil
	}
	l.ids[id] = true
	return true, nil
}

// Count returns the number of recorded identities.
func (l *MemLedger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}
