package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the pipeline from concrete storage
// implementations (SQLite, Redis). Each implementation satisfies one or
// more of these interfaces.

// CandleWriter persists closed candles.
type CandleWriter interface {
	// Run reads closed candles from candleCh and writes them.
	// Blocks until ctx is cancelled or candleCh is closed.
	Run(ctx context.Context, candleCh <-chan Candle)

	// Close flushes pending writes and releases underlying resources.
	Close() error
}

// CandleReader reads closed candles for backfill and replay.
type CandleReader interface {
	// ReadCandles reads closed candles for a symbol and timeframe with
	// open_time strictly after afterTS (unix seconds), oldest first.
	ReadCandles(symbol string, tf int, afterTS int64) ([]Candle, error)

	// ReadLastCandles reads the most recent n closed candles, oldest first.
	ReadLastCandles(symbol string, tf int, n int) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// SignalLedger is the durable dedup store for emitted signals.
type SignalLedger interface {
	// Has reports whether a signal with this ID was already recorded.
	Has(ctx context.Context, id string) (bool, error)

	// TryRecord atomically records the signal unless its ID is already
	// present. Returns true if this call inserted the row (the caller may
	// emit), false if the identity already existed.
	TryRecord(ctx context.Context, sig Signal) (bool, error)
}

// Publisher pushes live pipeline output to external consumers.
// Implementations must never block the candle path; failures are dropped
// and counted, not propagated.
type Publisher interface {
	PublishCandle(ctx context.Context, c Candle)
	PublishFrame(ctx context.Context, f IndicatorFrame)
	PublishSignal(ctx context.Context, s Signal)
	Close() error
}

// HistorySource fetches closed historical candles from the market-data
// collaborator (REST backfill) for warm-up seeding, reconnect gap fill,
// and backtest ranges. Results are oldest first.
type HistorySource interface {
	// Bars returns closed candles for [start, end) at the given timeframe.
	Bars(symbol string, tf int, start, end time.Time) ([]Candle, error)

	// LastBars returns the most recent n closed candles.
	LastBars(symbol string, tf, n int) ([]Candle, error)
}

// SnapshotStore reads and writes indicator engine snapshots as raw JSON.
// Using []byte avoids a model→indicator→model import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded engine snapshot.
	SaveSnapshotJSON(data []byte) error

	// ReadLatestSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadLatestSnapshotJSON() ([]byte, error)
}
