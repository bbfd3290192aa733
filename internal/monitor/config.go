package monitor

import (
	"fmt"
	"time"

	"divergence-monitor/internal/divergence"
	"divergence-monitor/internal/indicator"
	"divergence-monitor/internal/model"
	"divergence-monitor/internal/notification"
)

// Config tunes the engine controller. Zero values are filled by
// DefaultConfig; Validate rejects combinations the pipeline cannot run on.
type Config struct {
	Symbols []string
	TF      int // working timeframe in seconds

	Warmup    int // closed candles required before detection runs
	Heartbeat int // closes between per-symbol heartbeat log lines
	Retention int // closed candles retained in memory per symbol
	QueueSize int // per-symbol close queue depth in live mode

	Params  indicator.Params
	Detect  divergence.Config
	Confirm divergence.ConfirmPolicy

	BackfillBars     int           // bars fetched for warm-up seed and resync
	SnapshotInterval time.Duration // live snapshot checkpoint cadence
	PreviewInterval  time.Duration // forming-frame publish cadence (0 disables)
}

// DefaultConfig returns the production controller configuration for the
// given symbols and timeframe.
func DefaultConfig(symbols []string, tf int) Config {
	return Config{
		Symbols:          symbols,
		TF:               tf,
		Warmup:           50,
		Heartbeat:        30,
		Retention:        500,
		QueueSize:        256,
		Params:           indicator.DefaultParams(),
		Detect:           divergence.DefaultConfig(),
		Confirm:          divergence.DefaultConfirmPolicy(),
		BackfillBars:     500,
		SnapshotInterval: 60 * time.Second,
		PreviewInterval:  5 * time.Second,
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("monitor: no symbols configured")
	}
	for _, s := range c.Symbols {
		if s == "" {
			return fmt.Errorf("monitor: empty symbol in list %v", c.Symbols)
		}
	}
	if c.TF <= 0 {
		return fmt.Errorf("monitor: timeframe must be positive, got %d", c.TF)
	}
	if c.Warmup < 1 {
		return fmt.Errorf("monitor: warmup must be >= 1, got %d", c.Warmup)
	}
	if c.Heartbeat < 1 {
		return fmt.Errorf("monitor: heartbeat must be >= 1, got %d", c.Heartbeat)
	}
	if c.Retention < c.Warmup {
		return fmt.Errorf("monitor: retention %d below warmup %d", c.Retention, c.Warmup)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("monitor: queue size must be >= 1, got %d", c.QueueSize)
	}
	if err := c.Params.Validate(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	if err := c.Detect.Validate(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

// Deps are the controller's collaborators. Ledger is required; everything
// else degrades to a no-op when nil.
type Deps struct {
	Ledger    model.SignalLedger
	Publisher model.Publisher
	Alerts    *notification.Dispatcher

	// History supplies closed candles for warm-up seeding and reconnect
	// gap fill. Required in live mode, unused in backtests.
	History model.HistorySource

	// Store persists closed candles off the hot path (live mode).
	Store model.CandleWriter

	// Snapshots checkpoints indicator engine state across restarts.
	Snapshots model.SnapshotStore

	// OnSignal observes every emitted signal after the ledger admits it.
	// The backtest collects its result set through this hook.
	OnSignal func(model.Signal)

	Hooks Hooks
}

// Hooks are optional observability callbacks; cmd wires them to Prometheus.
type Hooks struct {
	OnClose        func(model.Candle)
	OnScanDuration func(time.Duration)
	OnStateChange  func(symbol string, active bool)
	OnSuppressed   func(model.Signal)
	OnDropped      func(model.Signal, error)
	OnQueueDrop    func(name string)
}
