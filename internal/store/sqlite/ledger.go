package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"divergence-monitor/internal/model"
)

// ErrLedgerUnavailable reports that ledger I/O kept failing after bounded
// retries. Callers drop the signal and surface the error rather than
// emitting on unverified dedup state.
var ErrLedgerUnavailable = errors.New("signal ledger unavailable")

// LedgerConfig configures the dedup ledger.
type LedgerConfig struct {
	DBPath      string
	MaxRetries  int           // retry attempts after the first failure
	BaseBackoff time.Duration // first retry delay, doubled per attempt
}

// Ledger is the durable at-most-once record of emitted signals. Check and
// record are a single INSERT OR IGNORE, so two workers racing on the same
// identity cannot both observe "absent".
type Ledger struct {
	db          *sql.DB
	maxRetries  int
	baseBackoff time.Duration
}

// NewLedger opens the ledger store and ensures its schema exists.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}

	db, err := open(cfg.DBPath, 1)
	if err != nil {
		return nil, fmt.Errorf("ledger open: %w", err)
	}
	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("ledger schema: %w", err)
	}

	return &Ledger{db: db, maxRetries: cfg.MaxRetries, baseBackoff: cfg.BaseBackoff}, nil
}

// TryRecord atomically records the signal's identity. Returns true when the
// identity was newly recorded (caller may emit) and false when it was
// already present (duplicate, suppress). Exhausted retries surface
// ErrLedgerUnavailable and the signal must not be emitted.
func (l *Ledger) TryRecord(ctx context.Context, sig model.Signal) (bool, error) {
	var inserted bool
	err := l.withRetry(ctx, "record", func() error {
		res, err := l.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO alerts_sent (id, symbol, tf, open_time, direction, strength)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sig.ID(), sig.Symbol, sig.TF, sig.OpenTime.Unix(), string(sig.Direction), string(sig.Strength))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: record %s: %v", ErrLedgerUnavailable, sig.ID(), err)
	}
	return inserted, nil
}

// Has reports whether the identity has already been recorded.
func (l *Ledger) Has(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := l.withRetry(ctx, "lookup", func() error {
		return l.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM alerts_sent WHERE id = ?)`, id,
		).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("%w: lookup %s: %v", ErrLedgerUnavailable, id, err)
	}
	return exists, nil
}

// Count returns the number of recorded identities.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var n int
	err := l.withRetry(ctx, "count", func() error {
		return l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts_sent`).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrLedgerUnavailable, err)
	}
	return n, nil
}

// withRetry runs fn with bounded exponential backoff. Cancellation wins over
// further retries.
func (l *Ledger) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := l.baseBackoff
	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[ledger] %s retry %d/%d after %v: %v", op, attempt, l.maxRetries, delay, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// Close closes the ledger store.
func (l *Ledger) Close() error {
	return l.db.Close()
}
