package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"divergence-monitor/internal/model"
)

// Reader provides read-only access to SQLite for warm-up, resync, and
// snapshot restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath, 2)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles reads stored candles for a symbol and timeframe with
// open_time strictly after afterTS, ordered ascending for correct replay.
func (r *Reader) ReadCandles(symbol string, tf int, afterTS int64) ([]model.Candle, error) {
	rows, err := r.db.Query(`
		SELECT symbol, tf, open_time, open, high, low, close, volume, count
		FROM candles
		WHERE symbol = ? AND tf = ? AND open_time > ?
		ORDER BY open_time ASC
	`, symbol, tf, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// ReadLastCandles reads the most recent n candles for a symbol and
// timeframe, returned oldest first.
func (r *Reader) ReadLastCandles(symbol string, tf, n int) ([]model.Candle, error) {
	rows, err := r.db.Query(`
		SELECT symbol, tf, open_time, open, high, low, close, volume, count
		FROM (
			SELECT symbol, tf, open_time, open, high, low, close, volume, count
			FROM candles
			WHERE symbol = ? AND tf = ?
			ORDER BY open_time DESC
			LIMIT ?
		)
		ORDER BY open_time ASC
	`, symbol, tf, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query last candles: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

func scanCandles(rows *sql.Rows) ([]model.Candle, error) {
	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		if err := rows.Scan(&c.Symbol, &c.TF, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Count); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.OpenTime = time.Unix(tsUnix, 0).UTC()
		c.Closed = true
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ReadLatestSnapshotJSON loads the most recent engine snapshot, or nil if
// none has been saved yet.
func (r *Reader) ReadLatestSnapshotJSON() ([]byte, error) {
	var data string
	err := r.db.QueryRow(`
		SELECT data FROM engine_snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // no snapshot
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
