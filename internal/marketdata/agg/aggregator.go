// Package agg builds timeframe OHLCV candles from ticks and upstream
// sub-bars. One Aggregator owns one timeframe; at most one candle per
// symbol is open at a time, and a finalized candle leaves exactly once.
package agg

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"divergence-monitor/internal/model"
)

// candleState holds the in-progress candle for one symbol's active bucket.
type candleState struct {
	bucket int64 // bucket index = unixSeconds / tf
	candle model.Candle
}

// Aggregator builds timeframe candles from a stream of ticks or 1-minute
// feed bars. Buckets are TF-aligned: bucket = floor(unixSeconds / tf).
// An update for a newer bucket finalizes the open candle; anything at or
// before the cursor is rejected so open times stay strictly increasing.
type Aggregator struct {
	mu     sync.Mutex
	tf     int
	states map[string]*candleState
	cursor map[string]int64 // last closed or seeded bucket per symbol

	flushInterval time.Duration

	// OnDroppedTick is called for every rejected update (optional).
	OnDroppedTick func()
}

// New creates an Aggregator for one timeframe (seconds).
func New(tf int) (*Aggregator, error) {
	if tf <= 0 {
		return nil, fmt.Errorf("agg: timeframe must be positive, got %d", tf)
	}
	return &Aggregator{
		tf:            tf,
		states:        make(map[string]*candleState),
		cursor:        make(map[string]int64),
		flushInterval: time.Second, // check frequency for bucket rollover
	}, nil
}

// TF returns the aggregator's timeframe in seconds.
func (a *Aggregator) TF() int { return a.tf }

// Run consumes ticks from tickCh, aggregates into timeframe candles, and
// sends finalized candles to candleCh. A closed tickCh means the feed is
// complete and remaining open candles are flushed; cancellation abandons
// them so a half-built bucket is never emitted as closed.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, candleCh chan<- model.Candle) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.mu.Lock()
			n := len(a.states)
			a.mu.Unlock()
			if n > 0 {
				log.Printf("[agg] shutdown with %d forming candles abandoned", n)
			}
			return

		case tick, ok := <-tickCh:
			if !ok {
				for _, c := range a.Flush() {
					a.send(c, candleCh)
				}
				return
			}
			if closed, rolled := a.Ingest(tick); rolled {
				a.send(closed, candleCh)
			}

		case <-ticker.C:
			for _, c := range a.CloseElapsed(time.Now()) {
				a.send(c, candleCh)
			}
		}
	}
}

// send is non-blocking to keep ingestion ahead of slow consumers.
func (a *Aggregator) send(c model.Candle, candleCh chan<- model.Candle) {
	select {
	case candleCh <- c:
	default:
		log.Printf("[agg] candleCh full, dropping candle %s open=%v", c.Key(), c.OpenTime)
	}
}

// Ingest incorporates one tick. When the tick opens a newer bucket the
// previous open candle is returned finalized, exactly once.
func (a *Aggregator) Ingest(tick model.Tick) (model.Candle, bool) {
	if tick.TickTS.IsZero() || tick.Price <= 0 {
		log.Printf("[agg] rejected malformed tick %s price=%.4f", tick.Symbol, tick.Price)
		a.noteDrop()
		return model.Candle{}, false
	}

	bucket := tick.TickTS.Unix() / int64(a.tf)

	a.mu.Lock()
	state, exists := a.states[tick.Symbol]

	if exists && bucket < state.bucket {
		open := state.bucket
		a.mu.Unlock()
		log.Printf("[agg] rejected out-of-order tick %s bucket=%d open=%d", tick.Symbol, bucket, open)
		a.noteDrop()
		return model.Candle{}, false
	}
	if !exists {
		if cur, ok := a.cursor[tick.Symbol]; ok && bucket <= cur {
			a.mu.Unlock()
			log.Printf("[agg] rejected out-of-order tick %s bucket=%d cursor=%d", tick.Symbol, bucket, cur)
			a.noteDrop()
			return model.Candle{}, false
		}
	}

	var closed model.Candle
	var rolled bool
	if exists && bucket > state.bucket {
		closed, rolled = a.finalize(tick.Symbol, state), true
		exists = false
	}

	if !exists {
		a.states[tick.Symbol] = &candleState{
			bucket: bucket,
			candle: model.Candle{
				Symbol:   tick.Symbol,
				TF:       a.tf,
				OpenTime: time.Unix(bucket*int64(a.tf), 0).UTC(),
				Open:     tick.Price,
				High:     tick.Price,
				Low:      tick.Price,
				Close:    tick.Price,
				Volume:   tick.Size,
				Count:    1,
			},
		}
		a.mu.Unlock()
		return closed, rolled
	}

	// Same bucket — update OHLC
	c := &state.candle
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume += tick.Size
	c.Count++
	a.mu.Unlock()
	return model.Candle{}, false
}

// AddBar merges an upstream sub-bar (e.g. a 1-minute feed bar) into the
// working timeframe. Same rollover and rejection rules as Ingest.
func (a *Aggregator) AddBar(bar model.Candle) (model.Candle, bool) {
	if bar.OpenTime.IsZero() || bar.Symbol == "" {
		log.Printf("[agg] rejected malformed bar %s open=%v", bar.Symbol, bar.OpenTime)
		a.noteDrop()
		return model.Candle{}, false
	}

	bucket := bar.OpenTime.Unix() / int64(a.tf)

	a.mu.Lock()
	state, exists := a.states[bar.Symbol]

	if exists && bucket < state.bucket {
		open := state.bucket
		a.mu.Unlock()
		log.Printf("[agg] rejected out-of-order bar %s bucket=%d open=%d", bar.Symbol, bucket, open)
		a.noteDrop()
		return model.Candle{}, false
	}
	if !exists {
		if cur, ok := a.cursor[bar.Symbol]; ok && bucket <= cur {
			a.mu.Unlock()
			log.Printf("[agg] rejected out-of-order bar %s bucket=%d cursor=%d", bar.Symbol, bucket, cur)
			a.noteDrop()
			return model.Candle{}, false
		}
	}

	var closed model.Candle
	var rolled bool
	if exists && bucket > state.bucket {
		closed, rolled = a.finalize(bar.Symbol, state), true
		exists = false
	}

	if !exists {
		count := bar.Count
		if count == 0 {
			count = 1
		}
		a.states[bar.Symbol] = &candleState{
			bucket: bucket,
			candle: model.Candle{
				Symbol:   bar.Symbol,
				TF:       a.tf,
				OpenTime: time.Unix(bucket*int64(a.tf), 0).UTC(),
				Open:     bar.Open,
				High:     bar.High,
				Low:      bar.Low,
				Close:    bar.Close,
				Volume:   bar.Volume,
				Count:    count,
			},
		}
		a.mu.Unlock()
		return closed, rolled
	}

	c := &state.candle
	if bar.High > c.High {
		c.High = bar.High
	}
	if bar.Low < c.Low {
		c.Low = bar.Low
	}
	c.Close = bar.Close
	c.Volume += bar.Volume
	if bar.Count > 0 {
		c.Count += bar.Count
	} else {
		c.Count++
	}
	a.mu.Unlock()
	return model.Candle{}, false
}

// Seed bulk-loads already-closed historical candles, advancing the bucket
// cursor so live ingestion rejects anything at or before the seeded tail.
// History must be oldest first with strictly increasing open times per
// symbol. Seeded candles are not re-emitted; the caller routes them
// downstream itself.
func (a *Aggregator) Seed(history []model.Candle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	last := make(map[string]int64)
	for i, c := range history {
		if c.OpenTime.IsZero() {
			return fmt.Errorf("agg: seed candle %d has no open time", i)
		}
		bucket := c.OpenTime.Unix() / int64(a.tf)
		if prev, ok := last[c.Symbol]; ok && bucket <= prev {
			return fmt.Errorf("agg: seed candles for %s not strictly increasing at index %d", c.Symbol, i)
		}
		if cur, ok := a.cursor[c.Symbol]; ok && bucket <= cur {
			return fmt.Errorf("agg: seed candle %d for %s overlaps already-closed history", i, c.Symbol)
		}
		last[c.Symbol] = bucket
	}

	for sym, bucket := range last {
		a.cursor[sym] = bucket
		if st, ok := a.states[sym]; ok && st.bucket <= bucket {
			log.Printf("[agg] seed superseded forming candle %s bucket=%d", sym, st.bucket)
			delete(a.states, sym)
		}
	}
	return nil
}

// Forming returns a copy of the open candle for symbol, if any. The copy
// carries Closed=false and is safe to publish as a preview.
func (a *Aggregator) Forming(symbol string) (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.states[symbol]
	if !ok {
		return model.Candle{}, false
	}
	return state.candle, true
}

// CloseElapsed finalizes open candles whose bucket has fully elapsed at
// now. Live mode calls this on a timer so a quiet feed still closes the
// bar once its interval ends.
func (a *Aggregator) CloseElapsed(now time.Time) []model.Candle {
	cutoff := now.Unix() / int64(a.tf)

	a.mu.Lock()
	defer a.mu.Unlock()

	var closed []model.Candle
	for sym, state := range a.states {
		if state.bucket < cutoff {
			closed = append(closed, a.finalize(sym, state))
		}
	}
	return closed
}

// Flush finalizes every open candle regardless of elapsed time. Used when
// the feed has delivered its last update.
func (a *Aggregator) Flush() []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var closed []model.Candle
	for sym, state := range a.states {
		closed = append(closed, a.finalize(sym, state))
	}
	return closed
}

// finalize closes the open candle and advances the cursor. Caller holds mu.
func (a *Aggregator) finalize(symbol string, state *candleState) model.Candle {
	state.candle.Closed = true
	a.cursor[symbol] = state.bucket
	delete(a.states, symbol)
	return state.candle
}

func (a *Aggregator) noteDrop() {
	if a.OnDroppedTick != nil {
		a.OnDroppedTick()
	}
}
