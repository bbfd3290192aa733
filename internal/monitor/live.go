package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"divergence-monitor/internal/indicator"
	"divergence-monitor/internal/marketdata/bus"
	"divergence-monitor/internal/model"
)

// RunLive restores state, seeds warm-up history, then consumes the live
// feed until ctx is cancelled or both input channels close. Either channel
// may be nil: the production feed delivers 1-minute bars, the tick path
// exists for feeds that deliver raw trades.
//
// Closed candles flow through one internal path: aggregator → fan-out →
// per-symbol worker (detection) and the candle store.
func (m *Monitor) RunLive(ctx context.Context, ticks <-chan model.Tick, bars <-chan model.Candle) error {
	if ticks == nil && bars == nil {
		return fmt.Errorf("monitor: live mode needs a tick or bar channel")
	}

	m.restoreSnapshot()
	if err := m.seed(ctx); err != nil {
		return err
	}

	closedCh := make(chan model.Candle, m.cfg.QueueSize)
	m.closedMu.Lock()
	m.closedCh = closedCh
	m.closedMu.Unlock()

	fan := bus.New(m.cfg.QueueSize)
	if m.deps.Hooks.OnQueueDrop != nil {
		fan.OnDrop = m.deps.Hooks.OnQueueDrop
	}
	engineCh := fan.Subscribe("engine")
	if m.deps.Store != nil {
		storeCh := fan.Subscribe("store")
		go m.deps.Store.Run(ctx, storeCh)
	}
	go fan.Run(ctx, closedCh)

	// Per-symbol workers keep each symbol's pipeline strictly sequential.
	var wg sync.WaitGroup
	queues := make(map[string]chan model.Candle, len(m.pipes))
	for sym := range m.pipes {
		q := make(chan model.Candle, m.cfg.QueueSize)
		queues[sym] = q
		wg.Add(1)
		go func(q <-chan model.Candle) {
			defer wg.Done()
			for c := range q {
				m.process(ctx, c, true)
			}
		}(q)
	}

	go func() {
		for c := range engineCh {
			q, ok := queues[c.Symbol]
			if !ok {
				log.Printf("[monitor] dropping close for unconfigured symbol %s", c.Symbol)
				continue
			}
			q <- c
		}
		for _, q := range queues {
			close(q)
		}
	}()

	if m.deps.Publisher != nil && m.cfg.PreviewInterval > 0 {
		go m.previewLoop(ctx)
	}
	if m.deps.Snapshots != nil && m.cfg.SnapshotInterval > 0 {
		go m.snapshotLoop(ctx)
	}

	log.Printf("[monitor] live pipeline ready: %d symbols on %s",
		len(m.pipes), model.FormatTF(m.cfg.TF))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// fan.Run exits on ctx and closes engineCh; workers drain.
			wg.Wait()
			return nil

		case t, ok := <-ticks:
			if !ok {
				ticks = nil
				break
			}
			if closed, rolled := m.agg.Ingest(t); rolled {
				sendClose(ctx, closedCh, closed)
			}

		case b, ok := <-bars:
			if !ok {
				bars = nil
				break
			}
			if closed, rolled := m.agg.AddBar(b); rolled {
				sendClose(ctx, closedCh, closed)
			}

		case <-ticker.C:
			for _, c := range m.agg.CloseElapsed(time.Now()) {
				sendClose(ctx, closedCh, c)
			}
		}

		if ticks == nil && bars == nil {
			for _, c := range m.agg.Flush() {
				sendClose(ctx, closedCh, c)
			}
			close(closedCh)
			wg.Wait()
			log.Println("[monitor] feed closed, live pipeline drained")
			return nil
		}
	}
}

// sendClose hands a closed candle to the fan-out without wedging shutdown:
// cancellation wins over a full channel.
func sendClose(ctx context.Context, ch chan<- model.Candle, c model.Candle) {
	select {
	case ch <- c:
	case <-ctx.Done():
	}
}

// seed fetches recent closed candles per symbol and replays them through
// the close path without detection, so indicators are warm before the
// first live close. Without a history source the monitor cold-starts and
// warms up from the feed alone.
func (m *Monitor) seed(ctx context.Context) error {
	if m.deps.History == nil {
		log.Println("[monitor] no history source, warming up from live feed")
		return nil
	}

	for sym, p := range m.pipes {
		bars, err := m.deps.History.LastBars(sym, m.cfg.TF, m.cfg.BackfillBars)
		if err != nil {
			return fmt.Errorf("monitor: seed %s: %w", sym, err)
		}
		if err := m.agg.Seed(bars); err != nil {
			return fmt.Errorf("monitor: seed %s: %w", sym, err)
		}

		replayed, skipped := 0, 0
		for _, c := range bars {
			if !c.Closed {
				continue
			}
			p.mu.Lock()
			known := c.OpenTime.Unix() <= p.engine.LastOpenTime(sym)
			if known {
				// Frame already restored from snapshot; keep the candle
				// so the detection window stays aligned.
				p.candles = append(p.candles, c)
				if len(p.candles) > m.cfg.Retention {
					copy(p.candles, p.candles[1:])
					p.candles = p.candles[:len(p.candles)-1]
				}
			}
			p.mu.Unlock()
			if known {
				skipped++
				continue
			}
			m.process(ctx, c, false)
			replayed++
		}
		log.Printf("[monitor] seeded %s: %d candles replayed, %d already in snapshot",
			sym, replayed, skipped)
	}
	return nil
}

// Resync reconciles the gap after a feed reconnect: sub-timeframe bars
// from the last consumed close to now are replayed through the aggregator,
// whose cursor rejects anything already seen. Called by the stream client
// before bar delivery resumes.
func (m *Monitor) Resync(ctx context.Context) {
	if m.deps.History == nil {
		return
	}

	subTF := 60
	if m.cfg.TF < subTF {
		subTF = m.cfg.TF
	}

	for sym, p := range m.pipes {
		p.mu.Lock()
		last := p.engine.LastOpenTime(sym)
		p.mu.Unlock()
		if last == 0 {
			continue
		}

		start := time.Unix(last+int64(m.cfg.TF), 0).UTC()
		bars, err := m.deps.History.Bars(sym, subTF, start, time.Now().UTC())
		if err != nil {
			log.Printf("[monitor] resync %s failed: %v", sym, err)
			continue
		}

		closes := 0
		for _, b := range bars {
			if closed, rolled := m.agg.AddBar(b); rolled {
				m.routeClose(ctx, closed)
				closes++
			}
		}
		log.Printf("[monitor] resync %s: %d sub-bars fetched, %d closes reconciled",
			sym, len(bars), closes)
	}
}

// routeClose delivers a closed candle through the live fan-out when it is
// running, falling back to direct processing.
func (m *Monitor) routeClose(ctx context.Context, c model.Candle) {
	m.closedMu.Lock()
	ch := m.closedCh
	m.closedMu.Unlock()
	if ch != nil {
		sendClose(ctx, ch, c)
		return
	}
	m.process(ctx, c, true)
}

// previewLoop publishes forming-candle frames so dashboards can show the
// open bucket between closes. Previews never touch pipeline state.
func (m *Monitor) previewLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PreviewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for sym, p := range m.pipes {
				forming, ok := m.agg.Forming(sym)
				if !ok {
					continue
				}
				p.mu.Lock()
				frame, ok := p.engine.PeekFrame(forming)
				p.mu.Unlock()
				if ok {
					m.deps.Publisher.PublishFrame(ctx, frame)
				}
			}
		}
	}
}

// snapshotLoop checkpoints indicator state so a restart can resume without
// a full warm-up replay.
func (m *Monitor) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.checkpoint(); err != nil {
				log.Printf("[monitor] snapshot checkpoint failed: %v", err)
			}
		}
	}
}

// checkpoint merges every pipeline's engine snapshot into one document and
// persists it.
func (m *Monitor) checkpoint() error {
	merged := indicator.EngineSnapshot{
		Version: 1,
		TF:      m.cfg.TF,
		Params:  m.cfg.Params,
	}
	for _, p := range m.pipes {
		p.mu.Lock()
		snap, err := indicator.SnapshotEngine(p.engine)
		p.mu.Unlock()
		if err != nil {
			return err
		}
		merged.Symbols = append(merged.Symbols, snap.Symbols...)
	}

	raw, err := json.Marshal(&merged)
	if err != nil {
		return err
	}
	return m.deps.Snapshots.SaveSnapshotJSON(raw)
}

// restoreSnapshot rebuilds per-symbol engines from the latest persisted
// snapshot. Any failure falls back to a cold start; seeding catches up
// whatever the snapshot did not cover.
func (m *Monitor) restoreSnapshot() {
	if m.deps.Snapshots == nil {
		return
	}

	raw, err := m.deps.Snapshots.ReadLatestSnapshotJSON()
	if err != nil {
		log.Printf("[monitor] snapshot read failed: %v — cold starting", err)
		return
	}
	if raw == nil {
		return
	}

	var snap indicator.EngineSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		log.Printf("[monitor] snapshot decode failed: %v — cold starting", err)
		return
	}

	restorer := indicator.NewRestorer(m.cfg.TF, m.cfg.Params, m.cfg.Retention)
	for _, ss := range snap.Symbols {
		p, ok := m.pipes[ss.Symbol]
		if !ok {
			continue
		}
		single := snap
		single.Symbols = []indicator.SymbolSnapshot{ss}
		p.mu.Lock()
		p.engine = restorer.RestoreFromSnap(&single)
		p.mu.Unlock()
	}
}
