// cmd/feedsim — local WebSocket bar server speaking the Alpaca stream
// protocol, so the monitor runs end to end without credentials.
//
// Clients auth and subscribe exactly as against the real feed; the server
// then emits accelerated 1-minute bars. Regular symbols follow a clamped
// deterministic random walk; the symbol "TEST" replays a series that
// contains one confirmed bullish RSI divergence, then keeps walking.
//
// Config (env vars):
//
//	FEEDSIM_ADDR         — listen address (default ":9001", path /stream)
//	FEEDSIM_SYMBOLS      — comma-separated symbols (default "SMCI,TEST")
//	FEEDSIM_INTERVAL_MS  — bar emit interval in ms (default "500")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"divergence-monitor/internal/marketdata/replay"
	"divergence-monitor/internal/model"
	"divergence-monitor/internal/ringbuf"
)

// barMsg is one Alpaca-protocol bar frame.
type barMsg struct {
	T  string  `json:"T"` // always "b"
	S  string  `json:"S"`
	TS string  `json:"t"`
	O  float64 `json:"o"`
	H  float64 `json:"h"`
	L  float64 `json:"l"`
	C  float64 `json:"c"`
	V  int64   `json:"v"`
	N  int     `json:"n"`
}

func encodeBar(c model.Candle) []byte {
	b, _ := json.Marshal([]barMsg{{
		T:  "b",
		S:  c.Symbol,
		TS: c.OpenTime.UTC().Format(time.RFC3339),
		O:  c.Open,
		H:  c.High,
		L:  c.Low,
		C:  c.Close,
		V:  c.Volume,
		N:  c.Count,
	}})
	return b
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

// client buffers outgoing bars in an SPSC ring so a stalled subscriber
// sheds its own bars instead of blocking the generator.
type client struct {
	ring    *ringbuf.Ring
	wake    chan struct{}
	symbols map[string]bool // subscribed set
}

func (c *client) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *hub) register(conn *websocket.Conn, symbols []string) *client {
	c := &client{
		ring:    ringbuf.New(1024),
		wake:    make(chan struct{}, 1),
		symbols: make(map[string]bool, len(symbols)),
	}
	for _, s := range symbols {
		c.symbols[strings.ToUpper(s)] = true
	}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

func (h *hub) broadcast(bar model.Candle) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.symbols[bar.Symbol] {
			continue
		}
		c.ring.Push(bar) // full ring counts an overflow and drops
		c.notify()
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// handshake runs the Alpaca-style auth+subscribe exchange and returns the
// subscribed symbols. Credentials are accepted unchecked.
func handshake(conn *websocket.Conn) ([]string, error) {
	greeting := `[{"T":"success","msg":"connected"}]`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(greeting)); err != nil {
		return nil, err
	}

	var auth struct {
		Action string `json:"action"`
	}
	if err := conn.ReadJSON(&auth); err != nil {
		return nil, err
	}
	if auth.Action != "auth" {
		return nil, fmt.Errorf("expected auth, got %q", auth.Action)
	}
	if err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`[{"T":"success","msg":"authenticated"}]`)); err != nil {
		return nil, err
	}

	var sub struct {
		Action string   `json:"action"`
		Bars   []string `json:"bars"`
	}
	if err := conn.ReadJSON(&sub); err != nil {
		return nil, err
	}
	if sub.Action != "subscribe" || len(sub.Bars) == 0 {
		return nil, fmt.Errorf("expected bar subscription, got %q", sub.Action)
	}
	ack, _ := json.Marshal([]map[string]interface{}{{"T": "subscription", "bars": sub.Bars}})
	if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
		return nil, err
	}
	return sub.Bars, nil
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[feedsim] upgrade error: %v", err)
			return
		}

		symbols, err := handshake(conn)
		if err != nil {
			log.Printf("[feedsim] handshake with %s failed: %v", r.RemoteAddr, err)
			conn.Close()
			return
		}
		log.Printf("[feedsim] client %s subscribed to %v", r.RemoteAddr, symbols)

		c := h.register(conn, symbols)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[feedsim] client disconnected: %s (dropped %d bars)",
				r.RemoteAddr, c.ring.Overflow())
		}()

		// Reader drain: detects close, discards client chatter.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		// Write pump: drain the ring on each wake-up.
		for {
			select {
			case <-done:
				return
			case <-c.wake:
				for {
					bar, ok := c.ring.Pop()
					if !ok {
						break
					}
					conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, encodeBar(bar)); err != nil {
						return
					}
				}
			}
		}
	}
}

// ─── Bar generator ────────────────────────────────────────────────────────────

// source yields the pre-generated bar sequence for one symbol.
type source struct {
	bars []model.Candle
	next int
}

func (s *source) pop() (model.Candle, bool) {
	if s.next >= len(s.bars) {
		return model.Candle{}, false
	}
	c := s.bars[s.next]
	s.next++
	return c, true
}

// buildSources pre-generates each symbol's bar sequence. TEST leads with
// the divergence series so a monitor in sim mode produces a signal within
// the first ~80 bars.
func buildSources(symbols []string, start time.Time) map[string]*source {
	const walkLen = 50_000 // ~34 days of 1-minute bars

	out := make(map[string]*source, len(symbols))
	for _, sym := range symbols {
		if sym == "TEST" {
			div := replay.BullishDivergenceSeries(sym, 60, start)
			tail := replay.WalkSeries(sym, 60, div[len(div)-1].OpenTime.Add(time.Minute),
				walkLen, div[len(div)-1].Close)
			out[sym] = &source{bars: append(div, tail...)}
			continue
		}
		out[sym] = &source{bars: replay.WalkSeries(sym, 60, start, walkLen, 100)}
	}
	return out
}

func runGenerator(h *hub, sources map[string]*source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		live := 0
		for _, src := range sources {
			bar, ok := src.pop()
			if !ok {
				continue
			}
			live++
			h.broadcast(bar)
		}
		if live == 0 {
			log.Println("[feedsim] all sources exhausted, idling")
			return
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedsim] starting bar feed simulator...")

	addr := envOrDefault("FEEDSIM_ADDR", ":9001")
	symbolsEnv := envOrDefault("FEEDSIM_SYMBOLS", "SMCI,TEST")
	intervalMs := envIntOrDefault("FEEDSIM_INTERVAL_MS", 500)

	var symbols []string
	for _, s := range strings.Split(symbolsEnv, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		log.Fatal("[feedsim] no symbols configured via FEEDSIM_SYMBOLS")
	}

	// Bars are stamped in the past so every emitted bucket is already
	// closable by the aggregator.
	start := time.Now().UTC().Add(-time.Duration(50_000+100) * time.Minute)
	sources := buildSources(symbols, start)
	log.Printf("[feedsim] symbols: %v, interval: %dms (1 bar = 1 simulated minute)", symbols, intervalMs)

	h := newHub()
	go runGenerator(h, sources, time.Duration(intervalMs)*time.Millisecond)

	http.HandleFunc("/stream", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"feedsim"}`)
	})

	log.Printf("[feedsim] listening on %s (WebSocket: ws://localhost%s/stream)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[feedsim] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
