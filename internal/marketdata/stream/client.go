// Package stream connects to the Alpaca market-data WebSocket and feeds
// 1-minute bars into the aggregation pipeline.
//
// The wire protocol: after connect the client sends
//
//	{"action":"auth","key":"...","secret":"..."}
//	{"action":"subscribe","bars":["SMCI",...]}
//
// and then receives JSON arrays of messages, where bars carry T=="b":
//
//	[{"T":"b","S":"SMCI","t":"2026-01-02T15:04:00Z","o":50.1,"h":50.6,"l":49.9,"c":50.2,"v":1200,"n":35}]
//
// cmd/feedsim speaks the same protocol for offline runs.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"divergence-monitor/internal/model"

	"github.com/gorilla/websocket"
)

// Config holds configuration for the bar stream client.
type Config struct {
	// URL of the bar stream, e.g. "wss://stream.data.alpaca.markets/v2/iex"
	// or "ws://localhost:9001/stream" against cmd/feedsim.
	URL       string
	APIKey    string
	APISecret string
	Symbols   []string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 1 second if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Client streams bars from an Alpaca-protocol WebSocket into a channel,
// reconnecting with exponential backoff.
type Client struct {
	cfg Config

	// OnResync is called after each re-established session before bars
	// resume, so the controller can backfill the disconnect gap. Not
	// called for the first connect.
	OnResync func()
}

// New creates a stream client. Returns an error for an unparseable URL or
// an empty symbol list.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("stream: bad url: %w", err)
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("stream: no symbols to subscribe")
	}
	return &Client{cfg: cfg}, nil
}

// Run connects and streams 1-minute bars into barCh. Blocks until ctx is
// cancelled; disconnects trigger reconnection with 1s→30s doubling
// backoff, reset after each successful handshake.
func (c *Client) Run(ctx context.Context, barCh chan<- model.Candle) error {
	delay := c.cfg.ReconnectDelay
	connected := false

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		handshook, err := c.runOnce(ctx, barCh, connected)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}
		if handshook {
			connected = true
			delay = c.cfg.ReconnectDelay
		}

		log.Printf("[stream] disconnected (%v), reconnecting in %s...", err, delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connect+auth+subscribe attempt and reads until
// disconnect or ctx cancel. Reports whether the handshake completed.
func (c *Client) runOnce(ctx context.Context, barCh chan<- model.Candle, resync bool) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := c.handshake(conn); err != nil {
		return false, err
	}
	log.Printf("[stream] connected to %s, subscribed to %d symbols", c.cfg.URL, len(c.cfg.Symbols))

	// Reconcile the gap before consuming new bars; anything queued on the
	// socket meanwhile is handled by the aggregator's cursor.
	if resync && c.OnResync != nil {
		c.OnResync()
	}

	// Async context watcher — closes the connection when ctx is cancelled.
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		for _, m := range parseMessages(raw) {
			switch m.T {
			case "b":
				bar, err := m.bar()
				if err != nil {
					log.Printf("[stream] bad bar: %v (raw: %s)", err, raw)
					continue
				}
				select {
				case <-ctx.Done():
					return true, nil
				case barCh <- bar:
				}
			case "error":
				log.Printf("[stream] server error %d: %s", m.Code, m.Msg)
			}
		}
	}
}

// handshake sends auth and subscribe, failing on an explicit server error.
func (c *Client) handshake(conn *websocket.Conn) error {
	auth := map[string]interface{}{
		"action": "auth",
		"key":    c.cfg.APIKey,
		"secret": c.cfg.APISecret,
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	if err := readAck(conn); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	sub := map[string]interface{}{
		"action": "subscribe",
		"bars":   c.cfg.Symbols,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	if err := readAck(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// readAck reads one server response and fails if it carries an error.
// Alpaca interleaves a "connected" greeting with the auth/subscribe acks,
// so any non-error response counts as progress.
func readAck(conn *websocket.Conn) error {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	for _, m := range parseMessages(raw) {
		if m.T == "error" {
			return fmt.Errorf("server rejected: %d %s", m.Code, m.Msg)
		}
	}
	return nil
}

// wsMessage is one element of an Alpaca stream payload.
type wsMessage struct {
	T    string  `json:"T"`
	Msg  string  `json:"msg,omitempty"`
	Code int     `json:"code,omitempty"`
	S    string  `json:"S,omitempty"`
	TS   string  `json:"t,omitempty"`
	O    float64 `json:"o,omitempty"`
	H    float64 `json:"h,omitempty"`
	L    float64 `json:"l,omitempty"`
	C    float64 `json:"c,omitempty"`
	V    int64   `json:"v,omitempty"`
	N    int     `json:"n,omitempty"`
}

// parseMessages tolerates both array and single-object payloads.
func parseMessages(raw []byte) []wsMessage {
	var msgs []wsMessage
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &msgs); err != nil {
			log.Printf("[stream] parse error: %v (raw: %s)", err, raw)
			return nil
		}
		return msgs
	}
	var one wsMessage
	if err := json.Unmarshal(raw, &one); err != nil {
		log.Printf("[stream] parse error: %v (raw: %s)", err, raw)
		return nil
	}
	return []wsMessage{one}
}

// bar converts a T=="b" message into a closed 1-minute candle.
func (m wsMessage) bar() (model.Candle, error) {
	if m.S == "" {
		return model.Candle{}, fmt.Errorf("bar without symbol")
	}
	ts, err := time.Parse(time.RFC3339, m.TS)
	if err != nil {
		return model.Candle{}, fmt.Errorf("bar timestamp %q: %w", m.TS, err)
	}
	count := m.N
	if count == 0 {
		count = 1
	}
	return model.Candle{
		Symbol:   m.S,
		TF:       60,
		OpenTime: ts.UTC(),
		Open:     m.O,
		High:     m.H,
		Low:      m.L,
		Close:    m.C,
		Volume:   m.V,
		Count:    count,
		Closed:   true,
	}, nil
}
