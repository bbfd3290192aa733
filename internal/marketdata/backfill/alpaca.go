// Package backfill fetches historical bars from the Alpaca market data
// REST API and converts them to candles. It seeds the aggregator and
// warms indicator engines before live streaming starts, and fills gaps
// after a stream reconnect.
package backfill

import (
	"fmt"
	"sort"
	"time"

	"divergence-monitor/internal/model"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string // optional, defaults to the Alpaca data API
	Feed      string // optional: iex, sip
}

// Client wraps the Alpaca historical bars endpoint.
type Client struct {
	md   *marketdata.Client
	feed string
}

func New(cfg Config) *Client {
	return &Client{
		md: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		feed: cfg.Feed,
	}
}

// requestTimeFrame maps a timeframe in seconds onto an Alpaca bar
// resolution. Only whole-minute timeframes exist server-side; anything
// finer has to be aggregated locally from the trade stream.
func requestTimeFrame(tf int) (marketdata.TimeFrame, error) {
	if tf <= 0 || tf%60 != 0 {
		return marketdata.TimeFrame{}, fmt.Errorf("backfill: timeframe %ds is not a whole number of minutes", tf)
	}
	minutes := tf / 60
	switch {
	case minutes < 60:
		return marketdata.NewTimeFrame(minutes, marketdata.Min), nil
	case minutes%60 == 0 && minutes < 1440:
		return marketdata.NewTimeFrame(minutes/60, marketdata.Hour), nil
	case minutes%1440 == 0:
		return marketdata.NewTimeFrame(minutes/1440, marketdata.Day), nil
	default:
		return marketdata.NewTimeFrame(minutes, marketdata.Min), nil
	}
}

// Bars fetches closed bars for one symbol over [start, end), ordered by
// open time ascending.
func (c *Client) Bars(symbol string, tf int, start, end time.Time) ([]model.Candle, error) {
	frame, err := requestTimeFrame(tf)
	if err != nil {
		return nil, err
	}
	req := marketdata.GetBarsRequest{
		TimeFrame: frame,
		Start:     start,
		End:       end,
	}
	if c.feed != "" {
		req.Feed = marketdata.Feed(c.feed)
	}
	bars, err := c.md.GetBars(symbol, req)
	if err != nil {
		return nil, fmt.Errorf("backfill: get bars %s: %w", symbol, err)
	}
	out := make([]model.Candle, 0, len(bars))
	for _, b := range bars {
		out = append(out, barCandle(symbol, tf, b))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

// LastBars fetches the most recent n closed bars for a symbol. The
// request window is sized in calendar time, which has to overshoot the
// market-hours span of n bars: a regular session is 6.5 of 24 hours and
// weekends and holidays add more, so six-fold covers it comfortably.
func (c *Client) LastBars(symbol string, tf, n int) ([]model.Candle, error) {
	if n <= 0 {
		return nil, nil
	}
	end := time.Now().UTC()
	start := end.Add(-time.Duration(tf*n*6) * time.Second)
	if min := end.Add(-48 * time.Hour); start.After(min) {
		start = min
	}
	candles, err := c.Bars(symbol, tf, start, end)
	if err != nil {
		return nil, err
	}
	if len(candles) > n {
		candles = candles[len(candles)-n:]
	}
	return candles, nil
}

func barCandle(symbol string, tf int, b marketdata.Bar) model.Candle {
	count := int(b.TradeCount)
	if count <= 0 {
		count = 1
	}
	return model.Candle{
		Symbol:   symbol,
		TF:       tf,
		OpenTime: b.Timestamp.UTC(),
		Open:     b.Open,
		High:     b.High,
		Low:      b.Low,
		Close:    b.Close,
		Volume:   int64(b.Volume),
		Count:    count,
		Closed:   true,
	}
}
