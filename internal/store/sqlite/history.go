package sqlite

import (
	"fmt"
	"time"

	"divergence-monitor/internal/model"
)

// History adapts a Reader to the model.HistorySource port, so backtests
// and sim-mode seeding can run entirely off the local candle archive.
type History struct {
	r *Reader
}

// NewHistory wraps an open Reader.
func NewHistory(r *Reader) *History {
	return &History{r: r}
}

// Bars returns stored candles in [start, end), oldest first.
func (h *History) Bars(symbol string, tf int, start, end time.Time) ([]model.Candle, error) {
	candles, err := h.r.ReadCandles(symbol, tf, start.Unix()-1)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: %w", err)
	}
	var out []model.Candle
	for _, c := range candles {
		if !c.OpenTime.Before(end) {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

// LastBars returns the most recent n stored candles, oldest first.
func (h *History) LastBars(symbol string, tf, n int) ([]model.Candle, error) {
	return h.r.ReadLastCandles(symbol, tf, n)
}
