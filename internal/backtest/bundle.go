package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"divergence-monitor/internal/model"
	"divergence-monitor/internal/monitor"
)

// Bundle is the self-contained JSON document a charting frontend consumes:
// candles, indicator frames, and signals for one run, plus the reports.
type Bundle struct {
	GeneratedAt time.Time                          `json:"generated_at"`
	TF          int                                `json:"tf"`
	Symbols     []string                           `json:"symbols"`
	Candles     map[string][]model.Candle          `json:"candles"`
	Frames      map[string][]model.IndicatorFrame  `json:"frames"`
	Signals     []model.Signal                     `json:"signals"`
	Accuracy    *Accuracy                          `json:"accuracy,omitempty"`
	Sims        map[string]SimResult               `json:"sims,omitempty"`
}

// BuildBundle assembles the chart bundle from a backtest run.
func BuildBundle(res *monitor.Result, acc *Accuracy, sims map[string]SimResult) *Bundle {
	b := &Bundle{
		GeneratedAt: time.Now().UTC(),
		TF:          res.TF,
		Candles:     res.Candles,
		Frames:      res.Frames,
		Signals:     res.Signals,
		Accuracy:    acc,
		Sims:        sims,
	}
	for sym := range res.Candles {
		b.Symbols = append(b.Symbols, sym)
	}
	return b
}

// WriteFile writes the bundle as indented JSON.
func (b *Bundle) WriteFile(path string) error {
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("backtest: encode bundle: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("backtest: write bundle: %w", err)
	}
	return nil
}
