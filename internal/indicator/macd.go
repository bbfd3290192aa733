package indicator

import "divergence-monitor/internal/model"

// MACD calculates Moving Average Convergence Divergence: the difference of
// a fast and a slow EMA of close, with a signal EMA over that difference
// and histogram = line − signal. All three EMAs use the SMA-seed policy,
// so the line is defined once the slow EMA is seeded and the histogram
// once the signal EMA has consumed `signalPeriod` line values.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA

	line float64
	sig  float64
	hist float64
}

// NewMACD creates a MACD indicator (typically 12, 26, 9).
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		fast:   NewEMA(fastPeriod),
		slow:   NewEMA(slowPeriod),
		signal: NewEMA(signalPeriod),
	}
}

func (m *MACD) Name() string { return "MACD" }

func (m *MACD) Update(candle model.Candle) {
	m.fast.step(candle.Close)
	m.slow.step(candle.Close)

	if !m.slow.Ready() {
		return
	}

	m.line = m.fast.Value() - m.slow.Value()
	m.signal.step(m.line)
	if m.signal.Ready() {
		m.sig = m.signal.Value()
		m.hist = m.line - m.sig
	}
}

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.line }

// Ready reports whether line, signal and histogram are all defined.
func (m *MACD) Ready() bool { return m.signal.Ready() }

// Line returns the MACD line (fast EMA − slow EMA).
func (m *MACD) Line() float64 { return m.line }

// Signal returns the signal line (EMA of the MACD line).
func (m *MACD) Signal() float64 { return m.sig }

// Hist returns the histogram (line − signal).
func (m *MACD) Hist() float64 { return m.hist }

// Peek computes what the MACD line would be with an additional close
// without mutating state.
func (m *MACD) Peek(close float64) float64 {
	line, _, _ := m.PeekLines(close)
	return line
}

// PeekLines computes what line, signal and histogram would be with an
// additional close, without mutating state. Zeroes until the slow EMA
// is seeded.
func (m *MACD) PeekLines(close float64) (line, signal, hist float64) {
	if !m.slow.Ready() {
		return 0, 0, 0
	}
	line = m.fast.Peek(close) - m.slow.Peek(close)
	signal = m.signal.Peek(line)
	hist = line - signal
	return line, signal, hist
}

// Snapshot serializes the MACD state for checkpoint persistence.
func (m *MACD) Snapshot() IndicatorSnapshot {
	fast := m.fast.Snapshot()
	slow := m.slow.Snapshot()
	sig := m.signal.Snapshot()
	return IndicatorSnapshot{
		Type:    "MACD",
		Period:  m.slow.period,
		Current: m.line,
		Signal:  m.sig,
		Hist:    m.hist,
		Fast:    &fast,
		Slow:    &slow,
		Sig:     &sig,
	}
}

// RestoreFromSnapshot restores MACD state from a checkpoint.
func (m *MACD) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Fast != nil {
		if err := m.fast.RestoreFromSnapshot(*snap.Fast); err != nil {
			return err
		}
	}
	if snap.Slow != nil {
		if err := m.slow.RestoreFromSnapshot(*snap.Slow); err != nil {
			return err
		}
	}
	if snap.Sig != nil {
		if err := m.signal.RestoreFromSnapshot(*snap.Sig); err != nil {
			return err
		}
	}
	m.line = snap.Current
	m.sig = snap.Signal
	m.hist = snap.Hist
	return nil
}
