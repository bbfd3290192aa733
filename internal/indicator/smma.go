package indicator

import "divergence-monitor/internal/model"

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// Two seeding modes:
//   - NewSMMA: first value is SMA(period), then
//     SMMA = (prev*(period-1) + price) / period.
//   - NewPrimedSMMA: starts from a fixed initial value and smooths from the
//     very first input. With period=3 and initial=50 this is the classic
//     KDJ recursion K = (2*prev + x) / 3.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
	primed  bool
}

// NewSMMA creates a new SMMA indicator with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: period}
}

// NewPrimedSMMA creates an SMMA pre-seeded with an initial value; every
// input from the first onward is smoothed against it.
func NewPrimedSMMA(period int, initial float64) *SMMA {
	return &SMMA{period: period, current: initial, primed: true}
}

func (s *SMMA) Name() string { return "SMMA" }

func (s *SMMA) Update(candle model.Candle) {
	s.step(candle.Close)
}

// step advances the SMMA by one raw value. KDJ feeds %K and %D through
// this, bypassing the candle wrapper.
func (s *SMMA) step(price float64) {
	s.count++

	if !s.primed && s.count <= s.period {
		// Accumulate for initial SMA seed
		s.sum += price
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}

	// Wilder-style smoothing
	s.current = (s.current*float64(s.period-1) + price) / float64(s.period)
}

func (s *SMMA) Value() float64 { return s.current }

func (s *SMMA) Ready() bool {
	if s.primed {
		return s.count > 0
	}
	return s.count >= s.period
}

// Peek computes what Value() would be with an additional value without mutating state.
func (s *SMMA) Peek(close float64) float64 {
	if !s.primed && s.count < s.period {
		return (s.sum + close) / float64(s.count+1)
	}
	return (s.current*float64(s.period-1) + close) / float64(s.period)
}

// Reset clears the SMMA state for reuse. Primed instances reset to zero,
// not to their original initial value.
func (s *SMMA) Reset() {
	s.count = 0
	s.sum = 0
	s.current = 0
}

// Snapshot serializes the SMMA state for checkpoint persistence.
func (s *SMMA) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    "SMMA",
		Period:  s.period,
		Count:   s.count,
		Sum:     s.sum,
		Current: s.current,
		Primed:  s.primed,
	}
}

// RestoreFromSnapshot restores SMMA state from a checkpoint.
func (s *SMMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	s.period = snap.Period
	s.count = snap.Count
	s.sum = snap.Sum
	s.current = snap.Current
	s.primed = snap.Primed
	return nil
}
