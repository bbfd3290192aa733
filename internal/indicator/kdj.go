package indicator

import "divergence-monitor/internal/model"

// KDJ calculates the stochastic KDJ oscillator. RSV is the raw stochastic
// over a rolling high/low window; %K and %D smooth it with primed SMMAs
// (initial value 50, the classic K = (2*prev + RSV)/3 recursion) and
// %J = 3K − 2D. High/low rings make Update O(window), constant for the
// fixed 9-candle window.
type KDJ struct {
	window int // RSV high/low lookback
	highs  []float64
	lows   []float64
	idx    int
	count  int

	k *SMMA
	d *SMMA
	j float64
}

// NewKDJ creates a KDJ indicator (typically window 9, smoothing 3, 3).
func NewKDJ(window, kPeriod, dPeriod int) *KDJ {
	return &KDJ{
		window: window,
		highs:  make([]float64, window),
		lows:   make([]float64, window),
		k:      NewPrimedSMMA(kPeriod, 50),
		d:      NewPrimedSMMA(dPeriod, 50),
	}
}

func (s *KDJ) Name() string { return "KDJ" }

func (s *KDJ) Update(candle model.Candle) {
	s.highs[s.idx] = candle.High
	s.lows[s.idx] = candle.Low
	s.idx = (s.idx + 1) % s.window
	s.count++

	if s.count < s.window {
		return
	}

	rsv := s.rsv(candle.Close)
	s.k.step(rsv)
	s.d.step(s.k.Value())
	s.j = 3*s.k.Value() - 2*s.d.Value()
}

// rsv computes the raw stochastic for a close over the full stored window.
func (s *KDJ) rsv(close float64) float64 {
	maxHigh, minLow := s.highs[0], s.lows[0]
	for i := 1; i < s.window; i++ {
		if s.highs[i] > maxHigh {
			maxHigh = s.highs[i]
		}
		if s.lows[i] < minLow {
			minLow = s.lows[i]
		}
	}
	if maxHigh == minLow {
		// Flat window — no range to normalise against
		return 50.0
	}
	return (close - minLow) / (maxHigh - minLow) * 100.0
}

// Value returns %K.
func (s *KDJ) Value() float64 { return s.k.Value() }

// Ready reports whether a full high/low window has been seen.
func (s *KDJ) Ready() bool { return s.count >= s.window }

// K returns the %K line.
func (s *KDJ) K() float64 { return s.k.Value() }

// D returns the %D line.
func (s *KDJ) D() float64 { return s.d.Value() }

// J returns the %J line (3K − 2D).
func (s *KDJ) J() float64 { return s.j }

// Peek computes what %K would be with an additional candle whose
// high=low=close, without mutating state.
func (s *KDJ) Peek(close float64) float64 {
	k, _, _ := s.PeekLines(close)
	return k
}

// PeekLines computes what K, D and J would be with an additional candle
// whose high=low=close, without mutating state.
func (s *KDJ) PeekLines(close float64) (k, d, j float64) {
	if s.count+1 < s.window {
		return s.k.Value(), s.d.Value(), s.j
	}

	maxHigh, minLow := close, close
	n := s.count
	if n > s.window {
		n = s.window
	}
	for i := 0; i < n; i++ {
		if s.count >= s.window && i == s.idx {
			continue // oldest slot, displaced by the phantom candle
		}
		if s.highs[i] > maxHigh {
			maxHigh = s.highs[i]
		}
		if s.lows[i] < minLow {
			minLow = s.lows[i]
		}
	}

	rsv := 50.0
	if maxHigh != minLow {
		rsv = (close - minLow) / (maxHigh - minLow) * 100.0
	}
	k = s.k.Peek(rsv)
	d = s.d.Peek(k)
	j = 3*k - 2*d
	return k, d, j
}

// Snapshot serializes the KDJ state for checkpoint persistence.
func (s *KDJ) Snapshot() IndicatorSnapshot {
	highs := make([]float64, len(s.highs))
	copy(highs, s.highs)
	lows := make([]float64, len(s.lows))
	copy(lows, s.lows)
	kSnap := s.k.Snapshot()
	dSnap := s.d.Snapshot()
	return IndicatorSnapshot{
		Type:   "KDJ",
		Period: s.window,
		Highs:  highs,
		Lows:   lows,
		Idx:    s.idx,
		Count:  s.count,
		J:      s.j,
		KSnap:  &kSnap,
		DSnap:  &dSnap,
	}
}

// RestoreFromSnapshot restores KDJ state from a checkpoint.
func (s *KDJ) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	s.window = snap.Period
	s.idx = snap.Idx
	s.count = snap.Count
	s.j = snap.J
	s.highs = make([]float64, snap.Period)
	copy(s.highs, snap.Highs)
	s.lows = make([]float64, snap.Period)
	copy(s.lows, snap.Lows)
	if snap.KSnap != nil {
		if err := s.k.RestoreFromSnapshot(*snap.KSnap); err != nil {
			return err
		}
	}
	if snap.DSnap != nil {
		if err := s.d.RestoreFromSnapshot(*snap.DSnap); err != nil {
			return err
		}
	}
	return nil
}
