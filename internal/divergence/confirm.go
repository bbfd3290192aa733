package divergence

import (
	"divergence-monitor/internal/model"
)

// ConfirmPolicy controls which secondary indicators are consulted and
// whether an unconfirmed divergence survives at all.
type ConfirmPolicy struct {
	UseMACD             bool
	UseKDJ              bool
	RequireConfirmation bool    // discard candidates with zero confirmations
	KDJOversold         float64 // bullish confirmation zone for %K/%D
	KDJOverbought       float64 // bearish confirmation zone for %K/%D
}

// DefaultConfirmPolicy consults both indicators and requires at least one.
func DefaultConfirmPolicy() ConfirmPolicy {
	return ConfirmPolicy{
		UseMACD:             true,
		UseKDJ:              true,
		RequireConfirmation: true,
		KDJOversold:         30,
		KDJOverbought:       70,
	}
}

// Scorer classifies candidate strength from MACD and KDJ state.
type Scorer struct {
	policy ConfirmPolicy
}

// NewScorer returns a Scorer for the given policy.
func NewScorer(policy ConfirmPolicy) *Scorer {
	return &Scorer{policy: policy}
}

// Score evaluates confirmations on the newest frame. A pivot only becomes
// scannable PivotRight bars after it forms, and momentum indicators sit at
// their extreme on the pivot bar itself, so the evidence of a turn lives in
// the frames between the pivot and the present: the histogram slope is
// taken over the latest frames and the line cross is searched from one bar
// before the anchor forward. Both confirming yields STRONG, exactly one
// yields NORMAL. With zero confirmations the candidate is discarded under
// the default policy; otherwise it passes through as NORMAL.
func (s *Scorer) Score(cand Candidate, frames []model.IndicatorFrame) (model.Strength, []model.Confirmation, bool) {
	if cand.Pivot2 < 0 || cand.Pivot2 >= len(frames) {
		return "", nil, false
	}
	end := len(frames) - 1

	var confs []model.Confirmation
	if s.policy.UseMACD && macdConfirms(frames, cand.Pivot2, end, cand.Direction) {
		confs = append(confs, model.ConfirmMACD)
	}
	if s.policy.UseKDJ && s.kdjConfirms(frames, end, cand.Direction) {
		confs = append(confs, model.ConfirmKDJ)
	}

	switch {
	case len(confs) >= 2:
		return model.StrengthStrong, confs, true
	case len(confs) == 1:
		return model.StrengthNormal, confs, true
	case s.policy.RequireConfirmation:
		return "", nil, false
	default:
		return model.StrengthNormal, nil, true
	}
}

// macdConfirms checks momentum agreement: histogram sloping the signal's
// way over the last three frames (two when only two are warm), or the macd
// line crossing the signal line anywhere from one bar before the anchoring
// pivot through the newest frame.
func macdConfirms(frames []model.IndicatorFrame, pivot, end int, dir model.Direction) bool {
	if end < 1 || !frames[end].MACDReady || !frames[end-1].MACDReady {
		return false
	}
	cur, prev := frames[end], frames[end-1]
	bullish := dir == model.Bullish

	var slopeOK bool
	if end >= 2 && frames[end-2].MACDReady {
		older := frames[end-2]
		if bullish {
			slopeOK = older.MACDHist < prev.MACDHist && prev.MACDHist < cur.MACDHist
		} else {
			slopeOK = older.MACDHist > prev.MACDHist && prev.MACDHist > cur.MACDHist
		}
	} else {
		if bullish {
			slopeOK = prev.MACDHist < cur.MACDHist
		} else {
			slopeOK = prev.MACDHist > cur.MACDHist
		}
	}
	if slopeOK {
		return true
	}

	crossAt := func(j int) bool {
		if j < 1 || !frames[j].MACDReady || !frames[j-1].MACDReady {
			return false
		}
		if bullish {
			return frames[j].MACD > frames[j].MACDSignal && frames[j-1].MACD <= frames[j-1].MACDSignal
		}
		return frames[j].MACD < frames[j].MACDSignal && frames[j-1].MACD >= frames[j-1].MACDSignal
	}
	for j := pivot - 1; j <= end; j++ {
		if crossAt(j) {
			return true
		}
	}
	return false
}

// kdjConfirms checks stochastic agreement on the newest frame: %K crossing
// %D inside the oversold/overbought zone, or both lines in the zone on the
// prior bar with %K turning the signal's way.
func (s *Scorer) kdjConfirms(frames []model.IndicatorFrame, end int, dir model.Direction) bool {
	if end < 1 || !frames[end].KDJReady || !frames[end-1].KDJReady {
		return false
	}
	cur, prev := frames[end], frames[end-1]

	if dir == model.Bullish {
		crossUp := cur.K > cur.D && prev.K <= prev.D
		if crossUp && cur.K < s.policy.KDJOversold && cur.D < s.policy.KDJOversold {
			return true
		}
		return prev.K < s.policy.KDJOversold && prev.D < s.policy.KDJOversold && cur.K > prev.K
	}

	crossDown := cur.K < cur.D && prev.K >= prev.D
	if crossDown && cur.K > s.policy.KDJOverbought && cur.D > s.policy.KDJOverbought {
		return true
	}
	return prev.K > s.policy.KDJOverbought && prev.D > s.policy.KDJOverbought && cur.K < prev.K
}
