package divergence

import (
	"testing"

	"divergence-monitor/internal/model"
)

func readyFrame(line, sig, hist, k, d float64) model.IndicatorFrame {
	return model.IndicatorFrame{
		RSIReady: true,
		MACD:     line, MACDSignal: sig, MACDHist: hist, MACDReady: true,
		K: k, D: d, J: 3*k - 2*d, KDJReady: true,
	}
}

func TestScorer_Strong_BothConfirm(t *testing.T) {
	// Histogram rising over three frames and %K turning up from the
	// oversold zone.
	frames := []model.IndicatorFrame{
		readyFrame(-1, 0, -3, 20, 25),
		readyFrame(-0.8, 0, -2, 18, 24),
		readyFrame(-0.5, 0, -1, 22, 23),
	}
	cand := Candidate{Direction: model.Bullish, Pivot2: 2}

	s := NewScorer(DefaultConfirmPolicy())
	strength, confs, ok := s.Score(cand, frames)
	if !ok {
		t.Fatal("expected the candidate to survive")
	}
	if strength != model.StrengthStrong {
		t.Errorf("strength: got %s, want STRONG", strength)
	}
	if len(confs) != 2 || confs[0] != model.ConfirmMACD || confs[1] != model.ConfirmKDJ {
		t.Errorf("confirmations: got %v", confs)
	}
}

func TestScorer_Normal_MACDOnly(t *testing.T) {
	// Histogram rising but the stochastic sits mid-range, far from the
	// oversold zone.
	frames := []model.IndicatorFrame{
		readyFrame(-1, 0, -3, 55, 53),
		readyFrame(-0.8, 0, -2, 54, 55),
		readyFrame(-0.5, 0, -1, 56, 54),
	}
	cand := Candidate{Direction: model.Bullish, Pivot2: 2}

	strength, confs, ok := NewScorer(DefaultConfirmPolicy()).Score(cand, frames)
	if !ok {
		t.Fatal("expected the candidate to survive")
	}
	if strength != model.StrengthNormal {
		t.Errorf("strength: got %s, want NORMAL", strength)
	}
	if len(confs) != 1 || confs[0] != model.ConfirmMACD {
		t.Errorf("confirmations: got %v", confs)
	}
}

func TestScorer_Normal_KDJOnly(t *testing.T) {
	// Histogram falling (wrong way for bullish), no line cross, but %K/%D
	// oversold with %K turning up.
	frames := []model.IndicatorFrame{
		readyFrame(-1, 0, -1, 20, 25),
		readyFrame(-1, 0, -2, 18, 24),
		readyFrame(-1, 0, -3, 22, 23),
	}
	cand := Candidate{Direction: model.Bullish, Pivot2: 2}

	strength, confs, ok := NewScorer(DefaultConfirmPolicy()).Score(cand, frames)
	if !ok {
		t.Fatal("expected the candidate to survive")
	}
	if strength != model.StrengthNormal {
		t.Errorf("strength: got %s, want NORMAL", strength)
	}
	if len(confs) != 1 || confs[0] != model.ConfirmKDJ {
		t.Errorf("confirmations: got %v", confs)
	}
}

func TestScorer_Discarded_WithoutConfirmation(t *testing.T) {
	// Neither indicator agrees: the default policy discards the candidate.
	frames := []model.IndicatorFrame{
		readyFrame(-1, 0, -1, 55, 53),
		readyFrame(-1, 0, -2, 54, 55),
		readyFrame(-1, 0, -3, 52, 54),
	}
	cand := Candidate{Direction: model.Bullish, Pivot2: 2}

	if _, _, ok := NewScorer(DefaultConfirmPolicy()).Score(cand, frames); ok {
		t.Error("unconfirmed candidate must be discarded under the default policy")
	}
}

func TestScorer_PassThrough_WhenNotRequired(t *testing.T) {
	frames := []model.IndicatorFrame{
		readyFrame(-1, 0, -1, 55, 53),
		readyFrame(-1, 0, -2, 54, 55),
		readyFrame(-1, 0, -3, 52, 54),
	}
	cand := Candidate{Direction: model.Bullish, Pivot2: 2}

	policy := DefaultConfirmPolicy()
	policy.RequireConfirmation = false
	strength, confs, ok := NewScorer(policy).Score(cand, frames)
	if !ok {
		t.Fatal("candidate must pass through when confirmation is optional")
	}
	if strength != model.StrengthNormal || len(confs) != 0 {
		t.Errorf("got strength=%s confs=%v, want NORMAL with none", strength, confs)
	}
}

func TestScorer_MACD_TwoFrameSlope(t *testing.T) {
	// Only two warm frames exist: the slope check falls back to a
	// two-frame comparison.
	frames := []model.IndicatorFrame{
		readyFrame(-1, 0, -2, 55, 53),
		readyFrame(-0.5, 0, -1, 54, 55),
	}
	cand := Candidate{Direction: model.Bullish, Pivot2: 1}

	strength, confs, ok := NewScorer(DefaultConfirmPolicy()).Score(cand, frames)
	if !ok || strength != model.StrengthNormal || len(confs) != 1 || confs[0] != model.ConfirmMACD {
		t.Errorf("got (%s,%v,%v), want NORMAL MACD-only", strength, confs, ok)
	}
}

func TestScorer_MACD_LineCross(t *testing.T) {
	// Histogram is not monotonic, but the macd line crosses above the
	// signal line on the anchoring bar.
	frames := []model.IndicatorFrame{
		readyFrame(-1, 0, -1, 55, 53),
		readyFrame(-0.5, 0, -2, 54, 55),
		readyFrame(0.2, 0, -1.5, 52, 54),
	}
	cand := Candidate{Direction: model.Bullish, Pivot2: 2}

	_, confs, ok := NewScorer(DefaultConfirmPolicy()).Score(cand, frames)
	if !ok || len(confs) != 1 || confs[0] != model.ConfirmMACD {
		t.Errorf("cross at anchor: got (%v,%v), want MACD-only", confs, ok)
	}

	// Cross one bar before the anchor also counts.
	frames = []model.IndicatorFrame{
		readyFrame(-0.5, 0, -1, 55, 53),
		readyFrame(0.2, 0, -2, 54, 55),
		readyFrame(0.3, 0, -1.5, 52, 54),
	}
	_, confs, ok = NewScorer(DefaultConfirmPolicy()).Score(cand, frames)
	if !ok || len(confs) != 1 || confs[0] != model.ConfirmMACD {
		t.Errorf("cross one bar early: got (%v,%v), want MACD-only", confs, ok)
	}
}

func TestScorer_KDJ_CrossInOversoldZone(t *testing.T) {
	// %K crosses above %D with both lines below 30.
	frames := []model.IndicatorFrame{
		readyFrame(-1, 0, -1, 25, 27),
		readyFrame(-1, 0, -2, 22, 24),
		readyFrame(-1, 0, -3, 26, 25),
	}
	cand := Candidate{Direction: model.Bullish, Pivot2: 2}

	_, confs, ok := NewScorer(DefaultConfirmPolicy()).Score(cand, frames)
	if !ok || len(confs) != 1 || confs[0] != model.ConfirmKDJ {
		t.Errorf("got (%v,%v), want KDJ-only", confs, ok)
	}
}

func TestScorer_Bearish_Mirror(t *testing.T) {
	// Falling histogram and %K crossing below %D in the overbought zone.
	frames := []model.IndicatorFrame{
		readyFrame(1, 0, 3, 80, 75),
		readyFrame(0.8, 0, 2, 82, 76),
		readyFrame(0.5, 0, 1, 76, 77),
	}
	cand := Candidate{Direction: model.Bearish, Pivot2: 2}

	strength, confs, ok := NewScorer(DefaultConfirmPolicy()).Score(cand, frames)
	if !ok {
		t.Fatal("expected the candidate to survive")
	}
	if strength != model.StrengthStrong {
		t.Errorf("strength: got %s, want STRONG", strength)
	}
	if len(confs) != 2 {
		t.Errorf("confirmations: got %v", confs)
	}
}

func TestScorer_Bearish_DownturnFromOverbought(t *testing.T) {
	// No cross, but both lines overbought on the prior bar and %K turning
	// down.
	frames := []model.IndicatorFrame{
		readyFrame(1, 0, 1, 80, 75),
		readyFrame(1, 0, 2, 82, 76),
		readyFrame(1, 0, 3, 79, 77),
	}
	cand := Candidate{Direction: model.Bearish, Pivot2: 2}

	_, confs, ok := NewScorer(DefaultConfirmPolicy()).Score(cand, frames)
	if !ok || len(confs) != 1 || confs[0] != model.ConfirmKDJ {
		t.Errorf("got (%v,%v), want KDJ-only", confs, ok)
	}
}

func TestScorer_LaggedPivot_UsesLatestFrames(t *testing.T) {
	// The pivot becomes scannable three bars after it forms. On the pivot
	// bar the histogram is still falling; by the newest frame it has
	// turned. Confirmation must read the newest frames, not the pivot bar.
	frames := []model.IndicatorFrame{
		readyFrame(-1, 0, -1, 55, 53),
		readyFrame(-1.2, 0, -2, 54, 55),
		readyFrame(-1.5, 0, -3, 52, 54), // pivot: histogram at its low
		readyFrame(-1.4, 0, -2.5, 53, 53),
		readyFrame(-1.2, 0, -1.5, 55, 54),
		readyFrame(-0.9, 0, -0.5, 56, 55),
	}
	cand := Candidate{Direction: model.Bullish, Pivot2: 2}

	strength, confs, ok := NewScorer(DefaultConfirmPolicy()).Score(cand, frames)
	if !ok || strength != model.StrengthNormal || len(confs) != 1 || confs[0] != model.ConfirmMACD {
		t.Errorf("got (%s,%v,%v), want NORMAL MACD-only", strength, confs, ok)
	}
}

func TestScorer_CrossBetweenPivotAndPresent(t *testing.T) {
	// No histogram slope on the newest frames, but the macd line crossed
	// above the signal line one bar after the pivot.
	frames := []model.IndicatorFrame{
		readyFrame(-0.5, 0, -1, 55, 53),
		readyFrame(-0.2, 0, -1.2, 54, 55), // pivot
		readyFrame(0.1, 0, -1, 52, 54),    // cross completes here
		readyFrame(0.2, 0.05, -0.8, 53, 52),
		readyFrame(0.15, 0.1, -0.9, 54, 53),
	}
	cand := Candidate{Direction: model.Bullish, Pivot2: 1}

	_, confs, ok := NewScorer(DefaultConfirmPolicy()).Score(cand, frames)
	if !ok || len(confs) != 1 || confs[0] != model.ConfirmMACD {
		t.Errorf("got (%v,%v), want MACD-only", confs, ok)
	}
}

func TestScorer_NotReady_NeverConfirms(t *testing.T) {
	// Warm-up incomplete on the newest frame: neither indicator may confirm.
	frames := []model.IndicatorFrame{
		readyFrame(-1, 0, -3, 20, 25),
		readyFrame(-0.8, 0, -2, 18, 24),
		readyFrame(-0.5, 0, -1, 22, 23),
	}
	frames[2].MACDReady = false
	frames[2].KDJReady = false
	cand := Candidate{Direction: model.Bullish, Pivot2: 2}

	if _, _, ok := NewScorer(DefaultConfirmPolicy()).Score(cand, frames); ok {
		t.Error("unready indicators must not confirm")
	}
}

func TestScorer_PivotOutOfRange(t *testing.T) {
	frames := []model.IndicatorFrame{readyFrame(0, 0, 0, 50, 50)}
	cand := Candidate{Direction: model.Bullish, Pivot2: 5}

	if _, _, ok := NewScorer(DefaultConfirmPolicy()).Score(cand, frames); ok {
		t.Error("out-of-range pivot must not score")
	}
}

func TestScorer_DisabledIndicators(t *testing.T) {
	// MACD disabled: a rising histogram alone cannot confirm, so only the
	// KDJ path remains and the best possible outcome is NORMAL.
	frames := []model.IndicatorFrame{
		readyFrame(-1, 0, -3, 20, 25),
		readyFrame(-0.8, 0, -2, 18, 24),
		readyFrame(-0.5, 0, -1, 22, 23),
	}
	cand := Candidate{Direction: model.Bullish, Pivot2: 2}

	policy := DefaultConfirmPolicy()
	policy.UseMACD = false
	strength, confs, ok := NewScorer(policy).Score(cand, frames)
	if !ok || strength != model.StrengthNormal || len(confs) != 1 || confs[0] != model.ConfirmKDJ {
		t.Errorf("got (%s,%v,%v), want NORMAL KDJ-only", strength, confs, ok)
	}
}
