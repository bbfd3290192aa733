package indicator

import (
	"math"
	"testing"

	"divergence-monitor/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func candle(close float64) model.Candle {
	return model.Candle{
		Symbol: "TEST", TF: 600,
		Open: close, High: close + 0.5, Low: close - 0.5, Close: close,
		Closed: true,
	}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// walk generates a deterministic pseudo-random price series for
// equivalence tests. Plain LCG so the series is stable across runs.
func walk(n int, start float64) []float64 {
	out := make([]float64, n)
	price := start
	seed := uint64(42)
	for i := 0; i < n; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		step := float64(int64(seed>>33)%200-100) / 100.0
		price += step
		if price < 1 {
			price = 1
		}
		out[i] = price
	}
	return out
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Hand-calculated SMA(3) for a known price series:
	// Prices: 100, 102, 104, 103, 105
	// SMA after candle 3: (100+102+104)/3 = 102.0000
	// SMA after candle 4: (102+104+103)/3 = 103.0000
	// SMA after candle 5: (104+103+105)/3 = 104.0000

	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(candle(p))
		if sma.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 0.0001)
		}
	}
}

func TestSMA_Peek_DoesNotMutate(t *testing.T) {
	sma := NewSMA(3)
	for _, p := range []float64{100, 102, 104} {
		sma.Update(candle(p))
	}
	valueBefore := sma.Value()

	sma.Peek(200)

	assertClose(t, "SMA after Peek", sma.Value(), valueBefore, 0.0001)
}

func TestSMA_Peek_CorrectValue(t *testing.T) {
	sma := NewSMA(3)
	// Feed: 100, 102, 104 → SMA = 102
	for _, p := range []float64{100, 102, 104} {
		sma.Update(candle(p))
	}
	// Peek with 106 → expected: (102+104+106)/3 = 104
	assertClose(t, "SMA Peek", sma.Peek(106), 104.0, 0.0001)
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 2/(3+1) = 0.5
	// Prices: 100, 102, 104, 103, 105
	//
	// Candle 1: sum=100
	// Candle 2: sum=202
	// Candle 3: sum=306 → initial EMA = 306/3 = 102.0 (SMA seed)
	// Candle 4: EMA = 103*0.5 + 102.0*0.5 = 102.5
	// Candle 5: EMA = 105*0.5 + 102.5*0.5 = 103.75

	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		ema.Update(candle(p))
		if ema.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, ema.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 0.0001)
		}
	}
}

func TestEMA_Correctness_Period5(t *testing.T) {
	// EMA(5): multiplier = 2/(5+1) = 1/3
	// Prices: 44, 44.25, 44.50, 43.75, 44.50 → SMA seed = 44.20
	// Candle 6 (44.25): EMA = 44.25*(1/3) + 44.20*(2/3) = 44.2167
	// Candle 7 (44.00): EMA = 44.00*(1/3) + 44.2167*(2/3) = 44.1444

	mult := 2.0 / 6.0
	prices := []float64{44.00, 44.25, 44.50, 43.75, 44.50, 44.25, 44.00}
	seedExpected := (44.00 + 44.25 + 44.50 + 43.75 + 44.50) / 5.0

	ema := NewEMA(5)
	for _, p := range prices[:5] {
		ema.Update(candle(p))
	}
	assertClose(t, "EMA(5) seed", ema.Value(), seedExpected, 0.0001)

	ema.Update(candle(prices[5]))
	expected6 := 44.25*mult + seedExpected*(1-mult)
	assertClose(t, "EMA(5) candle 6", ema.Value(), expected6, 0.0001)

	ema.Update(candle(prices[6]))
	expected7 := 44.00*mult + expected6*(1-mult)
	assertClose(t, "EMA(5) candle 7", ema.Value(), expected7, 0.0001)
}

func TestEMA_Peek_DoesNotMutate(t *testing.T) {
	ema := NewEMA(3)
	for _, p := range []float64{100, 102, 104} {
		ema.Update(candle(p))
	}
	valueBefore := ema.Value()

	ema.Peek(200)

	assertClose(t, "EMA after Peek", ema.Value(), valueBefore, 0.0001)
}

// ────────────────────────────────────────────────────────────
// SMMA Correctness (Wilder's Smoothing)
// ────────────────────────────────────────────────────────────

func TestSMMA_Correctness_Period3(t *testing.T) {
	// SMMA(3): first value = SMA(3) seed, then Wilder smoothing
	// Prices: 100, 102, 104, 103, 105
	//
	// Candle 1-3: seed = (100+102+104)/3 = 102.0
	// Candle 4: SMMA = (102.0 * 2 + 103) / 3 = 102.3333
	// Candle 5: SMMA = (102.3333 * 2 + 105) / 3 = 103.2222

	smma := NewSMMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.3333, 103.2222}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		smma.Update(candle(p))
		if smma.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, smma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMMA(3)", smma.Value(), expected[i], 0.001)
		}
	}
}

func TestSMMA_Primed_KDJRecursion(t *testing.T) {
	// Primed SMMA(3) at 50 smooths from the very first value:
	// K1 = (2*50 + 80)/3 = 60.0
	// K2 = (2*60 + 80)/3 = 66.6667
	// K3 = (2*66.6667 + 20)/3 = 51.1111

	s := NewPrimedSMMA(3, 50)
	if s.Ready() {
		t.Error("primed SMMA should not be ready before any input")
	}

	s.step(80)
	if !s.Ready() {
		t.Error("primed SMMA should be ready after first input")
	}
	assertClose(t, "primed step 1", s.Value(), 60.0, 0.0001)

	s.step(80)
	assertClose(t, "primed step 2", s.Value(), 66.6667, 0.001)

	s.step(20)
	assertClose(t, "primed step 3", s.Value(), 51.1111, 0.001)
}

func TestSMMA_Peek_DoesNotMutate(t *testing.T) {
	smma := NewSMMA(3)
	for _, p := range []float64{100, 102, 104} {
		smma.Update(candle(p))
	}
	valueBefore := smma.Value()

	smma.Peek(200)

	assertClose(t, "SMMA after Peek", smma.Value(), valueBefore, 0.0001)
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Using a small period (5) for manual calculation.
	// Prices: 44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84
	//
	// Deltas (from price 2 onward):
	//   +0.34, -0.25, -0.48, +0.72, +0.50
	//
	// First RSI (after 6 candles, period=5):
	//   avgGain = (0.34+0.72+0.50)/5 = 0.312
	//   avgLoss = (0.25+0.48)/5      = 0.146
	//   RS = 2.13699 → RSI = 68.112
	//
	// Candle 7 (45.10): delta=+0.27
	//   avgGain = (0.312*4+0.27)/5 = 0.3036, avgLoss = 0.1168
	//   RS = 2.5993 → RSI = 72.219
	//
	// Candle 8 (45.42): delta=+0.32 → RSI = 76.658
	// Candle 9 (45.84): delta=+0.42 → RSI = 81.509

	prices := []float64{44.00, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}

	rsi := NewRSI(5)
	for i := 0; i <= 5; i++ {
		rsi.Update(candle(prices[i]))
	}
	assertClose(t, "RSI(5) candle 6", rsi.Value(), 68.112, 0.1)

	rsi.Update(candle(prices[6]))
	assertClose(t, "RSI(5) candle 7", rsi.Value(), 72.219, 0.1)

	rsi.Update(candle(prices[7]))
	assertClose(t, "RSI(5) candle 8", rsi.Value(), 76.658, 0.1)

	rsi.Update(candle(prices[8]))
	assertClose(t, "RSI(5) candle 9", rsi.Value(), 81.509, 0.2)
}

func TestRSI_AllUp_Is100(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(100 + float64(i)))
	}
	assertClose(t, "RSI all up", rsi.Value(), 100.0, 0.001)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(200 - float64(i)))
	}
	assertClose(t, "RSI all down", rsi.Value(), 0.0, 0.001)
}

func TestRSI_Flat_Is100(t *testing.T) {
	// Flat prices: all deltas are 0, so avgLoss==0 → 100 by convention.
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(100))
	}
	assertClose(t, "RSI flat", rsi.Value(), 100.0, 0.001)
}

func TestRSI_Peek_DoesNotMutate(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(100 + float64(i)))
	}
	valueBefore := rsi.Value()

	rsi.Peek(50)

	assertClose(t, "RSI after Peek", rsi.Value(), valueBefore, 0.0001)
}

// ────────────────────────────────────────────────────────────
// MACD Correctness
// ────────────────────────────────────────────────────────────

func TestMACD_Correctness_Small(t *testing.T) {
	// MACD(3,5,3) over prices: 10, 11, 12, 13, 14, 15, 13, 12
	//
	// fast EMA(3), mult=0.5:  seed (10+11+12)/3=11 at c3, then
	//   c4=12.0, c5=13.0, c6=14.0, c7=13.5, c8=12.75
	// slow EMA(5), mult=1/3:  seed (10+..+14)/5=12 at c5, then
	//   c6=13.0, c7=13.0, c8=12.6667
	// line (from c5): 1.0, 1.0, 0.5, 0.0833
	// signal EMA(3) over line: seed (1+1+0.5)/3=0.8333 at c7, then
	//   c8 = 0.0833*0.5 + 0.8333*0.5 = 0.4583
	// hist: c7 = 0.5-0.8333 = -0.3333, c8 = 0.0833-0.4583 = -0.375

	macd := NewMACD(3, 5, 3)
	prices := []float64{10, 11, 12, 13, 14, 15, 13, 12}

	for i, p := range prices {
		macd.Update(candle(p))
		if i < 6 && macd.Ready() {
			t.Errorf("candle %d: MACD should not be ready before signal seed", i+1)
		}
	}

	if !macd.Ready() {
		t.Fatal("MACD should be ready after 8 candles")
	}
	assertClose(t, "MACD line c8", macd.Line(), 0.083333, 0.001)
	assertClose(t, "MACD signal c8", macd.Signal(), 0.458333, 0.001)
	assertClose(t, "MACD hist c8", macd.Hist(), -0.375, 0.001)
}

func TestMACD_ReadyAtSignalSeed(t *testing.T) {
	// With MACD(3,5,3), the line is defined at c5 and the signal seeds
	// after 3 line values → ready exactly at c7.
	macd := NewMACD(3, 5, 3)
	for i := 1; i <= 10; i++ {
		macd.Update(candle(float64(10 + i)))
		wantReady := i >= 7
		if macd.Ready() != wantReady {
			t.Errorf("candle %d: Ready()=%v, want %v", i, macd.Ready(), wantReady)
		}
	}
}

func TestMACD_LinearRamp_ConstantLine(t *testing.T) {
	// On a perfectly linear ramp both EMAs converge to a constant offset,
	// so the line settles and the histogram tends to zero.
	macd := NewMACD(3, 5, 3)
	for i := 0; i < 60; i++ {
		macd.Update(candle(10 + float64(i)))
	}
	assertClose(t, "MACD ramp hist", macd.Hist(), 0.0, 0.01)
	if macd.Line() <= 0 {
		t.Errorf("MACD line should be positive in an uptrend, got %.4f", macd.Line())
	}
}

func TestMACD_PeekLines_DoesNotMutate(t *testing.T) {
	macd := NewMACD(3, 5, 3)
	for i := 0; i < 10; i++ {
		macd.Update(candle(10 + float64(i)))
	}
	line, sig, hist := macd.Line(), macd.Signal(), macd.Hist()

	macd.PeekLines(500)

	assertClose(t, "MACD line after Peek", macd.Line(), line, 0.0001)
	assertClose(t, "MACD signal after Peek", macd.Signal(), sig, 0.0001)
	assertClose(t, "MACD hist after Peek", macd.Hist(), hist, 0.0001)
}

// ────────────────────────────────────────────────────────────
// KDJ Correctness
// ────────────────────────────────────────────────────────────

func TestKDJ_Correctness_Window3(t *testing.T) {
	// KDJ(3,3,3) with candles high=close+0.5, low=close-0.5.
	// Closes: 10, 11, 12, 13, 12
	//
	// c3: window highs {10.5,11.5,12.5}, lows {9.5,10.5,11.5}
	//   RSV = (12-9.5)/(12.5-9.5)*100 = 83.3333
	//   K = (2*50 + 83.3333)/3 = 61.1111
	//   D = (2*50 + 61.1111)/3 = 53.7037
	//   J = 3K - 2D = 75.9259
	// c4: RSV = (13-10.5)/(13.5-10.5)*100 = 83.3333
	//   K = (2*61.1111 + 83.3333)/3 = 68.5185
	//   D = (2*53.7037 + 68.5185)/3 = 58.6420
	//   J = 88.2716
	// c5: RSV = (12-11.5)/(13.5-11.5)*100 = 25.0
	//   K = (2*68.5185 + 25)/3 = 54.0123
	//   D = (2*58.6420 + 54.0123)/3 = 57.0988
	//   J = 47.8395

	kdj := NewKDJ(3, 3, 3)
	closes := []float64{10, 11, 12, 13, 12}

	kdj.Update(candle(closes[0]))
	kdj.Update(candle(closes[1]))
	if kdj.Ready() {
		t.Error("KDJ should not be ready before a full window")
	}

	kdj.Update(candle(closes[2]))
	if !kdj.Ready() {
		t.Fatal("KDJ should be ready at candle 3")
	}
	assertClose(t, "K c3", kdj.K(), 61.1111, 0.001)
	assertClose(t, "D c3", kdj.D(), 53.7037, 0.001)
	assertClose(t, "J c3", kdj.J(), 75.9259, 0.001)

	kdj.Update(candle(closes[3]))
	assertClose(t, "K c4", kdj.K(), 68.5185, 0.001)
	assertClose(t, "D c4", kdj.D(), 58.6420, 0.001)
	assertClose(t, "J c4", kdj.J(), 88.2716, 0.001)

	kdj.Update(candle(closes[4]))
	assertClose(t, "K c5", kdj.K(), 54.0123, 0.001)
	assertClose(t, "D c5", kdj.D(), 57.0988, 0.001)
	assertClose(t, "J c5", kdj.J(), 47.8395, 0.001)
}

func TestKDJ_FlatWindow_RSV50(t *testing.T) {
	// A flat window has no high/low range; RSV defaults to 50 and the
	// smoothed lines hold at their 50 prime.
	kdj := NewKDJ(3, 3, 3)
	flat := model.Candle{Symbol: "TEST", TF: 600, Open: 100, High: 100, Low: 100, Close: 100, Closed: true}
	for i := 0; i < 6; i++ {
		kdj.Update(flat)
	}
	assertClose(t, "K flat", kdj.K(), 50.0, 0.0001)
	assertClose(t, "D flat", kdj.D(), 50.0, 0.0001)
	assertClose(t, "J flat", kdj.J(), 50.0, 0.0001)
}

func TestKDJ_Oversold_LowK(t *testing.T) {
	// Steady decline closes near the bottom of every window → K well below 30.
	kdj := NewKDJ(9, 3, 3)
	for i := 0; i < 30; i++ {
		kdj.Update(candle(200 - float64(i)*2))
	}
	if kdj.K() >= 30 {
		t.Errorf("K should be oversold (<30) after a steady decline, got %.2f", kdj.K())
	}
}

func TestKDJ_PeekLines_DoesNotMutate(t *testing.T) {
	kdj := NewKDJ(3, 3, 3)
	for _, p := range []float64{10, 11, 12, 13} {
		kdj.Update(candle(p))
	}
	k, d, j := kdj.K(), kdj.D(), kdj.J()

	kdj.PeekLines(100)

	assertClose(t, "K after Peek", kdj.K(), k, 0.0001)
	assertClose(t, "D after Peek", kdj.D(), d, 0.0001)
	assertClose(t, "J after Peek", kdj.J(), j, 0.0001)
}

// ────────────────────────────────────────────────────────────
// Incremental vs batch equivalence
// ────────────────────────────────────────────────────────────

// batchRSI recomputes Wilder RSI from scratch over the full series.
func batchRSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	var avgGain, avgLoss float64
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		if i <= period {
			avgGain += gain
			avgLoss += loss
			if i == period {
				avgGain /= float64(period)
				avgLoss /= float64(period)
				out[i] = rsiFrom(avgGain, avgLoss)
			}
			continue
		}
		p := float64(period)
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiFrom(avgGain, avgLoss)
	}
	return out
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// batchEMA recomputes an SMA-seeded EMA from scratch.
func batchEMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	mult := 2.0 / float64(period+1)
	sum := 0.0
	for i, v := range values {
		if i < period {
			sum += v
			if i == period-1 {
				out[i] = sum / float64(period)
			}
			continue
		}
		out[i] = v*mult + out[i-1]*(1-mult)
	}
	return out
}

func TestRSI_IncrementalMatchesBatch(t *testing.T) {
	closes := walk(120, 100)
	want := batchRSI(closes, 14)

	rsi := NewRSI(14)
	for i, c := range closes {
		rsi.Update(candle(c))
		if !rsi.Ready() {
			continue
		}
		assertClose(t, "RSI batch equivalence", rsi.Value(), want[i], 1e-9)
	}
}

func TestMACD_IncrementalMatchesBatch(t *testing.T) {
	closes := walk(150, 100)
	fast := batchEMA(closes, 12)
	slow := batchEMA(closes, 26)

	// Batch line/signal/hist with the same seed policy.
	line := make([]float64, len(closes))
	var sigIn []float64
	for i := range closes {
		if i >= 25 {
			line[i] = fast[i] - slow[i]
			sigIn = append(sigIn, line[i])
		}
	}
	sig := batchEMA(sigIn, 9)

	macd := NewMACD(12, 26, 9)
	for i, c := range closes {
		macd.Update(candle(c))
		if !macd.Ready() {
			continue
		}
		j := i - 25 // index into the signal series
		assertClose(t, "MACD line batch equivalence", macd.Line(), line[i], 1e-9)
		assertClose(t, "MACD signal batch equivalence", macd.Signal(), sig[j], 1e-9)
		assertClose(t, "MACD hist batch equivalence", macd.Hist(), line[i]-sig[j], 1e-9)
	}
}

func TestKDJ_IncrementalMatchesBatch(t *testing.T) {
	closes := walk(100, 100)
	window := 9

	// Batch KDJ from scratch: rolling window min/max, primed 50 recursions.
	kPrev, dPrev := 50.0, 50.0
	kdj := NewKDJ(window, 3, 3)
	for i, c := range closes {
		kdj.Update(candle(c))
		if i < window-1 {
			continue
		}
		maxHigh, minLow := closes[i-window+1]+0.5, closes[i-window+1]-0.5
		for j := i - window + 2; j <= i; j++ {
			if closes[j]+0.5 > maxHigh {
				maxHigh = closes[j] + 0.5
			}
			if closes[j]-0.5 < minLow {
				minLow = closes[j] - 0.5
			}
		}
		rsv := 50.0
		if maxHigh != minLow {
			rsv = (c - minLow) / (maxHigh - minLow) * 100.0
		}
		kPrev = (2*kPrev + rsv) / 3
		dPrev = (2*dPrev + kPrev) / 3

		assertClose(t, "KDJ K batch equivalence", kdj.K(), kPrev, 1e-9)
		assertClose(t, "KDJ D batch equivalence", kdj.D(), dPrev, 1e-9)
		assertClose(t, "KDJ J batch equivalence", kdj.J(), 3*kPrev-2*dPrev, 1e-9)
	}
}
