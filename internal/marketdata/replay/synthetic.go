package replay

import (
	"time"

	"divergence-monitor/internal/model"
)

// alignStart truncates start down to a TF bucket boundary.
func alignStart(start time.Time, tf int) time.Time {
	return time.Unix((start.Unix()/int64(tf))*int64(tf), 0).UTC()
}

// BullishDivergenceSeries returns a deterministic 77-candle series for
// symbol: a slow warm-up rally, a steep decline into a first low, a
// partial bounce, then a shallower decline to a lower low where RSI
// bottoms higher. The second low confirms on the final candles; nothing
// else in the series forms a qualifying pivot pair.
//
// With the default detection settings the lows sit at indices 57
// (close 94.45) and 72 (close 92.95), 15 bars apart.
func BullishDivergenceSeries(symbol string, tf int, start time.Time) []model.Candle {
	phases := []struct {
		n    int
		step float64
	}{
		{49, 0.05},  // warm-up drift
		{8, -1.00},  // steep decline into the first low
		{5, 0.60},   // partial bounce
		{10, -0.45}, // shallow decline to the lower low
		{4, 0.50},   // upturn that confirms the second pivot
	}

	start = alignStart(start, tf)
	price := 100.0
	candles := []model.Candle{synthCandle(symbol, tf, start, 0, price, price)}

	i := 1
	for _, ph := range phases {
		for k := 0; k < ph.n; k++ {
			open := price
			price += ph.step
			candles = append(candles, synthCandle(symbol, tf, start, i, open, price))
			i++
		}
	}
	return candles
}

// WalkSeries returns n closed candles following a clamped deterministic
// random walk seeded from the symbol name, for sim feeds and fixtures.
func WalkSeries(symbol string, tf int, start time.Time, n int, startPrice float64) []model.Candle {
	seed := int64(42)
	for _, b := range []byte(symbol) {
		seed = seed*31 + int64(b)
	}

	start = alignStart(start, tf)
	price := startPrice
	candles := make([]model.Candle, 0, n)
	for i := 0; i < n; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		step := float64((seed>>33)%200-100) / 100
		open := price
		price += step
		if price < 1 {
			price = 1
		}
		candles = append(candles, synthCandle(symbol, tf, start, i, open, price))
	}
	return candles
}

func synthCandle(symbol string, tf int, start time.Time, i int, open, close float64) model.Candle {
	high, low := open, open
	if close > high {
		high = close
	}
	if close < low {
		low = close
	}
	return model.Candle{
		Symbol:   symbol,
		TF:       tf,
		OpenTime: start.Add(time.Duration(i*tf) * time.Second),
		Open:     open,
		High:     high + 0.4,
		Low:      low - 0.4,
		Close:    close,
		Volume:   1000,
		Count:    10,
		Closed:   true,
	}
}
