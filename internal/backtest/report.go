package backtest

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"divergence-monitor/internal/model"
	"divergence-monitor/internal/monitor"
)

// HorizonStat summarizes forward returns measured a fixed number of
// candles after each signal's divergence candle.
type HorizonStat struct {
	Horizon      int     `json:"horizon"` // candles after the pivot
	Samples      int     `json:"samples"` // signals with enough forward data
	HitRate      float64 `json:"hit_rate"`
	MeanReturn   float64 `json:"mean_return"`
	MedianReturn float64 `json:"median_return"`
}

// BucketStat groups accuracy by which confirmations backed the signals.
type BucketStat struct {
	Bucket   string        `json:"bucket"` // e.g. "MACD+KDJ", "MACD", "KDJ"
	Signals  int           `json:"signals"`
	Horizons []HorizonStat `json:"horizons"`
}

// Accuracy is the forward-return report over one backtest result.
type Accuracy struct {
	Horizons []int        `json:"horizons"`
	Total    int          `json:"total_signals"`
	Buckets  []BucketStat `json:"buckets"`
}

// bucketKey names the confirmation combination of a signal. The scorer
// appends confirmations in a fixed order, so the key is stable.
func bucketKey(sig model.Signal) string {
	if len(sig.Confirmations) == 0 {
		return "unconfirmed"
	}
	parts := make([]string, len(sig.Confirmations))
	for i, c := range sig.Confirmations {
		parts[i] = string(c)
	}
	return strings.Join(parts, "+")
}

// signedReturn is the forward return oriented by signal direction, so a
// positive value always means the signal called the move correctly.
func signedReturn(sig model.Signal, entry, exit float64) float64 {
	r := (exit - entry) / entry
	if sig.Direction == model.Bearish {
		return -r
	}
	return r
}

// BuildAccuracy measures each emitted signal against the candles that
// followed it. Signals too close to the end of the series for a horizon
// are excluded from that horizon's sample.
func BuildAccuracy(res *monitor.Result, horizons []int) Accuracy {
	index := make(map[string]map[int64]int, len(res.Candles))
	for sym, candles := range res.Candles {
		byTime := make(map[int64]int, len(candles))
		for i, c := range candles {
			byTime[c.OpenTime.Unix()] = i
		}
		index[sym] = byTime
	}

	type sample struct{ returns map[int][]float64 }
	buckets := make(map[string]*sample)
	counts := make(map[string]int)

	for _, sig := range res.Signals {
		key := bucketKey(sig)
		counts[key]++
		s, ok := buckets[key]
		if !ok {
			s = &sample{returns: make(map[int][]float64)}
			buckets[key] = s
		}

		candles := res.Candles[sig.Symbol]
		i, ok := index[sig.Symbol][sig.OpenTime.Unix()]
		if !ok {
			continue
		}
		for _, h := range horizons {
			if i+h >= len(candles) {
				continue
			}
			s.returns[h] = append(s.returns[h], signedReturn(sig, candles[i].Close, candles[i+h].Close))
		}
	}

	acc := Accuracy{Horizons: horizons, Total: len(res.Signals)}
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		bs := BucketStat{Bucket: key, Signals: counts[key]}
		for _, h := range horizons {
			rs := buckets[key].returns[h]
			hs := HorizonStat{Horizon: h, Samples: len(rs)}
			if len(rs) > 0 {
				hits := 0
				for _, r := range rs {
					if r > 0 {
						hits++
					}
				}
				hs.HitRate = float64(hits) / float64(len(rs))
				hs.MeanReturn = stat.Mean(rs, nil)

				sorted := make([]float64, len(rs))
				copy(sorted, rs)
				sort.Float64s(sorted)
				hs.MedianReturn = stat.Quantile(0.5, stat.Empirical, sorted, nil)
			}
			bs.Horizons = append(bs.Horizons, hs)
		}
		acc.Buckets = append(acc.Buckets, bs)
	}
	return acc
}
