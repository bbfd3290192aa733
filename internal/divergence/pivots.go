package divergence

// PivotLows returns the indices of swing lows: values strictly below every
// neighbor within `left` bars before and `right` bars after. Ties disqualify,
// so a flat bottom produces no pivot.
func PivotLows(values []float64, left, right int) []int {
	var pivots []int
	for i := left; i+right < len(values); i++ {
		low := values[i]
		ok := true
		for j := i - left; j <= i+right; j++ {
			if j == i {
				continue
			}
			if values[j] <= low {
				ok = false
				break
			}
		}
		if ok {
			pivots = append(pivots, i)
		}
	}
	return pivots
}

// PivotHighs returns the indices of swing highs, mirroring PivotLows.
func PivotHighs(values []float64, left, right int) []int {
	var pivots []int
	for i := left; i+right < len(values); i++ {
		high := values[i]
		ok := true
		for j := i - left; j <= i+right; j++ {
			if j == i {
				continue
			}
			if values[j] >= high {
				ok = false
				break
			}
		}
		if ok {
			pivots = append(pivots, i)
		}
	}
	return pivots
}

// selectLastTwo picks the most recent pivot that has an earlier partner
// within [minSep, maxSep] bars, preferring the nearest such partner.
// Returns (pivot1, pivot2, true) with pivot1 < pivot2.
func selectLastTwo(pivots []int, minSep, maxSep int) (int, int, bool) {
	for i := len(pivots) - 1; i > 0; i-- {
		p2 := pivots[i]
		for j := i - 1; j >= 0; j-- {
			sep := p2 - pivots[j]
			if sep > maxSep {
				break
			}
			if sep >= minSep {
				return pivots[j], p2, true
			}
		}
	}
	return 0, 0, false
}
