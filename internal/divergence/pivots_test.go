package divergence

import (
	"reflect"
	"testing"
)

func TestPivotLows_WindowMethod(t *testing.T) {
	values := []float64{5, 4, 3, 4, 5, 2, 3, 4}
	got := PivotLows(values, 1, 1)
	want := []int{2, 5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PivotLows: got %v, want %v", got, want)
	}
}

func TestPivotHighs_WindowMethod(t *testing.T) {
	values := []float64{1, 3, 2, 4, 1, 5, 3}
	got := PivotHighs(values, 1, 1)
	want := []int{1, 3, 5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PivotHighs: got %v, want %v", got, want)
	}
}

func TestPivots_TiesDisqualify(t *testing.T) {
	// A flat bottom is not a swing low: neighbors equal to the center
	// disqualify it on both sides.
	flat := []float64{5, 4, 4, 4, 5}
	if got := PivotLows(flat, 1, 1); len(got) != 0 {
		t.Errorf("flat bottom must yield no pivots, got %v", got)
	}

	peak := []float64{1, 3, 3, 3, 1}
	if got := PivotHighs(peak, 1, 1); len(got) != 0 {
		t.Errorf("flat top must yield no pivots, got %v", got)
	}
}

func TestPivots_WiderWindow(t *testing.T) {
	values := []float64{9, 8, 7, 6, 7, 8, 9}
	got := PivotLows(values, 2, 2)
	want := []int{3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PivotLows window 2/2: got %v, want %v", got, want)
	}
}

func TestPivots_EdgesNeverQualify(t *testing.T) {
	// The first and last bars have no confirming neighbors on one side.
	values := []float64{1, 5, 5, 5, 0}
	if got := PivotLows(values, 1, 1); len(got) != 0 {
		t.Errorf("edge bars must never be pivots, got %v", got)
	}
}

func TestSelectLastTwo(t *testing.T) {
	// Latest anchor wins; the nearest earlier partner inside the
	// separation band is paired with it.
	if p1, p2, ok := selectLastTwo([]int{2, 10, 13}, 6, 60); !ok || p1 != 2 || p2 != 13 {
		t.Errorf("got (%d,%d,%v), want (2,13,true)", p1, p2, ok)
	}

	// Too close on every combination.
	if _, _, ok := selectLastTwo([]int{2, 5}, 6, 60); ok {
		t.Error("pivots 3 bars apart must not pair with min separation 6")
	}

	// Too far apart.
	if _, _, ok := selectLastTwo([]int{0, 70}, 6, 60); ok {
		t.Error("pivots 70 bars apart must not pair with max separation 60")
	}

	// When the latest pivot has no partner in band, fall back to an
	// older anchor that does.
	if p1, p2, ok := selectLastTwo([]int{0, 8, 100}, 6, 60); !ok || p1 != 0 || p2 != 8 {
		t.Errorf("got (%d,%d,%v), want (0,8,true)", p1, p2, ok)
	}

	if _, _, ok := selectLastTwo([]int{4}, 6, 60); ok {
		t.Error("a single pivot can never pair")
	}
}
