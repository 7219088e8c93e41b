package tickmath

import "testing"

func TestComputeLayoutScenario1(t *testing.T) {
	layout, err := ComputeLayout(0, 3.0, 100)
	if err != nil {
		t.Fatalf("ComputeLayout error: %v", err)
	}

	if layout.BandTickWidth != 42 {
		t.Fatalf("BandTickWidth = %d, want 42", layout.BandTickWidth)
	}

	wantLowers := []int{-147, -105, -63, -21, 21, 63, 105}
	for i, want := range wantLowers {
		if layout.Bands[i].TickLower != want {
			t.Fatalf("band[%d].TickLower = %d, want %d", i, layout.Bands[i].TickLower, want)
		}
	}

	for i := 0; i < NumBands-1; i++ {
		if layout.Bands[i].TickUpper != layout.Bands[i+1].TickLower {
			t.Fatalf("bands not contiguous at %d: upper=%d lower=%d", i, layout.Bands[i].TickUpper, layout.Bands[i+1].TickLower)
		}
	}
}

func TestComputeLayoutTotalRangeIsSevenBandWidths(t *testing.T) {
	layout, err := ComputeLayout(1000, 5.0, 500)
	if err != nil {
		t.Fatalf("ComputeLayout error: %v", err)
	}
	total := layout.Bands[NumBands-1].TickUpper - layout.Bands[0].TickLower
	if total != NumBands*layout.BandTickWidth {
		t.Fatalf("total range %d != %d*%d", total, NumBands, layout.BandTickWidth)
	}
}

func TestComputeLayoutRejectsUnsupportedFee(t *testing.T) {
	if _, err := ComputeLayout(0, 3.0, 42); err == nil {
		t.Fatalf("expected error for unsupported fee tier")
	}
}

func TestComputeLayoutRejectsCollapse(t *testing.T) {
	// A center pinned at the tick ceiling with an extreme width pushes
	// every outer band past MaxUsableTick, collapsing the outermost band
	// once it is clamped back into range.
	if _, err := ComputeLayout(MaxTick, 1000.0, 10000); err == nil {
		t.Fatalf("expected layout collapse error near max tick")
	}
}
