package band

import "testing"

func sampleBands() []Band {
	// widths of 42, matching the scenario-1 layout from tickmath.
	lowers := []int{-147, -105, -63, -21, 21, 63, 105}
	bands := make([]Band, len(lowers))
	for i, lower := range lowers {
		bands[i] = Band{TokenID: fmtID(i + 1), TickLower: lower, TickUpper: lower + 42}
	}
	return bands
}

func fmtID(n int) string {
	digits := "0123456789"
	if n < 10 {
		return string(digits[n])
	}
	return string(digits[n/10]) + string(digits[n%10])
}

func TestSetBandsSortsAndValidates(t *testing.T) {
	l := New()
	bands := sampleBands()
	// shuffle input order
	shuffled := []Band{bands[3], bands[0], bands[6], bands[1], bands[5], bands[2], bands[4]}
	if err := l.SetBands(shuffled, 42); err != nil {
		t.Fatalf("SetBands error: %v", err)
	}
	got := l.Bands()
	for i, b := range got {
		if b.Index != i {
			t.Fatalf("band %d has index %d", i, b.Index)
		}
		if b.TickLower != bands[i].TickLower {
			t.Fatalf("band %d tickLower = %d, want %d", i, b.TickLower, bands[i].TickLower)
		}
	}
}

func TestSetBandsRejectsWrongCount(t *testing.T) {
	l := New()
	if err := l.SetBands(sampleBands()[:6], 42); err == nil {
		t.Fatalf("expected error for wrong band count")
	}
}

func TestSetBandsRejectsDuplicateTokenID(t *testing.T) {
	l := New()
	bands := sampleBands()
	bands[1].TokenID = bands[0].TokenID
	if err := l.SetBands(bands, 42); err == nil {
		t.Fatalf("expected error for duplicate token id")
	}
}

func TestSetBandsRejectsNonContiguous(t *testing.T) {
	l := New()
	bands := sampleBands()
	bands[3].TickLower = -20 // introduces a gap
	if err := l.SetBands(bands, 42); err == nil {
		t.Fatalf("expected error for non-contiguous bands")
	}
}

func TestBandIndexForTick(t *testing.T) {
	l := New()
	if err := l.SetBands(sampleBands(), 42); err != nil {
		t.Fatalf("SetBands error: %v", err)
	}

	cases := []struct {
		tick int
		want int
	}{
		{-147, 0},
		{-106, 0},
		{-105, 1},
		{0, 3},
		{20, 3},
		{21, 4},
		{146, 6},
		{147, -1},
		{-200, -1},
	}
	for _, c := range cases {
		if got := l.BandIndexForTick(c.tick); got != c.want {
			t.Fatalf("BandIndexForTick(%d) = %d, want %d", c.tick, got, c.want)
		}
	}
}

func TestClassify(t *testing.T) {
	l := New()
	if err := l.SetBands(sampleBands(), 42); err != nil {
		t.Fatalf("SetBands error: %v", err)
	}

	cases := []struct {
		tick int
		want Classification
	}{
		{0, Safe},
		{-63, Safe},
		{20, Safe},
		{-105, LowerTrigger},
		{-147, LowerTrigger},
		{-200, LowerTrigger},
		{63, UpperTrigger},
		{105, UpperTrigger},
		{200, UpperTrigger},
	}
	for _, c := range cases {
		if got := l.Classify(c.tick); got != c.want {
			t.Fatalf("Classify(%d) = %v, want %v", c.tick, got, c.want)
		}
	}
}

func TestBandToDissolveAndNewBandTicks(t *testing.T) {
	l := New()
	if err := l.SetBands(sampleBands(), 42); err != nil {
		t.Fatalf("SetBands error: %v", err)
	}

	dissolveLower, err := l.BandToDissolve(Lower)
	if err != nil {
		t.Fatalf("BandToDissolve(Lower) error: %v", err)
	}
	if dissolveLower.TickLower != 105 {
		t.Fatalf("BandToDissolve(Lower) picked band with lower=%d, want 105 (highest)", dissolveLower.TickLower)
	}

	newTicksLower, err := l.NewBandTicks(Lower)
	if err != nil {
		t.Fatalf("NewBandTicks(Lower) error: %v", err)
	}
	if newTicksLower.TickUpper != -147 {
		t.Fatalf("NewBandTicks(Lower).TickUpper = %d, want -147 (== old lowest lower)", newTicksLower.TickUpper)
	}
	if newTicksLower.TickLower != -147-42 {
		t.Fatalf("NewBandTicks(Lower).TickLower = %d, want %d", newTicksLower.TickLower, -147-42)
	}

	dissolveUpper, err := l.BandToDissolve(Upper)
	if err != nil {
		t.Fatalf("BandToDissolve(Upper) error: %v", err)
	}
	if dissolveUpper.TickLower != -147 {
		t.Fatalf("BandToDissolve(Upper) picked band with lower=%d, want -147 (lowest)", dissolveUpper.TickLower)
	}

	newTicksUpper, err := l.NewBandTicks(Upper)
	if err != nil {
		t.Fatalf("NewBandTicks(Upper) error: %v", err)
	}
	if newTicksUpper.TickLower != 147 {
		t.Fatalf("NewBandTicks(Upper).TickLower = %d, want 147 (== old highest upper)", newTicksUpper.TickLower)
	}
}

func TestRemoveAndAddReindexes(t *testing.T) {
	l := New()
	bands := sampleBands()
	if err := l.SetBands(bands, 42); err != nil {
		t.Fatalf("SetBands error: %v", err)
	}

	removed, err := l.Remove(bands[6].TokenID)
	if err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if removed.TokenID != bands[6].TokenID {
		t.Fatalf("Remove returned wrong band")
	}
	if l.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", l.Len())
	}

	newBand := Band{TokenID: "999", TickLower: -189, TickUpper: -147}
	if err := l.Add(newBand, Start); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if l.Len() != 7 {
		t.Fatalf("Len() = %d, want 7", l.Len())
	}
	got := l.Bands()
	if got[0].TokenID != "999" || got[0].Index != 0 {
		t.Fatalf("new band not inserted at start with index 0: %+v", got[0])
	}
	for i, b := range got {
		if b.Index != i {
			t.Fatalf("band %d has stale index %d after Add", i, b.Index)
		}
	}
}

func TestAddRejectsDuplicateTokenID(t *testing.T) {
	l := New()
	bands := sampleBands()
	if err := l.SetBands(bands, 42); err != nil {
		t.Fatalf("SetBands error: %v", err)
	}
	if err := l.Add(Band{TokenID: bands[0].TokenID, TickLower: 200, TickUpper: 242}, End); err == nil {
		t.Fatalf("expected error for duplicate token id on Add")
	}
}
