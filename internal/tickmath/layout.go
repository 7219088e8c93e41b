package tickmath

import (
	"fmt"
	"math"
)

// NumBands is the fixed number of contiguous bands a ledger holds at rest.
const NumBands = 7

// centerBandIndex is the band that straddles the aligned center tick.
const centerBandIndex = 3

// BandTicks is one band's tick bounds, prior to any tokenId assignment.
type BandTicks struct {
	TickLower int
	TickUpper int
}

// Layout is the result of computing the seven-band geometry around a
// center tick.
type Layout struct {
	Bands         [NumBands]BandTicks
	BandTickWidth int
}

// MinUsableTick and MaxUsableTick are the AMM's tick bounds rounded
// inward to the nearest multiple of spacing.
func MinUsableTick(spacing int) int {
	return int(math.Ceil(float64(MinTick)/float64(spacing))) * spacing
}

func MaxUsableTick(spacing int) int {
	return int(math.Floor(float64(MaxTick)/float64(spacing))) * spacing
}

// ComputeLayout computes the seven-band geometry for a center tick c,
// a total range width percent w, and a fee tier, per spec §4.1.
func ComputeLayout(centerTick int, widthPercent float64, feeTier uint32) (Layout, error) {
	spacing, err := FeeToTickSpacing(feeTier)
	if err != nil {
		return Layout{}, err
	}
	if widthPercent <= 0 {
		return Layout{}, fmt.Errorf("tickmath: width percent must be positive, got %v", widthPercent)
	}

	tickOffset := int(math.Floor(math.Log(1+widthPercent/200) / math.Log(tickBase)))
	if tickOffset <= 0 {
		return Layout{}, fmt.Errorf("tickmath: width percent %v too small to produce a tick offset", widthPercent)
	}

	rawBandWidth := int(math.Floor(float64(2*tickOffset) / float64(NumBands)))
	bandTickWidth := (rawBandWidth / spacing) * spacing
	if bandTickWidth < spacing {
		bandTickWidth = spacing
	}

	centerAligned := AlignTick(centerTick, spacing)
	half := bandTickWidth / 2
	band3Lower := AlignTick(centerAligned-half, spacing)
	band3Upper := band3Lower + bandTickWidth

	var bands [NumBands]BandTicks
	bands[centerBandIndex] = BandTicks{TickLower: band3Lower, TickUpper: band3Upper}

	lower := band3Lower
	for i := centerBandIndex - 1; i >= 0; i-- {
		upper := lower
		lower = upper - bandTickWidth
		bands[i] = BandTicks{TickLower: lower, TickUpper: upper}
	}

	upper := band3Upper
	for i := centerBandIndex + 1; i < NumBands; i++ {
		lower := upper
		upper = lower + bandTickWidth
		bands[i] = BandTicks{TickLower: lower, TickUpper: upper}
	}

	minUsable := MinUsableTick(spacing)
	maxUsable := MaxUsableTick(spacing)

	if bands[0].TickLower < minUsable {
		bands[0].TickLower = minUsable
	}
	if bands[NumBands-1].TickUpper > maxUsable {
		bands[NumBands-1].TickUpper = maxUsable
	}

	for i, b := range bands {
		if b.TickLower >= b.TickUpper {
			return Layout{}, fmt.Errorf("tickmath: layout collapsed band %d (lower=%d upper=%d) after clamping to [%d,%d]",
				i, b.TickLower, b.TickUpper, minUsable, maxUsable)
		}
	}

	return Layout{Bands: bands, BandTickWidth: bandTickWidth}, nil
}
