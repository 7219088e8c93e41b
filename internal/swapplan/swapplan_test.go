package swapplan

import (
	"testing"

	"github.com/rangekeeper/rangekeeper/internal/band"
)

func TestPlanRejectsBadBounds(t *testing.T) {
	if _, err := Plan(0, 10, 10, 1, 1); err == nil {
		t.Fatalf("expected error for non-increasing bounds")
	}
}

func TestPlanBandEntirelyAboveSwapsAllToken0(t *testing.T) {
	plan, err := Plan(0, 10, 20, 5, 3)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if plan == nil {
		t.Fatalf("expected a plan")
	}
	if plan.TokenIn != Token0 || plan.TokenOut != Token1 {
		t.Fatalf("expected token0->token1, got %v->%v", plan.TokenIn, plan.TokenOut)
	}
	if plan.AmountIn != 5 {
		t.Fatalf("AmountIn = %v, want 5", plan.AmountIn)
	}
}

func TestPlanBandEntirelyAboveNoToken0Balance(t *testing.T) {
	plan, err := Plan(0, 10, 20, 0, 3)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if plan != nil {
		t.Fatalf("expected no plan when token0 balance is zero, got %+v", plan)
	}
}

func TestPlanBandEntirelyBelowSwapsAllToken1(t *testing.T) {
	plan, err := Plan(30, 10, 20, 5, 3)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if plan == nil {
		t.Fatalf("expected a plan")
	}
	if plan.TokenIn != Token1 || plan.TokenOut != Token0 {
		t.Fatalf("expected token1->token0, got %v->%v", plan.TokenIn, plan.TokenOut)
	}
	if plan.AmountIn != 3 {
		t.Fatalf("AmountIn = %v, want 3", plan.AmountIn)
	}
}

func TestPlanStraddleNoSwapWhenBalanced(t *testing.T) {
	// A band centered exactly on tick 0 with equal-value balances at
	// price 1 needs no rebalancing.
	plan, err := Plan(0, -60, 60, 10, 10)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if plan != nil {
		t.Fatalf("expected no swap for an already-balanced straddling position, got %+v", plan)
	}
}

func TestPlanStraddleSwapsExcessSide(t *testing.T) {
	plan, err := Plan(0, -60, 60, 100, 1)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if plan == nil {
		t.Fatalf("expected a swap plan for an unbalanced straddling position")
	}
	if plan.TokenIn != Token0 {
		t.Fatalf("expected excess token0 to be sold, got tokenIn=%v", plan.TokenIn)
	}
	if plan.AmountIn <= 0 || plan.AmountIn > 100 {
		t.Fatalf("AmountIn = %v out of bounds (0,100]", plan.AmountIn)
	}
}

func TestForBandRebalance(t *testing.T) {
	lower := ForBandRebalance(band.Lower, 5, 3)
	if lower == nil || lower.TokenIn != Token0 || lower.TokenOut != Token1 || lower.AmountIn != 5 {
		t.Fatalf("ForBandRebalance(Lower) = %+v, want swap all of token0", lower)
	}

	upper := ForBandRebalance(band.Upper, 5, 3)
	if upper == nil || upper.TokenIn != Token1 || upper.TokenOut != Token0 || upper.AmountIn != 3 {
		t.Fatalf("ForBandRebalance(Upper) = %+v, want swap all of token1", upper)
	}

	if ForBandRebalance(band.Lower, 0, 3) != nil {
		t.Fatalf("ForBandRebalance(Lower) with zero token0 balance should skip")
	}
	if ForBandRebalance(band.Upper, 5, 0) != nil {
		t.Fatalf("ForBandRebalance(Upper) with zero token1 balance should skip")
	}
}
