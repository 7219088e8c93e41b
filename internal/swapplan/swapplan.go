// Package swapplan decides which token to sell, and how much, to move
// current balances toward the ratio a target band needs.
package swapplan

import (
	"fmt"
	"math"

	"github.com/rangekeeper/rangekeeper/internal/band"
	"github.com/rangekeeper/rangekeeper/internal/tickmath"
)

// TokenSide identifies one leg of a pool's pair.
type TokenSide int

const (
	Token0 TokenSide = iota
	Token1
)

func (s TokenSide) String() string {
	if s == Token0 {
		return "token0"
	}
	return "token1"
}

// SwapPlan is a proposed swap moving balances toward a target band's
// ratio. A nil *SwapPlan with a nil error means no swap is needed.
type SwapPlan struct {
	TokenIn  TokenSide
	TokenOut TokenSide
	AmountIn float64
}

// minSwapAmount rejects plans too small to be worth a swap
// transaction's gas cost.
const minSwapAmount = 1e-12

// Plan computes the swap needed to move (bal0, bal1) toward the ratio
// a position in [tickLower, tickUpper] would hold at the current tick.
func Plan(tick, tickLower, tickUpper int, bal0, bal1 float64) (*SwapPlan, error) {
	if tickLower >= tickUpper {
		return nil, fmt.Errorf("swapplan: non-increasing band bounds [%d,%d)", tickLower, tickUpper)
	}

	switch {
	case tickLower > tick:
		// Band lies entirely above the current price: it will only ever
		// need token1 to fill, so any token0 on hand is excess.
		if bal0 <= minSwapAmount {
			return nil, nil
		}
		return &SwapPlan{TokenIn: Token0, TokenOut: Token1, AmountIn: bal0}, nil

	case tickUpper <= tick:
		// Band lies entirely below the current price: it will only ever
		// need token0.
		if bal1 <= minSwapAmount {
			return nil, nil
		}
		return &SwapPlan{TokenIn: Token1, TokenOut: Token0, AmountIn: bal1}, nil

	default:
		return planStraddle(tick, tickLower, tickUpper, bal0, bal1)
	}
}

// shareBalanceThreshold is the minimum share deviation that justifies
// a swap; below it the position is considered close enough.
const shareBalanceThreshold = 0.01

// planStraddle handles a band that contains the current tick. It
// computes the target token0 share the band would hold at unit
// liquidity and compares it against the current balances' share,
// swapping the excess side when they diverge by more than
// shareBalanceThreshold.
func planStraddle(tick, tickLower, tickUpper int, bal0, bal1 float64) (*SwapPlan, error) {
	amount0, amount1 := unitLiquidityDeltas(tick, tickLower, tickUpper)
	price := tickmath.TickToPrice(tick)

	idealDenom := amount0 + amount1*price
	if idealDenom <= 0 {
		return nil, fmt.Errorf("swapplan: degenerate target ratio for band [%d,%d) at tick %d", tickLower, tickUpper, tick)
	}
	idealShare0 := amount0 / idealDenom

	currentDenom := bal0 + bal1*price
	if currentDenom <= 0 {
		return nil, nil
	}
	currentShare0 := bal0 / currentDenom

	if math.Abs(idealShare0-currentShare0) < shareBalanceThreshold {
		return nil, nil
	}

	targetBal0 := idealShare0 * currentDenom
	excess0 := bal0 - targetBal0

	if excess0 > 0 {
		amountIn := excess0
		if amountIn > bal0 {
			amountIn = bal0
		}
		if amountIn <= minSwapAmount {
			return nil, nil
		}
		return &SwapPlan{TokenIn: Token0, TokenOut: Token1, AmountIn: amountIn}, nil
	}

	deficit0 := -excess0
	amountIn := deficit0 / price
	if amountIn > bal1 {
		amountIn = bal1
	}
	if amountIn <= minSwapAmount {
		return nil, nil
	}
	return &SwapPlan{TokenIn: Token1, TokenOut: Token0, AmountIn: amountIn}, nil
}

// unitLiquidityDeltas returns the token0/token1 amounts a position of
// unit liquidity in [tickLower, tickUpper] would hold at tick, per the
// standard concentrated-liquidity amount formulas.
func unitLiquidityDeltas(tick, tickLower, tickUpper int) (amount0, amount1 float64) {
	sqrtP := math.Sqrt(tickmath.TickToPrice(tick))
	sqrtLower := math.Sqrt(tickmath.TickToPrice(tickLower))
	sqrtUpper := math.Sqrt(tickmath.TickToPrice(tickUpper))

	switch {
	case sqrtP <= sqrtLower:
		return 1/sqrtLower - 1/sqrtUpper, 0
	case sqrtP >= sqrtUpper:
		return 0, sqrtUpper - sqrtLower
	default:
		return 1/sqrtP - 1/sqrtUpper, sqrtP - sqrtLower
	}
}

// ForBandRebalance implements the simpler rule the engine uses for
// ordinary band rebalances: the dissolved band yields exactly the
// token the new band needs, so the whole balance on that side is
// swapped to the other.
func ForBandRebalance(dir band.Direction, bal0, bal1 float64) *SwapPlan {
	if dir == band.Lower {
		if bal0 <= minSwapAmount {
			return nil
		}
		return &SwapPlan{TokenIn: Token0, TokenOut: Token1, AmountIn: bal0}
	}
	if bal1 <= minSwapAmount {
		return nil
	}
	return &SwapPlan{TokenIn: Token1, TokenOut: Token0, AmountIn: bal1}
}
