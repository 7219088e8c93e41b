package engine

import "math/big"

// toFloat renders a raw on-chain amount as a decimal float using the
// token's decimals, for the risk/valuation math that only needs
// double precision. On-chain calls themselves always carry the raw
// *big.Int untouched; this conversion never feeds back into a
// transaction amount.
func toFloat(amount *big.Int, decimals uint8) float64 {
	if amount == nil || amount.Sign() == 0 {
		return 0
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(amount, denom)
	f, _ := rat.Float64()
	return f
}

// share divides amount by divisor, returning a new *big.Int truncated
// toward zero — used for the initial mint's descending balance split.
func share(amount *big.Int, divisor int64) *big.Int {
	if amount == nil || divisor <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(amount, big.NewInt(divisor))
}

func subOrZero(a, b *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	if b == nil {
		return new(big.Int).Set(a)
	}
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}
