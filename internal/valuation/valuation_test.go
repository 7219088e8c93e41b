package valuation

import "testing"

func TestPortfolioValue(t *testing.T) {
	cases := []struct {
		name              string
		bal0, bal1, price float64
		want              float64
	}{
		{"basic", 10, 5, 2, 25},
		{"zero price", 10, 5, 0, 0},
		{"negative price", 10, 5, -1, 0},
		{"nan price", 10, 5, nan(), 0},
		{"inf price", 10, 5, inf(), 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := PortfolioValue(c.bal0, c.bal1, c.price); got != c.want {
				t.Fatalf("PortfolioValue(%v,%v,%v) = %v, want %v", c.bal0, c.bal1, c.price, got, c.want)
			}
		})
	}
}

func TestNewSnapshot(t *testing.T) {
	s := NewSnapshot(3, 4, 2)
	if s.ValueInToken1Units != 10 {
		t.Fatalf("ValueInToken1Units = %v, want 10", s.ValueInToken1Units)
	}
	if s.Token0Balance != 3 || s.Token1Balance != 4 || s.PriceAtSnapshot != 2 {
		t.Fatalf("snapshot fields not preserved: %+v", s)
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func inf() float64 {
	var zero float64
	one := 1.0
	return one / zero
}
