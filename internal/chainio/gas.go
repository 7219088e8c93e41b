package chainio

import (
	"context"
	"math/big"

	"github.com/rangekeeper/rangekeeper/internal/engine"
	"github.com/rangekeeper/rangekeeper/internal/risk"
)

var weiPerGwei = big.NewInt(1_000_000_000)

// GasOracleAdapter implements engine.GasOracle against the node's own
// fee-market RPCs, tracking its own EMA baseline independently of the
// engine's so IsSpike reflects the adapter's live view even between
// GetGasInfo calls the engine happens to skip.
type GasOracleAdapter struct {
	client   *RPCClient
	baseline *risk.GasBaseline
}

// NewGasOracleAdapter returns a GasOracleAdapter bound to client.
func NewGasOracleAdapter(client *RPCClient) *GasOracleAdapter {
	return &GasOracleAdapter{client: client, baseline: risk.NewGasBaseline()}
}

// GetGasInfo implements engine.GasOracle.
func (g *GasOracleAdapter) GetGasInfo(ctx context.Context) (engine.GasInfo, error) {
	tip, err := g.client.SuggestGasTipCap(ctx)
	if err == nil {
		gwei := weiToGwei(tip)
		g.baseline.Observe(gwei)
		return engine.GasInfo{GasPriceGwei: gwei, IsEip1559: true}, nil
	}

	price, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return engine.GasInfo{}, err
	}
	gwei := weiToGwei(price)
	g.baseline.Observe(gwei)
	return engine.GasInfo{GasPriceGwei: gwei, IsEip1559: false}, nil
}

// IsSpike implements engine.GasOracle.
func (g *GasOracleAdapter) IsSpike(gasPriceGwei float64) bool {
	return g.baseline.IsSpike(gasPriceGwei)
}

func weiToGwei(wei *big.Int) float64 {
	gweiRat := new(big.Int).Set(wei)
	f := new(big.Rat).SetFrac(gweiRat, weiPerGwei)
	out, _ := f.Float64()
	return out
}
