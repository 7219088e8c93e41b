package chainio

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rangekeeper/rangekeeper/internal/engine"
)

// PoolInspector implements engine.PoolInspector by reading a Uniswap
// V3 pool's own token0/token1 getters.
type PoolInspector struct {
	client *RPCClient
}

// NewPoolInspector returns a PoolInspector bound to client.
func NewPoolInspector(client *RPCClient) *PoolInspector {
	return &PoolInspector{client: client}
}

// PoolTokens implements engine.PoolInspector.
func (p *PoolInspector) PoolTokens(ctx context.Context, poolAddress string) (token0, token1 string, err error) {
	parsed, err := poolMetadataABIInstance()
	if err != nil {
		return "", "", err
	}
	addr := common.HexToAddress(poolAddress)

	token0, err = p.callAddress(ctx, parsed, addr, "token0")
	if err != nil {
		return "", "", err
	}
	token1, err = p.callAddress(ctx, parsed, addr, "token1")
	if err != nil {
		return "", "", err
	}
	return token0, token1, nil
}

func (p *PoolInspector) callAddress(ctx context.Context, parsed abi.ABI, poolAddr common.Address, method string) (string, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return "", fmt.Errorf("%w: pack %s: %v", engine.ErrValidation, method, err)
	}
	out, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &poolAddr, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("chainio: call %s: %w", method, err)
	}
	unpacked, err := parsed.Unpack(method, out)
	if err != nil || len(unpacked) == 0 {
		return "", fmt.Errorf("chainio: unpack %s: %w", method, err)
	}
	addr, ok := unpacked[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("chainio: unexpected %s result type", method)
	}
	return addr.Hex(), nil
}
