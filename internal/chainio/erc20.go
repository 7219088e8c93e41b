package chainio

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ERC20 reads and mutates ERC-20 token state for the engine wallet. It
// implements engine.BalanceReader directly; NftManager and
// SwapRouterAdapter hold one in a field for their Approve methods.
type ERC20 struct {
	client *RPCClient
}

// NewERC20 returns an ERC20 helper bound to client.
func NewERC20(client *RPCClient) *ERC20 {
	return &ERC20{client: client}
}

// BalanceOf implements engine.BalanceReader.
func (e *ERC20) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	if !common.IsHexAddress(token) || !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("chainio: invalid address token=%s owner=%s", token, owner)
	}
	parsed, err := erc20ABIInstance()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("chainio: pack balanceOf: %w", err)
	}
	tokenAddr := common.HexToAddress(token)
	resp, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chainio: call balanceOf: %w", err)
	}
	values, err := parsed.Unpack("balanceOf", resp)
	if err != nil {
		return nil, fmt.Errorf("chainio: unpack balanceOf: %w", err)
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chainio: balanceOf unexpected type %T", values[0])
	}
	return bal, nil
}

// approveIfNeeded raises the spender's allowance for token to
// unlimited when the current allowance is below threshold. Both
// NftManager and SwapRouterAdapter call this once per pool at
// startup, matching the engine's idempotent Initialize contract.
func (e *ERC20) approveIfNeeded(ctx context.Context, token, spender string) error {
	if !common.IsHexAddress(token) || !common.IsHexAddress(spender) {
		return fmt.Errorf("chainio: invalid address token=%s spender=%s", token, spender)
	}
	parsed, err := erc20ABIInstance()
	if err != nil {
		return err
	}

	owner := e.client.WalletAddress()
	tokenAddr := common.HexToAddress(token)
	spenderAddr := common.HexToAddress(spender)

	allowanceData, err := parsed.Pack("allowance", owner, spenderAddr)
	if err != nil {
		return fmt.Errorf("chainio: pack allowance: %w", err)
	}
	resp, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: allowanceData}, nil)
	if err != nil {
		return fmt.Errorf("chainio: call allowance: %w", err)
	}
	values, err := parsed.Unpack("allowance", resp)
	if err != nil {
		return fmt.Errorf("chainio: unpack allowance: %w", err)
	}
	current, ok := values[0].(*big.Int)
	if !ok {
		return fmt.Errorf("chainio: allowance unexpected type %T", values[0])
	}

	// A threshold high enough that ordinary rebalance sizes never dip
	// below it before the next approval cycle.
	threshold := new(big.Int).Lsh(big.NewInt(1), 200)
	if current.Cmp(threshold) >= 0 {
		return nil
	}

	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	approveData, err := parsed.Pack("approve", spenderAddr, maxUint256)
	if err != nil {
		return fmt.Errorf("chainio: pack approve: %w", err)
	}
	if _, err := e.client.sendSigned(ctx, tokenAddr, big.NewInt(0), approveData); err != nil {
		return fmt.Errorf("chainio: send approve: %w", err)
	}
	return nil
}
