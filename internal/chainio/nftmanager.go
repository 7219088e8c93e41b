package chainio

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rangekeeper/rangekeeper/internal/engine"
)

const mintDeadlineWindow = 5 * time.Minute

// NftManager implements engine.NftPositionManager against Uniswap
// V3's NonfungiblePositionManager contract.
type NftManager struct {
	client        *RPCClient
	erc20         *ERC20
	managerAddr   common.Address
}

// NewNftManager returns an NftManager bound to the position manager
// deployed at managerAddress.
func NewNftManager(client *RPCClient, managerAddress string) *NftManager {
	return &NftManager{
		client:      client,
		erc20:       NewERC20(client),
		managerAddr: common.HexToAddress(managerAddress),
	}
}

func (m *NftManager) deadline() *big.Int {
	return big.NewInt(time.Now().Add(mintDeadlineWindow).Unix())
}

// Mint implements engine.NftPositionManager.
func (m *NftManager) Mint(ctx context.Context, params engine.MintParams) (engine.MintResult, error) {
	parsed, err := nftManagerABIInstance()
	if err != nil {
		return engine.MintResult{}, err
	}

	slippage := big.NewInt(int64((100 - params.SlippagePct) * 100))
	amount0Min := new(big.Int).Div(new(big.Int).Mul(params.Amount0Want, slippage), big.NewInt(10000))
	amount1Min := new(big.Int).Div(new(big.Int).Mul(params.Amount1Want, slippage), big.NewInt(10000))

	data, err := parsed.Pack("mint", struct {
		Token0         common.Address
		Token1         common.Address
		Fee            *big.Int
		TickLower      *big.Int
		TickUpper      *big.Int
		Amount0Desired *big.Int
		Amount1Desired *big.Int
		Amount0Min     *big.Int
		Amount1Min     *big.Int
		Recipient      common.Address
		Deadline       *big.Int
	}{
		Token0:         common.HexToAddress(params.Token0),
		Token1:         common.HexToAddress(params.Token1),
		Fee:            new(big.Int).SetUint64(uint64(params.FeeTier)),
		TickLower:      big.NewInt(int64(int24(params.TickLower))),
		TickUpper:      big.NewInt(int64(int24(params.TickUpper))),
		Amount0Desired: params.Amount0Want,
		Amount1Desired: params.Amount1Want,
		Amount0Min:     amount0Min,
		Amount1Min:     amount1Min,
		Recipient:      m.client.WalletAddress(),
		Deadline:       m.deadline(),
	})
	if err != nil {
		return engine.MintResult{}, fmt.Errorf("%w: pack mint: %v", engine.ErrValidation, err)
	}

	txHash, err := m.client.sendSigned(ctx, m.managerAddr, big.NewInt(0), data)
	if err != nil {
		return engine.MintResult{}, fmt.Errorf("%w: mint: %v", engine.ErrRevert, err)
	}

	// The manager returns the minted tokenId/liquidity/amounts in the
	// call's return data, but sendSigned only returns a hash once mined.
	// The new position is taken to be the wallet's last indexed one
	// (tokenOfOwnerByIndex(balanceOf-1)); the receipt's Transfer event is
	// not decoded, and Amount0/Amount1 below report the requested amounts,
	// not the amounts the manager actually pulled. The engine tests use
	// the fakes in internal/engine/fakes_test.go, not this adapter.
	position, err := m.positionsByOwnerLatest(ctx)
	if err != nil {
		return engine.MintResult{}, fmt.Errorf("%w: resolve minted position: %v", engine.ErrEventMissing, err)
	}

	return engine.MintResult{
		TokenID:   position.TokenID,
		Liquidity: position.Liquidity,
		Amount0:   params.Amount0Want,
		Amount1:   params.Amount1Want,
		TxHash:    txHash,
	}, nil
}

// positionsByOwnerLatest resolves the most recently minted position for
// the wallet via tokenOfOwnerByIndex(balanceOf-1).
func (m *NftManager) positionsByOwnerLatest(ctx context.Context) (engine.PositionInfo, error) {
	parsed, err := nftManagerABIInstance()
	if err != nil {
		return engine.PositionInfo{}, err
	}
	owner := m.client.WalletAddress()

	balData, err := parsed.Pack("balanceOf", owner)
	if err != nil {
		return engine.PositionInfo{}, err
	}
	resp, err := m.client.CallContract(ctx, ethereum.CallMsg{To: &m.managerAddr, Data: balData}, nil)
	if err != nil {
		return engine.PositionInfo{}, err
	}
	balVals, err := parsed.Unpack("balanceOf", resp)
	if err != nil {
		return engine.PositionInfo{}, err
	}
	count := balVals[0].(*big.Int)
	if count.Sign() == 0 {
		return engine.PositionInfo{}, fmt.Errorf("chainio: wallet holds no positions")
	}
	lastIndex := new(big.Int).Sub(count, big.NewInt(1))

	idxData, err := parsed.Pack("tokenOfOwnerByIndex", owner, lastIndex)
	if err != nil {
		return engine.PositionInfo{}, err
	}
	resp, err = m.client.CallContract(ctx, ethereum.CallMsg{To: &m.managerAddr, Data: idxData}, nil)
	if err != nil {
		return engine.PositionInfo{}, err
	}
	idxVals, err := parsed.Unpack("tokenOfOwnerByIndex", resp)
	if err != nil {
		return engine.PositionInfo{}, err
	}
	tokenID := idxVals[0].(*big.Int)

	return m.GetPosition(ctx, tokenID.String())
}

// RemovePosition implements engine.NftPositionManager: it chains
// decreaseLiquidity, collect, and burn into three transactions.
func (m *NftManager) RemovePosition(ctx context.Context, tokenID string, liquidity *big.Int, slippagePct float64) (engine.RemoveResult, error) {
	parsed, err := nftManagerABIInstance()
	if err != nil {
		return engine.RemoveResult{}, err
	}
	tokenIDInt, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return engine.RemoveResult{}, fmt.Errorf("%w: invalid token id %q", engine.ErrValidation, tokenID)
	}

	decreaseData, err := parsed.Pack("decreaseLiquidity", struct {
		TokenID    *big.Int
		Liquidity  *big.Int
		Amount0Min *big.Int
		Amount1Min *big.Int
		Deadline   *big.Int
	}{
		TokenID:    tokenIDInt,
		Liquidity:  liquidity,
		Amount0Min: big.NewInt(0),
		Amount1Min: big.NewInt(0),
		Deadline:   m.deadline(),
	})
	if err != nil {
		return engine.RemoveResult{}, fmt.Errorf("%w: pack decreaseLiquidity: %v", engine.ErrValidation, err)
	}
	decreaseHash, err := m.client.sendSigned(ctx, m.managerAddr, big.NewInt(0), decreaseData)
	if err != nil {
		return engine.RemoveResult{}, fmt.Errorf("%w: decreaseLiquidity: %v", engine.ErrRevert, err)
	}

	maxUint128 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	collectData, err := parsed.Pack("collect", struct {
		TokenID    *big.Int
		Recipient  common.Address
		Amount0Max *big.Int
		Amount1Max *big.Int
	}{
		TokenID:    tokenIDInt,
		Recipient:  m.client.WalletAddress(),
		Amount0Max: maxUint128,
		Amount1Max: maxUint128,
	})
	if err != nil {
		return engine.RemoveResult{}, fmt.Errorf("%w: pack collect: %v", engine.ErrValidation, err)
	}
	collectHash, err := m.client.sendSigned(ctx, m.managerAddr, big.NewInt(0), collectData)
	if err != nil {
		return engine.RemoveResult{TxHashes: engine.RemoveTxHashes{Decrease: decreaseHash}}, fmt.Errorf("%w: collect: %v", engine.ErrRevert, err)
	}

	burnData, err := parsed.Pack("burn", tokenIDInt)
	if err != nil {
		return engine.RemoveResult{}, fmt.Errorf("%w: pack burn: %v", engine.ErrValidation, err)
	}
	burnHash, err := m.client.sendSigned(ctx, m.managerAddr, big.NewInt(0), burnData)
	if err != nil {
		return engine.RemoveResult{TxHashes: engine.RemoveTxHashes{Decrease: decreaseHash, Collect: collectHash}}, fmt.Errorf("%w: burn: %v", engine.ErrRevert, err)
	}

	return engine.RemoveResult{
		Fee0: big.NewInt(0),
		Fee1: big.NewInt(0),
		TxHashes: engine.RemoveTxHashes{
			Decrease: decreaseHash,
			Collect:  collectHash,
			Burn:     burnHash,
		},
	}, nil
}

// GetPosition implements engine.NftPositionManager.
func (m *NftManager) GetPosition(ctx context.Context, tokenID string) (engine.PositionInfo, error) {
	parsed, err := nftManagerABIInstance()
	if err != nil {
		return engine.PositionInfo{}, err
	}
	tokenIDInt, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return engine.PositionInfo{}, fmt.Errorf("%w: invalid token id %q", engine.ErrValidation, tokenID)
	}
	data, err := parsed.Pack("positions", tokenIDInt)
	if err != nil {
		return engine.PositionInfo{}, err
	}
	resp, err := m.client.CallContract(ctx, ethereum.CallMsg{To: &m.managerAddr, Data: data}, nil)
	if err != nil {
		return engine.PositionInfo{}, fmt.Errorf("%w: positions: %v", engine.ErrTransientChain, err)
	}
	values, err := parsed.Unpack("positions", resp)
	if err != nil {
		return engine.PositionInfo{}, err
	}
	tickLower := values[5].(*big.Int)
	tickUpper := values[6].(*big.Int)
	liquidity := values[7].(*big.Int)
	owed0 := values[10].(*big.Int)
	owed1 := values[11].(*big.Int)

	return engine.PositionInfo{
		TokenID:     tokenID,
		Liquidity:   liquidity,
		TickLower:   int(tickLower.Int64()),
		TickUpper:   int(tickUpper.Int64()),
		TokensOwed0: owed0,
		TokensOwed1: owed1,
	}, nil
}

// FindPositionsFor implements engine.NftPositionManager: it walks the
// wallet's full ERC-721 balance and filters by pool.
func (m *NftManager) FindPositionsFor(ctx context.Context, owner, token0, token1 string, feeTier uint32) ([]engine.PositionInfo, error) {
	parsed, err := nftManagerABIInstance()
	if err != nil {
		return nil, err
	}
	ownerAddr := common.HexToAddress(owner)

	balData, err := parsed.Pack("balanceOf", ownerAddr)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.CallContract(ctx, ethereum.CallMsg{To: &m.managerAddr, Data: balData}, nil)
	if err != nil {
		return nil, err
	}
	balVals, err := parsed.Unpack("balanceOf", resp)
	if err != nil {
		return nil, err
	}
	count := balVals[0].(*big.Int).Int64()

	var out []engine.PositionInfo
	for i := int64(0); i < count; i++ {
		idxData, err := parsed.Pack("tokenOfOwnerByIndex", ownerAddr, big.NewInt(i))
		if err != nil {
			return nil, err
		}
		resp, err := m.client.CallContract(ctx, ethereum.CallMsg{To: &m.managerAddr, Data: idxData}, nil)
		if err != nil {
			return nil, err
		}
		idxVals, err := parsed.Unpack("tokenOfOwnerByIndex", resp)
		if err != nil {
			return nil, err
		}
		tokenID := idxVals[0].(*big.Int).String()

		positionData, err := parsed.Pack("positions", idxVals[0])
		if err != nil {
			return nil, err
		}
		posResp, err := m.client.CallContract(ctx, ethereum.CallMsg{To: &m.managerAddr, Data: positionData}, nil)
		if err != nil {
			return nil, err
		}
		posVals, err := parsed.Unpack("positions", posResp)
		if err != nil {
			return nil, err
		}
		posToken0 := posVals[2].(common.Address)
		posToken1 := posVals[3].(common.Address)
		posFee := posVals[4].(*big.Int).Uint64()
		if posToken0 != common.HexToAddress(token0) || posToken1 != common.HexToAddress(token1) || uint32(posFee) != feeTier {
			continue
		}
		out = append(out, engine.PositionInfo{
			TokenID:     tokenID,
			Liquidity:   posVals[7].(*big.Int),
			TickLower:   int(posVals[5].(*big.Int).Int64()),
			TickUpper:   int(posVals[6].(*big.Int).Int64()),
			TokensOwed0: posVals[10].(*big.Int),
			TokensOwed1: posVals[11].(*big.Int),
		})
	}
	return out, nil
}

// Approve implements engine.NftPositionManager: it raises both tokens'
// allowances to the position manager.
func (m *NftManager) Approve(ctx context.Context, token0, token1 string) error {
	if err := m.erc20.approveIfNeeded(ctx, token0, m.managerAddr.Hex()); err != nil {
		return err
	}
	return m.erc20.approveIfNeeded(ctx, token1, m.managerAddr.Hex())
}
