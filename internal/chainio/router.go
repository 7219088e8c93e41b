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

const swapDeadlineWindow = 5 * time.Minute

// SwapRouterAdapter implements engine.SwapRouter against Uniswap V3's
// SwapRouter contract, always issuing a single-hop exactInputSingle
// within the managed pool's own fee tier. Before packing each swap it
// calls the Quoter contract to price amountIn, so amountOutMinimum
// reflects the pool's live price rather than a hardcoded zero.
type SwapRouterAdapter struct {
	client     *RPCClient
	erc20      *ERC20
	routerAddr common.Address
	quoterAddr common.Address
}

// NewSwapRouterAdapter returns a SwapRouterAdapter bound to
// routerAddress, quoting against quoterAddress before every swap.
func NewSwapRouterAdapter(client *RPCClient, routerAddress, quoterAddress string) *SwapRouterAdapter {
	return &SwapRouterAdapter{
		client:     client,
		erc20:      NewERC20(client),
		routerAddr: common.HexToAddress(routerAddress),
		quoterAddr: common.HexToAddress(quoterAddress),
	}
}

// quote calls the Quoter contract's quoteExactInputSingle to price
// amountIn at the pool's current tick.
func (s *SwapRouterAdapter) quote(ctx context.Context, tokenIn, tokenOut string, feeTier uint32, amountIn *big.Int) (*big.Int, error) {
	parsed, err := quoterABIInstance()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack("quoteExactInputSingle",
		common.HexToAddress(tokenIn),
		common.HexToAddress(tokenOut),
		new(big.Int).SetUint64(uint64(feeTier)),
		amountIn,
		big.NewInt(0),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: pack quoteExactInputSingle: %v", engine.ErrValidation, err)
	}

	out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.quoterAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chainio: quote exactInputSingle: %w", err)
	}
	unpacked, err := parsed.Unpack("quoteExactInputSingle", out)
	if err != nil || len(unpacked) == 0 {
		return nil, fmt.Errorf("chainio: unpack quote result: %w", err)
	}
	amountOut, ok := unpacked[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chainio: unexpected quote result type")
	}
	return amountOut, nil
}

// ExecuteSwap implements engine.SwapRouter.
func (s *SwapRouterAdapter) ExecuteSwap(ctx context.Context, tokenIn, tokenOut string, feeTier uint32, amountIn *big.Int, slippagePct float64) (engine.SwapResult, error) {
	parsed, err := swapRouterABIInstance()
	if err != nil {
		return engine.SwapResult{}, err
	}

	quotedOut, err := s.quote(ctx, tokenIn, tokenOut, feeTier, amountIn)
	if err != nil {
		return engine.SwapResult{}, err
	}
	slippage := big.NewInt(int64((100 - slippagePct) * 100))
	amountOutMinimum := new(big.Int).Div(new(big.Int).Mul(quotedOut, slippage), big.NewInt(10000))

	data, err := parsed.Pack("exactInputSingle", struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           common.HexToAddress(tokenIn),
		TokenOut:          common.HexToAddress(tokenOut),
		Fee:               new(big.Int).SetUint64(uint64(feeTier)),
		Recipient:         s.client.WalletAddress(),
		Deadline:          big.NewInt(time.Now().Add(swapDeadlineWindow).Unix()),
		AmountIn:          amountIn,
		AmountOutMinimum:  amountOutMinimum,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return engine.SwapResult{}, fmt.Errorf("%w: pack exactInputSingle: %v", engine.ErrValidation, err)
	}

	txHash, err := s.client.sendSigned(ctx, s.routerAddr, big.NewInt(0), data)
	if err != nil {
		return engine.SwapResult{}, fmt.Errorf("%w: exactInputSingle: %v", engine.ErrRevert, err)
	}

	return engine.SwapResult{AmountOut: quotedOut, TxHash: txHash}, nil
}

// Approve implements engine.SwapRouter: it raises both tokens'
// allowances to the swap router.
func (s *SwapRouterAdapter) Approve(ctx context.Context, token0, token1 string) error {
	if err := s.erc20.approveIfNeeded(ctx, token0, s.routerAddr.Hex()); err != nil {
		return err
	}
	return s.erc20.approveIfNeeded(ctx, token1, s.routerAddr.Hex())
}
