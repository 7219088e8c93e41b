// Hand-written in-memory fakes for the engine package's collaborator
// interfaces, used by the state-machine tests instead of a mocking
// framework.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

type position struct {
	liquidity *big.Int
	amount0   *big.Int
	amount1   *big.Int
	tickLower int
	tickUpper int
}

// Chain is a single fake standing in for the NftPositionManager,
// SwapRouter, GasOracle, and BalanceReader collaborators together,
// since a realistic rebalance scenario needs mint/swap/remove calls
// to move a shared wallet balance consistently.
type Chain struct {
	mu sync.Mutex

	Token0, Token1 string
	Balances       map[string]*big.Int
	Positions      map[string]*position
	nextTokenID    int64

	MintFunc   func(ctx context.Context, params MintParams) (MintResult, error)
	RemoveFunc func(ctx context.Context, tokenID string, liquidity *big.Int, slippagePct float64) (RemoveResult, error)
	SwapFunc   func(ctx context.Context, tokenIn, tokenOut string, feeTier uint32, amountIn *big.Int, slippagePct float64) (SwapResult, error)

	GasInfo GasInfo
	Spike   bool

	MintCalls    []string
	RemoveCalls  []string
	SwapCalls    []string
	ApproveCalls int
}

// virtualRunTokenIDStart is the reserved tokenId range spec §6 assigns
// to virtual test/dry-run mints.
const virtualRunTokenIDStart = 900_000_000

// NewChain seeds a wallet with bal0 of token0 and bal1 of token1.
func NewChain(token0, token1 string, bal0, bal1 *big.Int) *Chain {
	return &Chain{
		Token0:      token0,
		Token1:      token1,
		Balances:    map[string]*big.Int{token0: new(big.Int).Set(bal0), token1: new(big.Int).Set(bal1)},
		Positions:   make(map[string]*position),
		nextTokenID: virtualRunTokenIDStart,
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (c *Chain) debitLocked(token string, amount *big.Int) {
	bal := c.Balances[token]
	if bal == nil {
		bal = big.NewInt(0)
	}
	c.Balances[token] = new(big.Int).Sub(bal, amount)
}

func (c *Chain) creditLocked(token string, amount *big.Int) {
	bal := c.Balances[token]
	if bal == nil {
		bal = big.NewInt(0)
	}
	c.Balances[token] = new(big.Int).Add(bal, amount)
}

func (c *Chain) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bal := c.Balances[token]
	if bal == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

func (c *Chain) Mint(ctx context.Context, params MintParams) (MintResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.MintFunc != nil {
		return c.MintFunc(ctx, params)
	}

	amount0 := orZero(params.Amount0Want)
	amount1 := orZero(params.Amount1Want)
	c.debitLocked(params.Token0, amount0)
	c.debitLocked(params.Token1, amount1)

	tokenID := fmt.Sprintf("%d", c.nextTokenID)
	c.nextTokenID++

	liquidity := new(big.Int).Add(amount0, amount1)
	c.Positions[tokenID] = &position{
		liquidity: liquidity,
		amount0:   amount0,
		amount1:   amount1,
		tickLower: params.TickLower,
		tickUpper: params.TickUpper,
	}
	c.MintCalls = append(c.MintCalls, tokenID)

	return MintResult{
		TokenID:   tokenID,
		Liquidity: liquidity,
		Amount0:   amount0,
		Amount1:   amount1,
		TxHash:    "0xmint" + tokenID,
	}, nil
}

func (c *Chain) RemovePosition(ctx context.Context, tokenID string, liquidity *big.Int, slippagePct float64) (RemoveResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RemoveFunc != nil {
		return c.RemoveFunc(ctx, tokenID, liquidity, slippagePct)
	}

	pos, ok := c.Positions[tokenID]
	if !ok {
		return RemoveResult{}, fmt.Errorf("enginetest: unknown token %s", tokenID)
	}
	delete(c.Positions, tokenID)
	c.creditLocked(c.Token0, pos.amount0)
	c.creditLocked(c.Token1, pos.amount1)
	c.RemoveCalls = append(c.RemoveCalls, tokenID)

	return RemoveResult{
		Amount0: pos.amount0,
		Amount1: pos.amount1,
		Fee0:    big.NewInt(0),
		Fee1:    big.NewInt(0),
		TxHashes: RemoveTxHashes{
			Decrease: "0xdec" + tokenID,
			Collect:  "0xcol" + tokenID,
			Burn:     "0xburn" + tokenID,
		},
	}, nil
}

func (c *Chain) GetPosition(ctx context.Context, tokenID string) (PositionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.Positions[tokenID]
	if !ok {
		return PositionInfo{}, fmt.Errorf("enginetest: unknown token %s", tokenID)
	}
	return PositionInfo{
		TokenID:     tokenID,
		Liquidity:   new(big.Int).Set(pos.liquidity),
		TickLower:   pos.tickLower,
		TickUpper:   pos.tickUpper,
		TokensOwed0: big.NewInt(0),
		TokensOwed1: big.NewInt(0),
	}, nil
}

func (c *Chain) FindPositionsFor(ctx context.Context, owner, token0, token1 string, feeTier uint32) ([]PositionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PositionInfo, 0, len(c.Positions))
	for tokenID, pos := range c.Positions {
		out = append(out, PositionInfo{
			TokenID:   tokenID,
			Liquidity: new(big.Int).Set(pos.liquidity),
			TickLower: pos.tickLower,
			TickUpper: pos.tickUpper,
		})
	}
	return out, nil
}

func (c *Chain) Approve(ctx context.Context, token0, token1 string) error {
	c.mu.Lock()
	c.ApproveCalls++
	c.mu.Unlock()
	return nil
}

func (c *Chain) ExecuteSwap(ctx context.Context, tokenIn, tokenOut string, feeTier uint32, amountIn *big.Int, slippagePct float64) (SwapResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SwapFunc != nil {
		return c.SwapFunc(ctx, tokenIn, tokenOut, feeTier, amountIn, slippagePct)
	}
	c.debitLocked(tokenIn, amountIn)
	c.creditLocked(tokenOut, amountIn)
	c.SwapCalls = append(c.SwapCalls, tokenIn+"->"+tokenOut)
	return SwapResult{AmountOut: new(big.Int).Set(amountIn), TxHash: "0xswap"}, nil
}

func (c *Chain) GetGasInfo(ctx context.Context) (GasInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.GasInfo, nil
}

func (c *Chain) IsSpike(gasPriceGwei float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Spike
}

// PersistenceFake is an in-memory fake of the Persistence contract.
type PersistenceFake struct {
	mu             sync.Mutex
	States         map[string]PersistedPoolState
	SaveErr        error
	SaveOrThrowErr error
	UpdateCalls    int
	SaveCalls      int
}

func NewPersistenceFake() *PersistenceFake {
	return &PersistenceFake{States: make(map[string]PersistedPoolState)}
}

func (p *PersistenceFake) GetPoolState(poolID string) (PersistedPoolState, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.States[poolID]
	return s, ok, nil
}

func (p *PersistenceFake) UpdatePoolState(poolID string, state PersistedPoolState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.UpdateCalls++
	p.States[poolID] = state
	return nil
}

func (p *PersistenceFake) Save() error {
	p.mu.Lock()
	p.SaveCalls++
	p.mu.Unlock()
	return p.SaveErr
}

func (p *PersistenceFake) SaveOrThrow() error {
	p.mu.Lock()
	p.SaveCalls++
	p.mu.Unlock()
	return p.SaveOrThrowErr
}

// History is an in-memory fake HistoryLog.
type History struct {
	mu     sync.Mutex
	Events []HistoryEvent
}

func (h *History) Append(ctx context.Context, event HistoryEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Events = append(h.Events, event)
	return nil
}

// NotifierFake is an in-memory fake Notifier.
type NotifierFake struct {
	mu       sync.Mutex
	Messages []string
}

func (n *NotifierFake) Notify(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, message)
	return nil
}

// Health is an in-memory fake HealthSurface.
type Health struct {
	mu       sync.Mutex
	Statuses map[string]PoolHealthStatus
}

func NewHealth() *Health {
	return &Health{Statuses: make(map[string]PoolHealthStatus)}
}

func (h *Health) UpdatePoolStatus(poolID string, status PoolHealthStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Statuses[poolID] = status
}

// PriceSourceFake is a fake PriceSource backed by a channel the test
// drives directly with Push.
type PriceSourceFake struct {
	ch chan PriceTick
}

func NewPriceSourceFake() *PriceSourceFake {
	return &PriceSourceFake{ch: make(chan PriceTick, 1)}
}

func (p *PriceSourceFake) Subscribe(ctx context.Context) (<-chan PriceTick, error) {
	return p.ch, nil
}

func (p *PriceSourceFake) Push(tick PriceTick) {
	p.ch <- tick
}

// ReceiptCheckerFake is a fake ReceiptChecker with a fixed response.
type ReceiptCheckerFake struct {
	Found   bool
	Success bool
	Err     error
}

func (r *ReceiptCheckerFake) CheckReceipt(ctx context.Context, txHash string) (bool, bool, error) {
	return r.Found, r.Success, r.Err
}

// PoolInspectorFake is a fake PoolInspector with a fixed token0/token1
// response, letting tests simulate a misconfigured pool address.
type PoolInspectorFake struct {
	Token0, Token1 string
	Err            error
}

func (p *PoolInspectorFake) PoolTokens(ctx context.Context, poolAddress string) (string, string, error) {
	return p.Token0, p.Token1, p.Err
}

// PriceFeedFake is a fake PriceFeed with a fixed response, letting tests
// simulate both a live feed and a not-yet-connected one (Ok=false).
type PriceFeedFake struct {
	Usd float64
	Ok  bool
}

func (f *PriceFeedFake) Price() (float64, bool) {
	return f.Usd, f.Ok
}
