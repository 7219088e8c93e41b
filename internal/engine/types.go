// Package engine implements the per-pool rebalance state machine: the
// core that owns a pool's band ledger, decides when and how to
// rebalance, and enforces the risk envelope around that decision.
package engine

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/rangekeeper/rangekeeper/internal/band"
	"github.com/rangekeeper/rangekeeper/internal/risk"
)

// Sentinel errors for the taxonomy the engine reasons about when
// deciding whether a failure counts against the consecutive-error
// budget. Adapters are expected to wrap the underlying cause with one
// of these via fmt.Errorf("...: %w", err).
var (
	ErrTransientChain = errors.New("engine: transient chain error")
	ErrRevert         = errors.New("engine: on-chain revert")
	ErrEventMissing   = errors.New("engine: expected event log missing")
	ErrValidation     = errors.New("engine: validation error")
	ErrGateSkip       = errors.New("engine: gate skip")
)

// State is one of the state-machine's named states.
type State int

const (
	Idle State = iota
	Monitoring
	Evaluating
	Withdrawing
	Swapping
	Minting
	Error
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Monitoring:
		return "Monitoring"
	case Evaluating:
		return "Evaluating"
	case Withdrawing:
		return "Withdrawing"
	case Swapping:
		return "Swapping"
	case Minting:
		return "Minting"
	case Error:
		return "Error"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s is one of the two terminal states.
func (s State) IsTerminal() bool {
	return s == Error || s == Stopped
}

// RebalanceStage marks which chain-mutating step of a rebalance last
// committed durably.
type RebalanceStage int

const (
	// StageNone means no rebalance is mid-flight.
	StageNone RebalanceStage = iota
	StageWithdrawn
	StageSwapped
)

func (s RebalanceStage) String() string {
	switch s {
	case StageWithdrawn:
		return "Withdrawn"
	case StageSwapped:
		return "Swapped"
	default:
		return "None"
	}
}

// PriceTick is one price update delivered by the external monitor.
// Only Tick and TimestampMs are consumed by the core; SqrtPrice and
// Liquidity are carried for adapters that want them.
type PriceTick struct {
	Tick        int
	SqrtPrice   *big.Int
	Liquidity   *big.Int
	TimestampMs int64
}

// PoolConfig is the immutable configuration for one engine.
type PoolConfig struct {
	PoolID      string
	Token0      string
	Token1      string
	Decimals0   uint8
	Decimals1   uint8
	FeeTier     uint32
	PoolAddress string

	RangeWidthPercent           float64
	MinRebalanceIntervalMinutes int
	MaxGasCostUsd               float64
	SlippageTolerancePercent    float64

	// ExpectedPriceRatio, if non-zero, enables the depeg gate.
	ExpectedPriceRatio float64
	// DepegThresholdPercent defaults to risk.DefaultDepegThresholdPercent
	// when zero.
	DepegThresholdPercent float64
	// MaxTotalLossPercent gates cumulative portfolio loss vs the
	// pool's recorded initial value.
	MaxTotalLossPercent float64
	// EthPriceUsd feeds the gas-cost estimate; a fallback used when the
	// PriceFeed collaborator is absent or has no price yet.
	EthPriceUsd float64
}

func (c PoolConfig) depegThreshold() float64 {
	if c.DepegThresholdPercent > 0 {
		return c.DepegThresholdPercent
	}
	return risk.DefaultDepegThresholdPercent
}

func (c PoolConfig) minRebalanceInterval() time.Duration {
	return time.Duration(c.MinRebalanceIntervalMinutes) * time.Minute
}

// RebalanceCheckpoint is the persisted marker of a mid-flight
// rebalance, present iff a crash boundary could have interrupted one.
type RebalanceCheckpoint struct {
	Stage           RebalanceStage
	PendingTxHashes []string
}

// PersistedBand mirrors band.Band in a form safe for JSON
// (de)serialization: tokenId is carried as a decimal string end to end
// per spec so it never risks truncation to a 53-bit float.
type PersistedBand struct {
	TokenID   string
	TickLower int
	TickUpper int
}

// PersistedPoolState is the durable state for one pool.
type PersistedPoolState struct {
	Bands               []PersistedBand
	BandTickWidth       int
	LastRebalanceTimeMs int64
	LastNonce           *uint64
	RebalanceStage      RebalanceStage
	PendingTxHashes     []string
	InitialValueUsd     float64
}

// PortfolioSnapshot is a transient balances/price/value reading
// consumed by the risk gates.
type PortfolioSnapshot struct {
	Token0Balance      float64
	Token1Balance      float64
	PriceAtSnapshot    float64
	ValueInToken1Units float64
}

// MintParams describes one band to mint.
type MintParams struct {
	Token0       string
	Token1       string
	FeeTier      uint32
	TickLower    int
	TickUpper    int
	Amount0Want  *big.Int
	Amount1Want  *big.Int
	SlippagePct  float64
}

// MintResult is the outcome of a successful mint.
type MintResult struct {
	TokenID   string
	Liquidity *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
	TxHash    string
}

// RemoveResult is the outcome of removing a position: decrease,
// collect, and burn, reported as three transaction hashes.
type RemoveResult struct {
	Amount0  *big.Int
	Amount1  *big.Int
	Fee0     *big.Int
	Fee1     *big.Int
	TxHashes RemoveTxHashes
}

// RemoveTxHashes carries the hashes of the three chained transactions
// removePosition issues. On partial failure the hashes up to the last
// successful step are populated and the call still returns an error.
type RemoveTxHashes struct {
	Decrease string
	Collect  string
	Burn     string
}

// PositionInfo is a live on-chain position reading.
type PositionInfo struct {
	TokenID      string
	Liquidity    *big.Int
	TickLower    int
	TickUpper    int
	TokensOwed0  *big.Int
	TokensOwed1  *big.Int
}

// NftPositionManager is the collaborator that owns concentrated
// liquidity NFTs on chain.
type NftPositionManager interface {
	Mint(ctx context.Context, params MintParams) (MintResult, error)
	RemovePosition(ctx context.Context, tokenID string, liquidity *big.Int, slippagePct float64) (RemoveResult, error)
	GetPosition(ctx context.Context, tokenID string) (PositionInfo, error)
	FindPositionsFor(ctx context.Context, owner, token0, token1 string, feeTier uint32) ([]PositionInfo, error)
	Approve(ctx context.Context, token0, token1 string) error
}

// SwapResult is the outcome of a successful swap.
type SwapResult struct {
	AmountOut *big.Int
	TxHash    string
}

// SwapRouter is the collaborator that executes swaps within one pool.
type SwapRouter interface {
	ExecuteSwap(ctx context.Context, tokenIn, tokenOut string, feeTier uint32, amountIn *big.Int, slippagePct float64) (SwapResult, error)
	Approve(ctx context.Context, token0, token1 string) error
}

// GasInfo is a gas-price reading.
type GasInfo struct {
	GasPriceGwei float64
	IsEip1559    bool
}

// GasOracle is the collaborator supplying gas-price readings and
// spike detection against its own running baseline.
type GasOracle interface {
	GetGasInfo(ctx context.Context) (GasInfo, error)
	IsSpike(gasPriceGwei float64) bool
}

// Persistence is the durable-state contract. Save is best-effort
// (lossy); SaveOrThrow fails fast so a checkpoint write failure aborts
// a rebalance before its next chain call.
type Persistence interface {
	GetPoolState(poolID string) (PersistedPoolState, bool, error)
	UpdatePoolState(poolID string, state PersistedPoolState) error
	Save() error
	SaveOrThrow() error
}

// HistoryEventKind names an append-only history event.
type HistoryEventKind string

const (
	HistoryMint           HistoryEventKind = "MINT"
	HistoryRebalance      HistoryEventKind = "REBALANCE"
	HistoryEmergencyStop  HistoryEventKind = "EMERGENCY_STOP"
)

// HistoryEvent is one append-only log entry.
type HistoryEvent struct {
	PoolID        string
	Kind          HistoryEventKind
	Direction     string
	TxHashes      []string
	Bands         []PersistedBand
	CorrelationID string
	OccurredAtMs  int64
}

// HistoryLog is the append-only history sink. Loss of entries is
// tolerated per the external interface contract.
type HistoryLog interface {
	Append(ctx context.Context, event HistoryEvent) error
}

// Notifier is a best-effort notification sink; failures are logged by
// the engine and never propagated.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// PoolHealthStatus is the observability snapshot pushed to the health
// surface on every transition.
type PoolHealthStatus struct {
	PoolID              string
	State               State
	LedgerSize          int
	LastRebalanceTimeMs int64
	ConsecutiveErrors   int
}

// HealthSurface receives pool status updates for observability. It is
// never read back by the engine.
type HealthSurface interface {
	UpdatePoolStatus(poolID string, status PoolHealthStatus)
}

// PriceSource delivers PriceTick events for one pool. It may lose
// events but never delivers them out of order.
type PriceSource interface {
	Subscribe(ctx context.Context) (<-chan PriceTick, error)
}

// BalanceReader reads the engine wallet's on-chain token balances.
// Not one of the named collaborators in the external interface list,
// but implied by "read balances of both tokens" throughout the
// state-machine driver — folded here rather than into
// NftPositionManager/SwapRouter since balance reads are plain ERC-20
// calls unrelated to either.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, owner string) (*big.Int, error)
}

// PoolInspector reads a pool's own token0/token1 getters, used by
// Initialize's startup self-check to catch a misconfigured pool
// address before it mints anything against it. Optional: a nil
// PoolInspector skips the check.
type PoolInspector interface {
	PoolTokens(ctx context.Context, poolAddress string) (token0, token1 string, err error)
}

// PriceFeed supplies a live ETH/USD price for the gas-cost gate. ok is
// false when no price has arrived yet, in which case the engine falls
// back to PoolConfig.EthPriceUsd. Optional: a nil PriceFeed always
// falls back.
type PriceFeed interface {
	Price() (usd float64, ok bool)
}

// ReceiptChecker looks up a transaction's on-chain outcome without
// blocking for confirmation, used only during initialize()'s crash
// recovery to log the fate of any pending hashes. A nil ReceiptChecker
// is valid: the engine then skips the lookup and logs a bare notice.
type ReceiptChecker interface {
	CheckReceipt(ctx context.Context, txHash string) (found bool, success bool, err error)
}

// bandFromPersisted and bandToPersisted convert between the ledger's
// runtime Band and the JSON-safe PersistedBand.
func bandFromPersisted(p PersistedBand, index int) band.Band {
	return band.Band{Index: index, TokenID: p.TokenID, TickLower: p.TickLower, TickUpper: p.TickUpper}
}

func bandToPersisted(b band.Band) PersistedBand {
	return PersistedBand{TokenID: b.TokenID, TickLower: b.TickLower, TickUpper: b.TickUpper}
}
