package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rangekeeper/rangekeeper/internal/band"
	"github.com/rangekeeper/rangekeeper/internal/risk"
	"github.com/rangekeeper/rangekeeper/internal/tickmath"
)

// Collaborators bundles every external dependency an Engine consumes.
// Grouping them keeps NewEngine's signature manageable as the
// collaborator set grows.
type Collaborators struct {
	Nft         NftPositionManager
	Router      SwapRouter
	Gas         GasOracle
	Balances    BalanceReader
	Persistence Persistence
	History     HistoryLog
	Notifier    Notifier
	Health      HealthSurface
	Receipts    ReceiptChecker // optional
	Pool        PoolInspector  // optional
	Prices      PriceFeed      // optional
}

// Engine is the per-pool rebalance state machine. One Engine manages
// exactly one pool; engines share nothing but the persistence file,
// which serializes its own writes.
type Engine struct {
	cfg    PoolConfig
	wallet string
	logger *zap.Logger

	collab Collaborators

	lockMu sync.Mutex // rebalance lock: acquired for the whole duration of a mutating call

	stateMu sync.Mutex // guards the fields below, held only briefly
	state   State
	ledger  *band.Ledger

	gasBaseline       *risk.GasBaseline
	consecutiveErrors risk.ConsecutiveErrorTracker
	lastRebalanceMs   int64
	initialValueUsd   float64
	emergencyStop     bool
	recoveryNotified  bool
}

// ethPriceUSD returns the live price from collab.Prices when available,
// falling back to the configured static price otherwise.
func (e *Engine) ethPriceUSD() float64 {
	if e.collab.Prices != nil {
		if usd, ok := e.collab.Prices.Price(); ok {
			return usd
		}
	}
	return e.cfg.EthPriceUsd
}

// NewEngine constructs an Engine in its initial Idle state.
func NewEngine(cfg PoolConfig, wallet string, logger *zap.Logger, collab Collaborators) *Engine {
	return &Engine{
		cfg:         cfg,
		wallet:      wallet,
		logger:      logger.With(zap.String("pool", cfg.PoolID)),
		collab:      collab,
		state:       Idle,
		ledger:      band.New(),
		gasBaseline: risk.NewGasBaseline(),
	}
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
	e.pushHealth()
}

func (e *Engine) pushHealth() {
	if e.collab.Health == nil {
		return
	}
	e.stateMu.Lock()
	status := PoolHealthStatus{
		PoolID:              e.cfg.PoolID,
		State:               e.state,
		LedgerSize:          e.ledger.Len(),
		LastRebalanceTimeMs: e.lastRebalanceMs,
		ConsecutiveErrors:   e.consecutiveErrors.Count(),
	}
	e.stateMu.Unlock()
	e.collab.Health.UpdatePoolStatus(e.cfg.PoolID, status)
}

func (e *Engine) notify(ctx context.Context, message string) {
	if e.collab.Notifier == nil {
		return
	}
	if err := e.collab.Notifier.Notify(ctx, message); err != nil {
		e.logger.Warn("notifier failed", zap.Error(err))
	}
}

// tryLock acquires the rebalance lock without blocking, reporting
// whether it succeeded. A held lock silently drops the caller per §5.
func (e *Engine) tryLock() bool {
	return e.lockMu.TryLock()
}

func (e *Engine) unlock() {
	e.lockMu.Unlock()
}

// Initialize restores persisted state, resolves any crash-boundary
// recovery, adopts orphaned on-chain positions if the ledger is
// otherwise empty, ensures token approvals, and transitions to
// Monitoring. Idempotent: calling it again without an intervening
// state change repeats only its approvals/queries.
func (e *Engine) Initialize(ctx context.Context) error {
	if !e.tryLock() {
		return nil
	}
	defer e.unlock()

	if e.collab.Pool != nil {
		onChain0, onChain1, err := e.collab.Pool.PoolTokens(ctx, e.cfg.PoolAddress)
		if err != nil {
			return fmt.Errorf("engine: verify pool tokens: %w", err)
		}
		if !strings.EqualFold(onChain0, e.cfg.Token0) || !strings.EqualFold(onChain1, e.cfg.Token1) {
			return fmt.Errorf("%w: configured token0/token1 do not match on-chain pool %s (token0=%s token1=%s)",
				ErrValidation, e.cfg.PoolAddress, onChain0, onChain1)
		}
	}

	persisted, found, err := e.collab.Persistence.GetPoolState(e.cfg.PoolID)
	if err != nil {
		return fmt.Errorf("engine: load pool state: %w", err)
	}

	if found && len(persisted.Bands) > 0 && persisted.RebalanceStage == StageNone {
		bands := make([]band.Band, len(persisted.Bands))
		for i, pb := range persisted.Bands {
			bands[i] = bandFromPersisted(pb, i)
		}
		if err := e.ledger.AdoptPartial(bands, persisted.BandTickWidth); err != nil {
			return fmt.Errorf("engine: restore ledger: %w", err)
		}
		e.lastRebalanceMs = persisted.LastRebalanceTimeMs
		e.initialValueUsd = persisted.InitialValueUsd
	}

	if found {
		for _, txHash := range persisted.PendingTxHashes {
			e.checkPendingReceipt(ctx, txHash)
		}
	}

	if found && persisted.RebalanceStage != StageNone {
		e.performCrashRecovery(ctx, persisted)
	} else if e.ledger.IsEmpty() {
		e.adoptExistingPositions(ctx)
	}

	if err := e.collab.Nft.Approve(ctx, e.cfg.Token0, e.cfg.Token1); err != nil {
		return fmt.Errorf("engine: approve nft manager: %w", err)
	}
	if err := e.collab.Router.Approve(ctx, e.cfg.Token0, e.cfg.Token1); err != nil {
		return fmt.Errorf("engine: approve swap router: %w", err)
	}

	e.setState(Monitoring)
	return nil
}

func (e *Engine) checkPendingReceipt(ctx context.Context, txHash string) {
	if e.collab.Receipts == nil {
		e.logger.Info("pending tx from prior run, no receipt checker configured", zap.String("tx", txHash))
		return
	}
	found, success, err := e.collab.Receipts.CheckReceipt(ctx, txHash)
	if err != nil {
		e.logger.Warn("checking pending tx receipt", zap.String("tx", txHash), zap.Error(err))
		return
	}
	e.logger.Info("pending tx receipt", zap.String("tx", txHash), zap.Bool("found", found), zap.Bool("success", success))
}

func (e *Engine) performCrashRecovery(ctx context.Context, persisted PersistedPoolState) {
	stage := persisted.RebalanceStage
	e.ledger.Reset()
	e.emergencyStop = false

	cleared := PersistedPoolState{
		LastRebalanceTimeMs: persisted.LastRebalanceTimeMs,
		InitialValueUsd:     persisted.InitialValueUsd,
		RebalanceStage:      StageNone,
	}
	if err := e.collab.Persistence.UpdatePoolState(e.cfg.PoolID, cleared); err != nil {
		e.logger.Error("clearing recovery state failed", zap.Error(err))
	}
	if err := e.collab.Persistence.Save(); err != nil {
		e.logger.Error("saving recovery state failed", zap.Error(err))
	}

	if !e.recoveryNotified {
		e.recoveryNotified = true
		e.notify(ctx, fmt.Sprintf("RECOVERY: pool %s recovering from stage %s", e.cfg.PoolID, stage))
	}
	e.logger.Warn("recovered from crash mid-rebalance, ledger cleared", zap.String("stage", stage.String()))
}

func (e *Engine) adoptExistingPositions(ctx context.Context) {
	positions, err := e.collab.Nft.FindPositionsFor(ctx, e.wallet, e.cfg.Token0, e.cfg.Token1, e.cfg.FeeTier)
	if err != nil {
		e.logger.Warn("querying existing positions failed", zap.Error(err))
		return
	}
	var bands []band.Band
	for i, p := range positions {
		if p.Liquidity == nil || p.Liquidity.Sign() == 0 {
			continue
		}
		bands = append(bands, band.Band{Index: i, TokenID: p.TokenID, TickLower: p.TickLower, TickUpper: p.TickUpper})
	}
	if len(bands) == 0 {
		return
	}
	spacing, err := tickmath.FeeToTickSpacing(e.cfg.FeeTier)
	if err != nil {
		e.logger.Warn("cannot infer band width for adopted positions", zap.Error(err))
		return
	}
	width := bands[0].TickUpper - bands[0].TickLower
	if width <= 0 {
		width = spacing
	}
	if err := e.ledger.AdoptPartial(bands, width); err != nil {
		e.logger.Warn("adopting existing positions failed", zap.Error(err))
		return
	}
	e.logger.Info("adopted existing on-chain positions", zap.Int("count", len(bands)))
}

// OnPriceTick is the main event, guarded by the rebalance lock so it
// is non-reentrant. A tick that arrives while a prior tick is still
// being processed is dropped silently.
func (e *Engine) OnPriceTick(ctx context.Context, tick PriceTick) {
	if !e.tryLock() {
		return
	}
	defer e.unlock()

	state := e.State()
	if state != Idle && state != Monitoring {
		return
	}

	if e.cfg.ExpectedPriceRatio > 0 {
		price := tickmath.TickToPrice(tick.Tick)
		result := risk.CheckDepeg(price, e.cfg.ExpectedPriceRatio, e.cfg.depegThreshold())
		if result.Triggered {
			e.logger.Error("depeg detected", zap.Float64("price", price), zap.Float64("deviationPercent", result.DeviationPercent))
			e.notify(ctx, fmt.Sprintf("ALERT: DEPEG price=%.6f deviation=%.2f%%", price, result.DeviationPercent))
			e.emergencyWithdrawLocked(ctx, "depeg")
			return
		}
	}

	if e.ledger.IsEmpty() {
		e.mintInitialBands(ctx, tick.Tick)
		return
	}

	classification := e.ledger.Classify(tick.Tick)
	switch classification {
	case band.Safe, band.NoAction:
		return
	case band.LowerTrigger:
		e.executeBandRebalance(ctx, tick, band.Lower)
	case band.UpperTrigger:
		e.executeBandRebalance(ctx, tick, band.Upper)
	}
}

// Stop asks the engine to halt at the next reachable boundary. It
// does not withdraw liquidity; callers that want that should use
// EmergencyWithdraw.
func (e *Engine) Stop(ctx context.Context) {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	e.emergencyStop = true
	e.setState(Stopped)
	e.notify(ctx, fmt.Sprintf("pool %s stopped", e.cfg.PoolID))
}

func (e *Engine) newCorrelationID() string {
	return uuid.NewString()
}

// handleFailure applies the consecutive-error budget: gate skips never
// count against it, and any success resets it. Returns true if the
// engine tripped into Error and an emergency stop was triggered.
func (e *Engine) handleFailure(ctx context.Context, err error) bool {
	if errors.Is(err, ErrGateSkip) {
		e.logger.Info("gate skip", zap.Error(err))
		e.setState(Monitoring)
		return false
	}

	tripped := e.consecutiveErrors.RecordFailure()
	e.logger.Error("rebalance step failed", zap.Error(err), zap.Int("consecutiveErrors", e.consecutiveErrors.Count()))
	if !tripped {
		e.setState(Monitoring)
		return false
	}

	e.setState(Error)
	e.notify(ctx, fmt.Sprintf("ALERT: pool %s stopped after %d errors", e.cfg.PoolID, risk.ConsecutiveErrorLimit))
	e.emergencyWithdrawLocked(ctx, "consecutive errors")
	return true
}
