package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/rangekeeper/rangekeeper/internal/band"
	"github.com/rangekeeper/rangekeeper/internal/risk"
	"github.com/rangekeeper/rangekeeper/internal/swapplan"
	"github.com/rangekeeper/rangekeeper/internal/tickmath"
	"github.com/rangekeeper/rangekeeper/internal/valuation"
)

// mintInitialBands lays out and mints all seven bands from scratch.
// Called from OnPriceTick while the rebalance lock is already held.
func (e *Engine) mintInitialBands(ctx context.Context, tick int) {
	correlationID := e.newCorrelationID()
	logger := e.logger.With(zap.String("correlationId", correlationID))

	layout, err := tickmath.ComputeLayout(tick, e.cfg.RangeWidthPercent, e.cfg.FeeTier)
	if err != nil {
		e.handleFailure(ctx, fmt.Errorf("%w: compute layout: %v", ErrValidation, err))
		return
	}

	e.setState(Evaluating)

	bal0, err := e.collab.Balances.BalanceOf(ctx, e.cfg.Token0, e.wallet)
	if err != nil {
		e.handleFailure(ctx, fmt.Errorf("read balance0: %w", err))
		return
	}
	bal1, err := e.collab.Balances.BalanceOf(ctx, e.cfg.Token1, e.wallet)
	if err != nil {
		e.handleFailure(ctx, fmt.Errorf("read balance1: %w", err))
		return
	}

	price := tickmath.TickToPrice(tick)
	entryValue := valuation.PortfolioValue(toFloat(bal0, e.cfg.Decimals0), toFloat(bal1, e.cfg.Decimals1), price)

	e.setState(Minting)
	remaining0, remaining1 := new(big.Int).Set(bal0), new(big.Int).Set(bal1)
	bands := make([]band.Band, 0, tickmath.NumBands)

	for i := 0; i < tickmath.NumBands; i++ {
		divisor := int64(tickmath.NumBands - i)
		params := MintParams{
			Token0:      e.cfg.Token0,
			Token1:      e.cfg.Token1,
			FeeTier:     e.cfg.FeeTier,
			TickLower:   layout.Bands[i].TickLower,
			TickUpper:   layout.Bands[i].TickUpper,
			Amount0Want: share(remaining0, divisor),
			Amount1Want: share(remaining1, divisor),
			SlippagePct: e.cfg.SlippageTolerancePercent,
		}
		result, err := e.collab.Nft.Mint(ctx, params)
		if err != nil {
			e.handleFailure(ctx, fmt.Errorf("mint initial band %d: %w", i, err))
			return
		}
		remaining0 = subOrZero(remaining0, result.Amount0)
		remaining1 = subOrZero(remaining1, result.Amount1)
		bands = append(bands, band.Band{TokenID: result.TokenID, TickLower: layout.Bands[i].TickLower, TickUpper: layout.Bands[i].TickUpper})
	}

	if err := e.ledger.SetBands(bands, layout.BandTickWidth); err != nil {
		e.handleFailure(ctx, fmt.Errorf("%w: %v", ErrValidation, err))
		return
	}

	if e.initialValueUsd == 0 {
		e.initialValueUsd = entryValue
	}
	e.lastRebalanceMs = nowMs()
	e.consecutiveErrors.RecordSuccess()

	e.finalizePersist(ctx)
	e.appendHistory(ctx, HistoryEvent{
		Kind:          HistoryMint,
		Bands:         persistedBandsOf(e.ledger),
		CorrelationID: correlationID,
		OccurredAtMs:  e.lastRebalanceMs,
	})
	logger.Info("minted initial bands", zap.Int("count", len(bands)))
	e.notify(ctx, fmt.Sprintf("MINT: pool %s minted %d bands", e.cfg.PoolID, len(bands)))
	e.setState(Monitoring)
}

// executeBandRebalance dissolves the band on the trigger side, swaps
// the freed balance, and mints a replacement band ahead of the price
// drift. Called from OnPriceTick while the rebalance lock is held.
func (e *Engine) executeBandRebalance(ctx context.Context, tick PriceTick, dir band.Direction) {
	correlationID := e.newCorrelationID()
	logger := e.logger.With(zap.String("correlationId", correlationID), zap.String("direction", dir.String()))

	now := nowMs()
	if e.emergencyStop || (e.lastRebalanceMs > 0 && now-e.lastRebalanceMs < e.cfg.minRebalanceInterval().Milliseconds()) {
		e.handleFailure(ctx, fmt.Errorf("min interval or emergency stop: %w", ErrGateSkip))
		return
	}

	e.setState(Evaluating)
	if info, err := e.collab.Gas.GetGasInfo(ctx); err == nil {
		e.gasBaseline.Observe(info.GasPriceGwei)
		// Trigger-band entries are always treated as out of range, so
		// the gas gate is consulted for its baseline update and log
		// signal only; it never actually skips a triggered rebalance.
		if risk.ShouldSkipForGas(e.gasBaseline, risk.GasInfo{GasPriceGwei: info.GasPriceGwei, IsEip1559: info.IsEip1559}, e.ethPriceUSD(), e.cfg.MaxGasCostUsd, false) {
			logger.Info("gas gate would skip an in-range rebalance; proceeding because the position is out of range")
		}
	} else {
		logger.Warn("gas oracle read failed", zap.Error(err))
	}

	bal0, err := e.collab.Balances.BalanceOf(ctx, e.cfg.Token0, e.wallet)
	if err != nil {
		e.handleFailure(ctx, fmt.Errorf("read balance0: %w", err))
		return
	}
	bal1, err := e.collab.Balances.BalanceOf(ctx, e.cfg.Token1, e.wallet)
	if err != nil {
		e.handleFailure(ctx, fmt.Errorf("read balance1: %w", err))
		return
	}
	price := tickmath.TickToPrice(tick.Tick)
	preValue := valuation.PortfolioValue(toFloat(bal0, e.cfg.Decimals0), toFloat(bal1, e.cfg.Decimals1), price)

	e.setState(Withdrawing)
	dissolve, err := e.ledger.BandToDissolve(dir)
	if err != nil {
		e.handleFailure(ctx, fmt.Errorf("%w: %v", ErrValidation, err))
		return
	}

	var withdrawHashes []string
	position, err := e.collab.Nft.GetPosition(ctx, dissolve.TokenID)
	if err != nil {
		e.handleFailure(ctx, fmt.Errorf("get position %s: %w", dissolve.TokenID, err))
		return
	}
	if position.Liquidity != nil && position.Liquidity.Sign() > 0 {
		removeResult, err := e.collab.Nft.RemovePosition(ctx, dissolve.TokenID, position.Liquidity, e.cfg.SlippageTolerancePercent)
		if err != nil {
			e.handleFailure(ctx, fmt.Errorf("remove position %s: %w", dissolve.TokenID, err))
			return
		}
		withdrawHashes = hashesFrom(removeResult.TxHashes.Decrease, removeResult.TxHashes.Collect, removeResult.TxHashes.Burn)
	}
	if _, err := e.ledger.Remove(dissolve.TokenID); err != nil {
		e.handleFailure(ctx, fmt.Errorf("%w: %v", ErrValidation, err))
		return
	}
	if err := e.checkpointOrThrow(ctx, StageWithdrawn, withdrawHashes); err != nil {
		e.handleFailure(ctx, err)
		return
	}

	e.setState(Swapping)
	bal0, err = e.collab.Balances.BalanceOf(ctx, e.cfg.Token0, e.wallet)
	if err != nil {
		e.handleFailure(ctx, fmt.Errorf("read balance0: %w", err))
		return
	}
	bal1, err = e.collab.Balances.BalanceOf(ctx, e.cfg.Token1, e.wallet)
	if err != nil {
		e.handleFailure(ctx, fmt.Errorf("read balance1: %w", err))
		return
	}

	var swapTxHash string
	if plan := swapplan.ForBandRebalance(dir, toFloat(bal0, e.cfg.Decimals0), toFloat(bal1, e.cfg.Decimals1)); plan != nil {
		var result SwapResult
		switch plan.TokenIn {
		case swapplan.Token0:
			result, err = e.collab.Router.ExecuteSwap(ctx, e.cfg.Token0, e.cfg.Token1, e.cfg.FeeTier, bal0, e.cfg.SlippageTolerancePercent)
			if err != nil {
				e.handleFailure(ctx, fmt.Errorf("swap token0->token1: %w", err))
				return
			}
		case swapplan.Token1:
			result, err = e.collab.Router.ExecuteSwap(ctx, e.cfg.Token1, e.cfg.Token0, e.cfg.FeeTier, bal1, e.cfg.SlippageTolerancePercent)
			if err != nil {
				e.handleFailure(ctx, fmt.Errorf("swap token1->token0: %w", err))
				return
			}
		}
		swapTxHash = result.TxHash
	}
	if err := e.checkpointOrThrow(ctx, StageSwapped, hashesFrom(swapTxHash)); err != nil {
		e.handleFailure(ctx, err)
		return
	}

	e.setState(Minting)
	bal0, err = e.collab.Balances.BalanceOf(ctx, e.cfg.Token0, e.wallet)
	if err != nil {
		e.handleFailure(ctx, fmt.Errorf("read balance0: %w", err))
		return
	}
	bal1, err = e.collab.Balances.BalanceOf(ctx, e.cfg.Token1, e.wallet)
	if err != nil {
		e.handleFailure(ctx, fmt.Errorf("read balance1: %w", err))
		return
	}
	newTicks, err := e.ledger.NewBandTicks(dir)
	if err != nil {
		e.handleFailure(ctx, fmt.Errorf("%w: %v", ErrValidation, err))
		return
	}
	mintResult, err := e.collab.Nft.Mint(ctx, MintParams{
		Token0:      e.cfg.Token0,
		Token1:      e.cfg.Token1,
		FeeTier:     e.cfg.FeeTier,
		TickLower:   newTicks.TickLower,
		TickUpper:   newTicks.TickUpper,
		Amount0Want: bal0,
		Amount1Want: bal1,
		SlippagePct: e.cfg.SlippageTolerancePercent,
	})
	if err != nil {
		e.handleFailure(ctx, fmt.Errorf("mint new band: %w", err))
		return
	}
	insertAt := band.End
	if dir == band.Lower {
		insertAt = band.Start
	}
	newBand := band.Band{TokenID: mintResult.TokenID, TickLower: newTicks.TickLower, TickUpper: newTicks.TickUpper}
	if err := e.ledger.Add(newBand, insertAt); err != nil {
		e.handleFailure(ctx, fmt.Errorf("%w: %v", ErrValidation, err))
		return
	}

	e.lastRebalanceMs = nowMs()
	e.consecutiveErrors.RecordSuccess()

	bal0, _ = e.collab.Balances.BalanceOf(ctx, e.cfg.Token0, e.wallet)
	bal1, _ = e.collab.Balances.BalanceOf(ctx, e.cfg.Token1, e.wallet)
	postValue := valuation.PortfolioValue(toFloat(bal0, e.cfg.Decimals0), toFloat(bal1, e.cfg.Decimals1), price)

	stopped := false
	switch {
	case risk.SingleRebalanceLossExceeded(preValue, postValue):
		logger.Error("single rebalance loss exceeded threshold", zap.Float64("preValue", preValue), zap.Float64("postValue", postValue))
		e.notify(ctx, fmt.Sprintf("ALERT: Rebalance loss too high pre=%.6f post=%.6f", preValue, postValue))
		e.setState(Stopped)
		stopped = true
	case e.cfg.MaxTotalLossPercent > 0 && risk.PortfolioLossExceeded(postValue, e.initialValueUsd, e.cfg.MaxTotalLossPercent):
		logger.Error("cumulative portfolio loss exceeded limit", zap.Float64("postValue", postValue), zap.Float64("initialValueUsd", e.initialValueUsd))
		e.notify(ctx, fmt.Sprintf("ALERT: Portfolio loss limit value=%.6f initial=%.6f", postValue, e.initialValueUsd))
		e.emergencyWithdrawLocked(ctx, "portfolio loss")
		stopped = true
	}

	e.finalizePersist(ctx)
	e.appendHistory(ctx, HistoryEvent{
		Kind:          HistoryRebalance,
		Direction:     dir.String(),
		TxHashes:      append(append(withdrawHashes, hashesFrom(swapTxHash)...), mintResult.TxHash),
		Bands:         persistedBandsOf(e.ledger),
		CorrelationID: correlationID,
		OccurredAtMs:  e.lastRebalanceMs,
	})

	if !stopped {
		logger.Info("rebalance complete")
		e.notify(ctx, fmt.Sprintf("REBALANCE: pool %s direction=%s", e.cfg.PoolID, dir))
		e.setState(Monitoring)
	}
}

func (e *Engine) appendHistory(ctx context.Context, event HistoryEvent) {
	if e.collab.History == nil {
		return
	}
	event.PoolID = e.cfg.PoolID
	if err := e.collab.History.Append(ctx, event); err != nil {
		e.logger.Warn("history append failed", zap.Error(err))
	}
}

func persistedBandsOf(l *band.Ledger) []PersistedBand {
	bands := l.Bands()
	out := make([]PersistedBand, len(bands))
	for i, b := range bands {
		out[i] = bandToPersisted(b)
	}
	return out
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
