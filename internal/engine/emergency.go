package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// EmergencyWithdraw is the operator-triggered entry point (e.g. the
// CLI's withdraw command): it acquires the rebalance lock itself
// before delegating to the same withdraw-everything procedure the
// engine uses internally for depeg and loss-limit trips.
func (e *Engine) EmergencyWithdraw(ctx context.Context, reason string) {
	if !e.tryLock() {
		return
	}
	defer e.unlock()
	e.emergencyWithdrawLocked(ctx, reason)
}

// emergencyWithdrawLocked assumes the rebalance lock is already held
// by the caller (OnPriceTick's depeg path, handleFailure's trip path,
// or the post-rebalance portfolio-loss path).
func (e *Engine) emergencyWithdrawLocked(ctx context.Context, reason string) {
	e.emergencyStop = true
	e.setState(Withdrawing)

	bands := e.ledger.Bands()
	closed := 0
	anyFailure := false

	for _, b := range bands {
		position, err := e.collab.Nft.GetPosition(ctx, b.TokenID)
		if err != nil {
			e.logger.Error("emergency withdraw: get position failed", zap.String("tokenId", b.TokenID), zap.Error(err))
			anyFailure = true
			continue
		}
		if position.Liquidity != nil && position.Liquidity.Sign() > 0 {
			if _, err := e.collab.Nft.RemovePosition(ctx, b.TokenID, position.Liquidity, e.cfg.SlippageTolerancePercent); err != nil {
				e.logger.Error("emergency withdraw: remove position failed", zap.String("tokenId", b.TokenID), zap.Error(err))
				anyFailure = true
				continue
			}
		}
		if _, err := e.ledger.Remove(b.TokenID); err != nil {
			e.logger.Error("emergency withdraw: ledger remove failed", zap.String("tokenId", b.TokenID), zap.Error(err))
			anyFailure = true
			continue
		}
		closed++
	}

	e.ledger.Reset()
	e.finalizePersist(ctx)
	e.appendHistory(ctx, HistoryEvent{
		Kind:         HistoryEmergencyStop,
		Direction:    reason,
		OccurredAtMs: nowMs(),
	})

	if anyFailure {
		e.logger.Error("emergency withdraw completed with failures, manual intervention required", zap.String("reason", reason))
		e.notify(ctx, fmt.Sprintf("CRITICAL: Emergency withdraw FAILED for pool %s (reason=%s), manual intervention required", e.cfg.PoolID, reason))
	} else {
		e.notify(ctx, fmt.Sprintf("EMERGENCY: All %d bands closed for pool %s (reason=%s)", closed, e.cfg.PoolID, reason))
	}

	e.setState(Stopped)
}
