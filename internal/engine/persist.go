package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// snapshotPersistedState builds the durable representation of the
// current ledger plus an in-flight checkpoint marker.
func (e *Engine) snapshotPersistedState(stage RebalanceStage, pendingHashes []string) PersistedPoolState {
	bands := e.ledger.Bands()
	persistedBands := make([]PersistedBand, len(bands))
	for i, b := range bands {
		persistedBands[i] = bandToPersisted(b)
	}
	return PersistedPoolState{
		Bands:               persistedBands,
		BandTickWidth:       e.ledger.BandTickWidth(),
		LastRebalanceTimeMs: e.lastRebalanceMs,
		RebalanceStage:      stage,
		PendingTxHashes:     pendingHashes,
		InitialValueUsd:     e.initialValueUsd,
	}
}

// checkpointOrThrow writes an intermediate rebalance checkpoint using
// the fail-fast path: a write failure here aborts the rebalance
// before the next chain call is issued.
func (e *Engine) checkpointOrThrow(ctx context.Context, stage RebalanceStage, pendingHashes []string) error {
	state := e.snapshotPersistedState(stage, pendingHashes)
	if err := e.collab.Persistence.UpdatePoolState(e.cfg.PoolID, state); err != nil {
		return fmt.Errorf("checkpoint stage %s: %w", stage, err)
	}
	if err := e.collab.Persistence.SaveOrThrow(); err != nil {
		return fmt.Errorf("checkpoint stage %s: %w", stage, err)
	}
	return nil
}

// finalizePersist clears the checkpoint and writes the terminal state
// via the lossy path: a lost write here just re-triggers recovery on
// the next boot, which is safe.
func (e *Engine) finalizePersist(ctx context.Context) {
	state := e.snapshotPersistedState(StageNone, nil)
	if err := e.collab.Persistence.UpdatePoolState(e.cfg.PoolID, state); err != nil {
		e.logger.Warn("finalize persist: update pool state failed", zap.Error(err))
		return
	}
	if err := e.collab.Persistence.Save(); err != nil {
		e.logger.Warn("finalize persist: save failed", zap.Error(err))
	}
}

func hashesFrom(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
