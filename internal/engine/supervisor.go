package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// registration pairs one pool's engine with its price feed.
type registration struct {
	engine *Engine
	source PriceSource
}

// Supervisor owns one Engine per configured pool. Engines share
// nothing but the persistence file each writes its own key into; the
// Supervisor's only job is wiring each pool's PriceSource into its
// engine and coordinating graceful shutdown across all of them.
type Supervisor struct {
	logger *zap.Logger

	mu    sync.RWMutex
	pools map[string]registration

	wg sync.WaitGroup
}

// NewSupervisor returns an empty Supervisor.
func NewSupervisor(logger *zap.Logger) *Supervisor {
	return &Supervisor{
		logger: logger,
		pools:  make(map[string]registration),
	}
}

// Register adds a pool's engine and price feed. Must be called before
// Run.
func (s *Supervisor) Register(poolID string, e *Engine, source PriceSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[poolID] = registration{engine: e, source: source}
}

// EngineFor returns the engine registered for poolID, if any.
func (s *Supervisor) EngineFor(poolID string) (*Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.pools[poolID]
	return reg.engine, ok
}

// Run initializes every registered engine, subscribes to its price
// feed, and fans ticks into that engine until ctx is canceled. It
// blocks until every pool's feed goroutine has returned.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.RLock()
	regs := make(map[string]registration, len(s.pools))
	for id, r := range s.pools {
		regs[id] = r
	}
	s.mu.RUnlock()

	for poolID, reg := range regs {
		if err := reg.engine.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize pool %s: %w", poolID, err)
		}
	}

	for poolID, reg := range regs {
		ticks, err := reg.source.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribe pool %s: %w", poolID, err)
		}
		s.wg.Add(1)
		go s.runPool(ctx, poolID, reg.engine, ticks)
	}

	s.wg.Wait()
	return nil
}

func (s *Supervisor) runPool(ctx context.Context, poolID string, e *Engine, ticks <-chan PriceTick) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			e.Stop(context.Background())
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			e.OnPriceTick(ctx, tick)
		}
	}
}

// StopAll asks every registered engine to stop and waits up to
// timeout for their feed goroutines to exit.
func (s *Supervisor) StopAll(timeout time.Duration) {
	s.mu.RLock()
	regs := make(map[string]registration, len(s.pools))
	for id, r := range s.pools {
		regs[id] = r
	}
	s.mu.RUnlock()

	for _, reg := range regs {
		reg.engine.Stop(context.Background())
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("supervisor shutdown timed out waiting for pool goroutines")
	}
}
