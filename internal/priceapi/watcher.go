// Package priceapi implements engine.PriceSource against a live
// Uniswap V3 pool: a websocket log subscription on the pool's Swap
// event, falling back to polling slot0 when the RPC endpoint has no
// subscription support, mirroring the teacher's dex.V3PoolDecoder
// event-unpacking approach but consuming go-ethereum's own
// ethereum.FilterQuery/types.Log instead of the indexer's LogRecord.
package priceapi

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/rangekeeper/rangekeeper/internal/chainio"
	"github.com/rangekeeper/rangekeeper/internal/engine"
)

// PoolWatcher implements engine.PriceSource for one pool address.
type PoolWatcher struct {
	client       *chainio.RPCClient
	pool         common.Address
	pollInterval time.Duration
}

// sendLatest delivers tick to out without ever blocking the producer:
// if a stale tick is still sitting in the capacity-1 channel it is
// dropped in favor of the newer one, so a slow consumer only ever sees
// the most recent price.
func sendLatest(ctx context.Context, out chan engine.PriceTick, tick engine.PriceTick) {
	for {
		select {
		case out <- tick:
			return
		case <-ctx.Done():
			return
		default:
			select {
			case <-out:
			default:
			}
		}
	}
}

// NewPoolWatcher returns a PoolWatcher for poolAddress. pollInterval
// governs the polling fallback; zero selects a 5 second default.
func NewPoolWatcher(client *chainio.RPCClient, poolAddress string, pollInterval time.Duration) *PoolWatcher {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &PoolWatcher{
		client:       client,
		pool:         common.HexToAddress(poolAddress),
		pollInterval: pollInterval,
	}
}

// Subscribe implements engine.PriceSource. It tries a live log
// subscription first; if the endpoint rejects eth_subscribe (a plain
// HTTP RPC URL, for instance) it falls back to polling slot0.
func (w *PoolWatcher) Subscribe(ctx context.Context) (<-chan engine.PriceTick, error) {
	parsedABI, err := poolABIInstance()
	if err != nil {
		return nil, fmt.Errorf("priceapi: load pool abi: %w", err)
	}
	swapEvent := parsedABI.Events["Swap"]

	logs := make(chan types.Log, 32)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{w.pool},
		Topics:    [][]common.Hash{{swapEvent.ID}},
	}
	sub, err := w.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return w.pollLoop(ctx)
	}

	out := make(chan engine.PriceTick, 1)
	go func() {
		defer sub.Unsubscribe()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case subErr := <-sub.Err():
				if subErr != nil {
					fallback, ferr := w.pollLoop(ctx)
					if ferr == nil {
						for tick := range fallback {
							sendLatest(ctx, out, tick)
						}
					}
				}
				return
			case log := <-logs:
				tick, err := decodeSwapTick(swapEvent, log)
				if err != nil {
					continue
				}
				sendLatest(ctx, out, tick)
			}
		}
	}()
	return out, nil
}

// pollLoop periodically reads slot0 and liquidity() when no
// subscription is available.
func (w *PoolWatcher) pollLoop(ctx context.Context) (<-chan engine.PriceTick, error) {
	out := make(chan engine.PriceTick, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick, err := w.readSlot0(ctx)
				if err != nil {
					continue
				}
				sendLatest(ctx, out, tick)
			}
		}
	}()
	return out, nil
}

func (w *PoolWatcher) readSlot0(ctx context.Context) (engine.PriceTick, error) {
	parsedABI, err := poolABIInstance()
	if err != nil {
		return engine.PriceTick{}, err
	}

	slot0Data, err := parsedABI.Pack("slot0")
	if err != nil {
		return engine.PriceTick{}, fmt.Errorf("priceapi: pack slot0: %w", err)
	}
	slot0Out, err := w.client.CallContract(ctx, ethereum.CallMsg{To: &w.pool, Data: slot0Data}, nil)
	if err != nil {
		return engine.PriceTick{}, fmt.Errorf("priceapi: call slot0: %w", err)
	}
	slot0Values, err := parsedABI.Unpack("slot0", slot0Out)
	if err != nil {
		return engine.PriceTick{}, fmt.Errorf("priceapi: unpack slot0: %w", err)
	}
	if len(slot0Values) < 2 {
		return engine.PriceTick{}, fmt.Errorf("priceapi: unexpected slot0 shape")
	}
	sqrtPrice, ok := slot0Values[0].(*big.Int)
	if !ok {
		return engine.PriceTick{}, fmt.Errorf("priceapi: sqrtPriceX96 not a big.Int")
	}
	tickValue, err := asInt24(slot0Values[1])
	if err != nil {
		return engine.PriceTick{}, err
	}

	liquidityData, err := parsedABI.Pack("liquidity")
	if err != nil {
		return engine.PriceTick{}, fmt.Errorf("priceapi: pack liquidity: %w", err)
	}
	liquidityOut, err := w.client.CallContract(ctx, ethereum.CallMsg{To: &w.pool, Data: liquidityData}, nil)
	liquidity := big.NewInt(0)
	if err == nil {
		if values, uerr := parsedABI.Unpack("liquidity", liquidityOut); uerr == nil && len(values) == 1 {
			if l, ok := values[0].(*big.Int); ok {
				liquidity = l
			}
		}
	}

	return engine.PriceTick{
		Tick:        tickValue,
		SqrtPrice:   sqrtPrice,
		Liquidity:   liquidity,
		TimestampMs: nowMs(),
	}, nil
}

// decodeSwapTick extracts sqrtPriceX96, liquidity and tick from a raw
// Swap log's non-indexed data, ignoring the indexed sender/recipient.
func decodeSwapTick(event abi.Event, log types.Log) (engine.PriceTick, error) {
	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return engine.PriceTick{}, fmt.Errorf("priceapi: unpack swap: %w", err)
	}
	if len(values) != 5 {
		return engine.PriceTick{}, fmt.Errorf("priceapi: unexpected swap field count: %d", len(values))
	}
	sqrtPrice, ok := values[2].(*big.Int)
	if !ok {
		return engine.PriceTick{}, fmt.Errorf("priceapi: sqrtPriceX96 not a big.Int")
	}
	liquidity, ok := values[3].(*big.Int)
	if !ok {
		return engine.PriceTick{}, fmt.Errorf("priceapi: liquidity not a big.Int")
	}
	tickValue, err := asInt24(values[4])
	if err != nil {
		return engine.PriceTick{}, err
	}
	return engine.PriceTick{
		Tick:        tickValue,
		SqrtPrice:   sqrtPrice,
		Liquidity:   liquidity,
		TimestampMs: nowMs(),
	}, nil
}
