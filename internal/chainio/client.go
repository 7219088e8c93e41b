// Package chainio adapts the engine's collaborator interfaces
// (NftPositionManager, SwapRouter, GasOracle, BalanceReader) to a live
// EVM chain via go-ethereum, wrapped with a circuit breaker and an
// outbound rate limiter so a flaky RPC provider fails fast instead of
// hammering the node.
package chainio

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rangekeeper/rangekeeper/internal/engine"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// RPCClient wraps an ethclient connection with a circuit breaker and a
// token-bucket limiter on the outbound rate, so once the breaker opens a
// provider rate-limit or outage surfaces as engine.ErrTransientChain
// rather than a goroutine storm of retries. The breaker covers
// CallContract, SuggestGasPrice, SuggestGasTipCap, HeaderByNumber and
// the broadcast in sendSigned; sendSigned's nonce, fee, head and gas
// estimate lookups and its wait for the receipt, CheckReceipt and
// SubscribeFilterLogs go to the node without it.
type RPCClient struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	chainID   *big.Int

	signer     *ecdsa.PrivateKey
	signerAddr common.Address

	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// Config configures a new RPCClient.
type Config struct {
	RPCURL          string
	PrivateKeyHex   string // hex-encoded, without a 0x prefix
	RequestsPerSec  float64
	BreakerName     string
	BreakerMaxFails uint32
}

// NewRPCClient dials rpcURL and derives the signer address from the
// configured private key.
func NewRPCClient(ctx context.Context, cfg Config) (*RPCClient, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chainio: dial rpc: %w", err)
	}
	ethClient := ethclient.NewClient(rpcClient)

	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chainio: fetch chain id: %w", err)
	}

	key, err := crypto.HexToECDSA(cfg.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("chainio: parse private key: %w", err)
	}

	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}
	maxFails := cfg.BreakerMaxFails
	if maxFails == 0 {
		maxFails = 5
	}
	name := cfg.BreakerName
	if name == "" {
		name = "chainio-rpc"
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFails
		},
	})

	return &RPCClient{
		rpcClient:  rpcClient,
		ethClient:  ethClient,
		chainID:    chainID,
		signer:     key,
		signerAddr: crypto.PubkeyToAddress(key.PublicKey),
		breaker:    breaker,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *RPCClient) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// WalletAddress is the address transactions are signed and sent from.
func (c *RPCClient) WalletAddress() common.Address {
	return c.signerAddr
}

func (c *RPCClient) throttle(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("chainio: rate limiter: %w", err)
	}
	return nil
}

// call runs fn through the rate limiter and circuit breaker, wrapping
// a breaker-open rejection as a transient chain error the engine's
// consecutive-error budget can reason about.
func (c *RPCClient) call(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	result, err := c.breaker.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: chainio: circuit open: %w", engine.ErrTransientChain, err)
		}
		return nil, err
	}
	return result, nil
}

// CallContract performs an eth_call.
func (c *RPCClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	out, err := c.call(ctx, func() (interface{}, error) {
		return c.ethClient.CallContract(ctx, msg, blockNumber)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// SuggestGasPrice returns the node's current suggested gas price.
func (c *RPCClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, func() (interface{}, error) {
		return c.ethClient.SuggestGasPrice(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.(*big.Int), nil
}

// SuggestGasTipCap returns the node's current suggested EIP-1559 tip.
func (c *RPCClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, func() (interface{}, error) {
		return c.ethClient.SuggestGasTipCap(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.(*big.Int), nil
}

// sendSigned signs and broadcasts a contract call as a transaction,
// then waits for it to be mined and returns its hash.
func (c *RPCClient) sendSigned(ctx context.Context, to common.Address, value *big.Int, data []byte) (string, error) {
	if err := c.throttle(ctx); err != nil {
		return "", err
	}

	nonce, err := c.ethClient.PendingNonceAt(ctx, c.signerAddr)
	if err != nil {
		return "", fmt.Errorf("chainio: pending nonce: %w", err)
	}
	gasTip, err := c.ethClient.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("chainio: suggest tip: %w", err)
	}
	head, err := c.ethClient.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("chainio: fetch head: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	gasFeeCap := new(big.Int).Add(gasTip, new(big.Int).Mul(baseFee, big.NewInt(2)))

	callMsg := ethereum.CallMsg{From: c.signerAddr, To: &to, Value: value, Data: data}
	gasLimit, err := c.ethClient.EstimateGas(ctx, callMsg)
	if err != nil {
		return "", fmt.Errorf("chainio: estimate gas: %w", err)
	}
	gasLimit = gasLimit * 12 / 10 // 20% headroom for state drift between estimate and inclusion

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: gasTip,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.signer)
	if err != nil {
		return "", fmt.Errorf("chainio: sign tx: %w", err)
	}

	if _, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.ethClient.SendTransaction(ctx, signed)
	}); err != nil {
		return "", fmt.Errorf("chainio: send tx: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.ethClient, signed)
	if err != nil {
		return signed.Hash().Hex(), fmt.Errorf("chainio: wait mined: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return signed.Hash().Hex(), fmt.Errorf("chainio: tx reverted: %s", signed.Hash().Hex())
	}
	return signed.Hash().Hex(), nil
}

// SubscribeFilterLogs subscribes to logs matching query over a
// websocket connection. Callers on an HTTP-only RPC URL get
// rpc.ErrNotificationsUnsupported and should fall back to polling.
func (c *RPCClient) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return c.ethClient.SubscribeFilterLogs(ctx, query, ch)
}

// HeaderByNumber returns the block header for number, or the latest
// head if number is nil.
func (c *RPCClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	out, err := c.call(ctx, func() (interface{}, error) {
		return c.ethClient.HeaderByNumber(ctx, number)
	})
	if err != nil {
		return nil, err
	}
	return out.(*types.Header), nil
}

// CheckReceipt implements engine.ReceiptChecker: a non-blocking lookup
// of a transaction's mined status.
func (c *RPCClient) CheckReceipt(ctx context.Context, txHash string) (found bool, success bool, err error) {
	receipt, err := c.ethClient.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if err == ethereum.NotFound {
			return false, false, nil
		}
		return false, false, fmt.Errorf("chainio: fetch receipt: %w", err)
	}
	return true, receipt.Status == types.ReceiptStatusSuccessful, nil
}
