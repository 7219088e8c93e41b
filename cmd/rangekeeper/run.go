package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rangekeeper/rangekeeper/internal/chainio"
	"github.com/rangekeeper/rangekeeper/internal/config"
	"github.com/rangekeeper/rangekeeper/internal/engine"
	"github.com/rangekeeper/rangekeeper/internal/health"
	"github.com/rangekeeper/rangekeeper/internal/history"
	"github.com/rangekeeper/rangekeeper/internal/notify"
	"github.com/rangekeeper/rangekeeper/internal/persistence"
	"github.com/rangekeeper/rangekeeper/internal/priceapi"
)

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if len(cfg.Pools) == 0 {
		return fmt.Errorf("at least one pool must be configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rpcClient, err := chainio.NewRPCClient(ctx, chainio.Config{
		RPCURL:          cfg.RPCURL,
		PrivateKeyHex:   cfg.PrivateKeyHex,
		RequestsPerSec:  cfg.RequestsPerSec,
		BreakerName:     "rangekeeper-rpc",
		BreakerMaxFails: cfg.BreakerMaxFails,
	})
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer rpcClient.Close()

	store, err := persistence.NewFileStore(cfg.StateFilePath)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}

	historyLog, closeHistory, err := buildHistoryLog(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeHistory()

	notifier := notify.NewWebhookNotifier(cfg.WebhookURL, logger)
	healthSurface := health.NewSurface(health.Config{Addr: cfg.HealthAddr}, logger)
	go func() {
		if err := healthSurface.Start(ctx); err != nil {
			logger.Warn("health server exited", zap.Error(err))
		}
	}()

	nftManager := chainio.NewNftManager(rpcClient, cfg.NftManagerAddress)
	swapRouter := chainio.NewSwapRouterAdapter(rpcClient, cfg.SwapRouterAddress, cfg.QuoterAddress)
	gasOracle := chainio.NewGasOracleAdapter(rpcClient)
	erc20 := chainio.NewERC20(rpcClient)
	poolInspector := chainio.NewPoolInspector(rpcClient)

	usdFeed := priceapi.NewUsdFeed(cfg.UsdFeedURL, cfg.UsdFeedProductID, logger)
	go usdFeed.Run(ctx)

	supervisor := engine.NewSupervisor(logger)
	wallet := rpcClient.WalletAddress().Hex()

	for _, p := range cfg.Pools {
		poolCfg := p.ToEngine()

		if err := nftManager.Approve(ctx, poolCfg.Token0, poolCfg.Token1); err != nil {
			return fmt.Errorf("approve nft manager for pool %s: %w", poolCfg.PoolID, err)
		}
		if err := swapRouter.Approve(ctx, poolCfg.Token0, poolCfg.Token1); err != nil {
			return fmt.Errorf("approve swap router for pool %s: %w", poolCfg.PoolID, err)
		}

		e := engine.NewEngine(poolCfg, wallet, logger, engine.Collaborators{
			Nft:         nftManager,
			Router:      swapRouter,
			Gas:         gasOracle,
			Balances:    erc20,
			Persistence: store,
			History:     historyLog,
			Notifier:    notifier,
			Health:      healthSurface,
			Receipts:    rpcClient,
			Pool:        poolInspector,
			Prices:      usdFeed,
		})

		watcher := priceapi.NewPoolWatcher(rpcClient, poolCfg.PoolAddress, cfg.PollInterval)
		supervisor.Register(poolCfg.PoolID, e, watcher)

		logger.Info("pool registered",
			zap.String("pool", poolCfg.PoolID),
			zap.Uint32("fee_tier", poolCfg.FeeTier),
			zap.Float64("range_width_percent", poolCfg.RangeWidthPercent),
		)
	}

	logger.Info("rangekeeper starting", zap.Int("pools", len(cfg.Pools)), zap.String("health_addr", cfg.HealthAddr))
	return supervisor.Run(ctx)
}

// buildHistoryLog picks Postgres when a DSN is configured, otherwise
// the JSONL fallback; the returned close func is always safe to call.
func buildHistoryLog(ctx context.Context, cfg config.Config) (engine.HistoryLog, func(), error) {
	if cfg.HistoryDSN != "" {
		pg, err := history.NewPostgresLog(ctx, cfg.HistoryDSN)
		if err != nil {
			return nil, func() {}, fmt.Errorf("connect history postgres: %w", err)
		}
		return pg, pg.Close, nil
	}
	return history.NewJsonlLog(cfg.HistoryJsonlPath), func() {}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
