package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rangekeeper/rangekeeper/internal/chainio"
	"github.com/rangekeeper/rangekeeper/internal/config"
	"github.com/rangekeeper/rangekeeper/internal/engine"
	"github.com/rangekeeper/rangekeeper/internal/notify"
	"github.com/rangekeeper/rangekeeper/internal/persistence"
)

func runWithdraw(cmd *cobra.Command, args []string) error {
	poolID := args[0]
	reason, _ := cmd.Flags().GetString("reason")

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	var poolCfg *engine.PoolConfig
	for _, p := range cfg.Pools {
		if p.PoolID == poolID {
			converted := p.ToEngine()
			poolCfg = &converted
			break
		}
	}
	if poolCfg == nil {
		return fmt.Errorf("pool %q not found in config", poolID)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()

	rpcClient, err := chainio.NewRPCClient(ctx, chainio.Config{
		RPCURL:          cfg.RPCURL,
		PrivateKeyHex:   cfg.PrivateKeyHex,
		RequestsPerSec:  cfg.RequestsPerSec,
		BreakerName:     "rangekeeper-withdraw",
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

	e := engine.NewEngine(*poolCfg, rpcClient.WalletAddress().Hex(), logger, engine.Collaborators{
		Nft:         chainio.NewNftManager(rpcClient, cfg.NftManagerAddress),
		Router:      chainio.NewSwapRouterAdapter(rpcClient, cfg.SwapRouterAddress, cfg.QuoterAddress),
		Gas:         chainio.NewGasOracleAdapter(rpcClient),
		Balances:    chainio.NewERC20(rpcClient),
		Persistence: store,
		History:     historyLog,
		Notifier:    notify.NewWebhookNotifier(cfg.WebhookURL, logger),
		Receipts:    rpcClient,
		Pool:        chainio.NewPoolInspector(rpcClient),
	})

	if err := e.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize pool %s: %w", poolID, err)
	}

	e.EmergencyWithdraw(ctx, reason)
	fmt.Printf("emergency withdraw issued for pool %s: %s\n", poolID, reason)
	return nil
}
