package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "rangekeeper",
		Short:        "Autonomous concentrated-liquidity range manager",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the rebalance daemon for every configured pool",
		RunE:  runDaemon,
	}
	runCmd.Flags().String("rpc", "", "EVM RPC URL")
	runCmd.Flags().String("private-key", "", "hex-encoded signer private key")
	runCmd.Flags().Float64("requests-per-sec", 10, "outbound RPC rate limit")
	runCmd.Flags().Uint32("breaker-max-fails", 5, "consecutive RPC failures before the circuit opens")
	runCmd.Flags().String("nft-manager-address", "", "Uniswap V3 NonfungiblePositionManager address")
	runCmd.Flags().String("swap-router-address", "", "Uniswap V3 SwapRouter address")
	runCmd.Flags().String("quoter-address", "", "Uniswap V3 Quoter address")
	runCmd.Flags().String("state-file", "./data/state.json", "durable pool-state file path")
	runCmd.Flags().String("history-dsn", "", "Postgres DSN for rebalance history (JSONL fallback if empty)")
	runCmd.Flags().String("history-jsonl", "./data/history.jsonl", "JSONL history fallback path")
	runCmd.Flags().String("webhook-url", "", "webhook URL for notifications")
	runCmd.Flags().String("health-addr", "127.0.0.1:9090", "health/metrics HTTP listen address")
	runCmd.Flags().Duration("poll-interval", 0, "price polling interval when a pool's RPC has no subscription support")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	runCmd.Flags().String("usd-feed-url", "", "public exchange websocket URL for a live ETH/USD gas-cost price (disabled if empty)")
	runCmd.Flags().String("usd-feed-product-id", "ETH-USD", "product/pair ID to subscribe on the USD feed")
	root.AddCommand(runCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the last known status of every configured pool",
		RunE:  runStatus,
	}
	statusCmd.Flags().String("state-file", "./data/state.json", "durable pool-state file path")
	root.AddCommand(statusCmd)

	withdrawCmd := &cobra.Command{
		Use:   "withdraw <pool-id>",
		Short: "Force an emergency withdraw of one pool's liquidity",
		Args:  cobra.ExactArgs(1),
		RunE:  runWithdraw,
	}
	withdrawCmd.Flags().String("rpc", "", "EVM RPC URL")
	withdrawCmd.Flags().String("private-key", "", "hex-encoded signer private key")
	withdrawCmd.Flags().String("nft-manager-address", "", "Uniswap V3 NonfungiblePositionManager address")
	withdrawCmd.Flags().String("swap-router-address", "", "Uniswap V3 SwapRouter address")
	withdrawCmd.Flags().String("quoter-address", "", "Uniswap V3 Quoter address")
	withdrawCmd.Flags().String("state-file", "./data/state.json", "durable pool-state file path")
	withdrawCmd.Flags().String("reason", "operator requested", "reason recorded in the notification and history log")
	root.AddCommand(withdrawCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
