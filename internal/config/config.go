// Package config loads rangekeeper's runtime configuration the way
// the teacher indexer does: pflag-bound flags layered under a config
// file, both readable back through viper with INDEXER-style env
// override support, renamed to this project's own prefix and shape.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rangekeeper/rangekeeper/internal/engine"
	"github.com/rangekeeper/rangekeeper/internal/tickmath"
)

// Config holds every setting needed to run the rangekeeper daemon.
type Config struct {
	RPCURL          string
	PrivateKeyHex   string
	RequestsPerSec  float64
	BreakerMaxFails uint32

	NftManagerAddress string
	SwapRouterAddress string
	QuoterAddress     string

	StateFilePath    string
	HistoryDSN       string
	HistoryJsonlPath string

	WebhookURL string
	HealthAddr string

	UsdFeedURL       string
	UsdFeedProductID string

	PollInterval time.Duration
	LogLevel     string

	Pools []PoolConfig
}

// PoolConfig is the on-disk shape of engine.PoolConfig, kept separate
// so viper can unmarshal lowercase/underscored YAML keys without
// fighting the engine package's Go-idiomatic field names.
type PoolConfig struct {
	PoolID      string  `mapstructure:"pool_id"`
	Token0      string  `mapstructure:"token0"`
	Token1      string  `mapstructure:"token1"`
	Decimals0   uint8   `mapstructure:"decimals0"`
	Decimals1   uint8   `mapstructure:"decimals1"`
	FeeTier     uint32  `mapstructure:"fee_tier"`
	PoolAddress string  `mapstructure:"pool_address"`

	RangeWidthPercent           float64 `mapstructure:"range_width_percent"`
	MinRebalanceIntervalMinutes int     `mapstructure:"min_rebalance_interval_minutes"`
	MaxGasCostUsd               float64 `mapstructure:"max_gas_cost_usd"`
	SlippageTolerancePercent    float64 `mapstructure:"slippage_tolerance_percent"`

	ExpectedPriceRatio    float64 `mapstructure:"expected_price_ratio"`
	DepegThresholdPercent float64 `mapstructure:"depeg_threshold_percent"`
	MaxTotalLossPercent   float64 `mapstructure:"max_total_loss_percent"`
	EthPriceUsd           float64 `mapstructure:"eth_price_usd"`
}

// validate fails fast on a pool config that would only blow up later,
// deep inside tickmath, once the engine is already running.
func (p PoolConfig) validate() error {
	// Decimals0/Decimals1 are uint8, so the type system already keeps
	// them within [0,255] and this comparison is never true; whatever
	// the unmarshal step did with a YAML value above 255 has already
	// happened before this runs, and this check does not detect it.
	if p.Decimals0 > 255 || p.Decimals1 > 255 {
		return fmt.Errorf("decimals must be in [0,255]")
	}
	if _, err := tickmath.FeeToTickSpacing(p.FeeTier); err != nil {
		return fmt.Errorf("unsupported fee_tier %d: %w", p.FeeTier, err)
	}
	if p.RangeWidthPercent <= 0 {
		return fmt.Errorf("range_width_percent must be > 0, got %v", p.RangeWidthPercent)
	}
	return nil
}

// ToEngine converts the on-disk shape into engine.PoolConfig.
func (p PoolConfig) ToEngine() engine.PoolConfig {
	return engine.PoolConfig{
		PoolID:                      p.PoolID,
		Token0:                      p.Token0,
		Token1:                      p.Token1,
		Decimals0:                   p.Decimals0,
		Decimals1:                   p.Decimals1,
		FeeTier:                     p.FeeTier,
		PoolAddress:                 p.PoolAddress,
		RangeWidthPercent:           p.RangeWidthPercent,
		MinRebalanceIntervalMinutes: p.MinRebalanceIntervalMinutes,
		MaxGasCostUsd:               p.MaxGasCostUsd,
		SlippageTolerancePercent:    p.SlippageTolerancePercent,
		ExpectedPriceRatio:          p.ExpectedPriceRatio,
		DepegThresholdPercent:       p.DepegThresholdPercent,
		MaxTotalLossPercent:         p.MaxTotalLossPercent,
		EthPriceUsd:                 p.EthPriceUsd,
	}
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RANGEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("requests-per-sec", 10.0)
	v.SetDefault("breaker-max-fails", uint32(5))
	v.SetDefault("state-file", "./data/state.json")
	v.SetDefault("history-jsonl", "./data/history.jsonl")
	v.SetDefault("health-addr", "127.0.0.1:9090")
	v.SetDefault("poll-interval", 5*time.Second)
	v.SetDefault("log-level", "info")
	v.SetDefault("usd-feed-product-id", "ETH-USD")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("rangekeeper")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var pools []PoolConfig
	if err := v.UnmarshalKey("pools", &pools); err != nil {
		return Config{}, fmt.Errorf("unmarshal pools: %w", err)
	}
	for _, p := range pools {
		if err := p.validate(); err != nil {
			return Config{}, fmt.Errorf("pool %q: %w", p.PoolID, err)
		}
	}

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		PrivateKeyHex:     v.GetString("private-key"),
		RequestsPerSec:    v.GetFloat64("requests-per-sec"),
		BreakerMaxFails:   uint32(v.GetUint("breaker-max-fails")),
		NftManagerAddress: v.GetString("nft-manager-address"),
		SwapRouterAddress: v.GetString("swap-router-address"),
		QuoterAddress:     v.GetString("quoter-address"),
		StateFilePath:     v.GetString("state-file"),
		HistoryDSN:        v.GetString("history-dsn"),
		HistoryJsonlPath:  v.GetString("history-jsonl"),
		WebhookURL:        v.GetString("webhook-url"),
		HealthAddr:        v.GetString("health-addr"),
		UsdFeedURL:        v.GetString("usd-feed-url"),
		UsdFeedProductID:  v.GetString("usd-feed-product-id"),
		PollInterval:      v.GetDuration("poll-interval"),
		LogLevel:          v.GetString("log-level"),
		Pools:             pools,
	}

	return cfg, nil
}
