package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
rpc: https://mainnet.example/rpc
private-key: deadbeef
nft-manager-address: "0x1111111111111111111111111111111111111111"
swap-router-address: "0x2222222222222222222222222222222222222222"
state-file: ./data/state.json
pools:
  - pool_id: pool1
    token0: "0xAAA"
    token1: "0xBBB"
    decimals0: 6
    decimals1: 18
    fee_tier: 500
    pool_address: "0x3333333333333333333333333333333333333333"
    range_width_percent: 3.0
    slippage_tolerance_percent: 1.0
`

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rangekeeper.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatalf("write sample config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RPCURL != "https://mainnet.example/rpc" {
		t.Fatalf("RPCURL = %q", cfg.RPCURL)
	}
	if len(cfg.Pools) != 1 {
		t.Fatalf("Pools = %d, want 1", len(cfg.Pools))
	}
	pool := cfg.Pools[0].ToEngine()
	if pool.PoolID != "pool1" || pool.FeeTier != 500 {
		t.Fatalf("pool = %+v", pool)
	}
	if cfg.PollInterval <= 0 {
		t.Fatalf("PollInterval default not applied")
	}
}

func TestLoadRejectsUnsupportedFeeTier(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rangekeeper.yaml")
	bad := `
pools:
  - pool_id: pool1
    token0: "0xAAA"
    token1: "0xBBB"
    decimals0: 6
    decimals1: 18
    fee_tier: 7
    pool_address: "0x3333333333333333333333333333333333333333"
    range_width_percent: 3.0
`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path, nil); err == nil {
		t.Fatalf("expected Load to reject an unsupported fee tier")
	}
}

func TestLoadRejectsZeroRangeWidth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rangekeeper.yaml")
	bad := `
pools:
  - pool_id: pool1
    token0: "0xAAA"
    token1: "0xBBB"
    decimals0: 6
    decimals1: 18
    fee_tier: 500
    pool_address: "0x3333333333333333333333333333333333333333"
    range_width_percent: 0
`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path, nil); err == nil {
		t.Fatalf("expected Load to reject a zero range_width_percent")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	defer os.Chdir(old)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HealthAddr != "127.0.0.1:9090" {
		t.Fatalf("HealthAddr = %q, want default", cfg.HealthAddr)
	}
	if len(cfg.Pools) != 0 {
		t.Fatalf("expected no pools without a config file")
	}
}
