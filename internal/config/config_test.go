package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Network != Testnet {
		t.Errorf("expected testnet default, got %s", cfg.Network)
	}
	if cfg.Resolver.SafetyWindow != 30*time.Minute {
		t.Errorf("expected 30m safety window, got %s", cfg.Resolver.SafetyWindow)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("expected 5 max attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay != 3*time.Second || cfg.Retry.MaxDelay != 60*time.Second {
		t.Errorf("unexpected retry policy: %+v", cfg.Retry)
	}
	if cfg.Quote.TTL != 120*time.Second {
		t.Errorf("expected 120s quote ttl, got %s", cfg.Quote.TTL)
	}
	if cfg.Relayer.PerUserHourlyLimit != 10 || cfg.Relayer.GlobalHourlyLimit != 200 {
		t.Errorf("unexpected relayer limits: %+v", cfg.Relayer)
	}
}

func TestLoadMergesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
network: mainnet
chains:
  ethereum:
    chain_id: 1
    family: evm
    rpc_endpoint: https://eth.example.com
    htlc_contract: "0x0000000000000000000000000000000000dEaD"
    confirmations: 12
tokens:
  "ethereum/USDC":
    chain: ethereum
    symbol: USDC
    decimals: 6
    min_amount: 1000000
    min_threshold: 5000000
resolver:
  sweep_interval: 10s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Network != Mainnet {
		t.Errorf("expected mainnet, got %s", cfg.Network)
	}
	chain, ok := cfg.GetChain("ethereum")
	if !ok || chain.ChainID != 1 || chain.Family != ChainFamilyEVM {
		t.Fatalf("unexpected chain config: %+v", chain)
	}
	token, ok := cfg.GetToken("ethereum", "USDC")
	if !ok || token.Decimals != 6 {
		t.Fatalf("unexpected token config: %+v", token)
	}
	if cfg.Resolver.SweepInterval != 10*time.Second {
		t.Errorf("expected overridden sweep interval, got %s", cfg.Resolver.SweepInterval)
	}
	// Untouched defaults survive the merge.
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("expected default retry policy to survive merge, got %+v", cfg.Retry)
	}
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Network != Testnet {
		t.Errorf("expected default network, got %s", cfg.Network)
	}
}

func TestFeeConfigCalculateExchangeFee(t *testing.T) {
	f := DefaultFeeConfig()
	got := f.CalculateExchangeFee(10_000)
	want := uint64(100) // 1% of 10,000
	if got != want {
		t.Errorf("CalculateExchangeFee(10000) = %d, want %d", got, want)
	}
}
