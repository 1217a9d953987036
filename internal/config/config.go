// Package config provides centralized configuration for the swap
// coordinator. ALL policy parameters (chains, tokens, timeouts, relayer
// thresholds) are defined here or loaded from the operator's YAML file.
// No hardcoded values should exist elsewhere in the codebase.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkType distinguishes mainnet from testnet deployments.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// ChainFamily identifies which Chain Adapter implementation a chain uses.
type ChainFamily string

const (
	ChainFamilyEVM  ChainFamily = "evm"
	ChainFamilyUTXO ChainFamily = "utxo"
)

// ChainConfig describes one chain the coordinator can adapt to.
type ChainConfig struct {
	ChainID       uint64      `yaml:"chain_id"`
	Family        ChainFamily `yaml:"family"`
	RPCEndpoint   string      `yaml:"rpc_endpoint"`
	HTLCContract  string      `yaml:"htlc_contract"`
	Confirmations uint32      `yaml:"confirmations"`
	BlockTime     time.Duration `yaml:"block_time"`
	// PoolPrivateKey is the pool's signing key for this chain, hex-encoded
	// (no 0x prefix). The Resolver's W2/W3 workers and the Relayer's
	// dispatch both sign through the Chain Adapter constructed from it.
	PoolPrivateKey string `yaml:"pool_private_key"`
}

// TokenConfig describes one token supported on a given chain.
type TokenConfig struct {
	Chain        string `yaml:"chain"`
	Symbol       string `yaml:"symbol"`
	Address      string `yaml:"address"` // empty for native asset
	Decimals     uint8  `yaml:"decimals"`
	MinAmount    uint64 `yaml:"min_amount"`
	MaxAmount    uint64 `yaml:"max_amount"` // 0 = no limit
	MinThreshold uint64 `yaml:"min_threshold"`
}

// Key returns the (chain_id, token_id) composite key used by the Pool
// Liquidity Manager and Store.
func (t TokenConfig) Key() string {
	return t.Chain + "/" + t.Symbol
}

// RetryPolicy is the bounded exponential backoff used by the Chain Adapter's
// single-writer submit actor, and reused by the Resolver's per-swap retries.
type RetryPolicy struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	Factor      float64       `yaml:"factor"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
	FeeBumpPct  float64       `yaml:"fee_bump_pct"`
}

// DefaultRetryPolicy implements spec §4.1: base 3s, factor 2, cap 60s,
// max 5 attempts, +50% fee bump per retry.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   3 * time.Second,
		Factor:      2,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 5,
		FeeBumpPct:  0.5,
	}
}

// PoolConfig holds Pool Liquidity Manager policy parameters.
type PoolConfig struct {
	// MaxCASRetries bounds optimistic-concurrency retries on version conflict.
	MaxCASRetries int `yaml:"max_cas_retries"`
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxCASRetries: 8}
}

// ResolverConfig holds Resolver worker timing.
type ResolverConfig struct {
	// SafetyWindow is Δ: destination_timelock + Δ <= source_timelock.
	SafetyWindow time.Duration `yaml:"safety_window"`
	// SweepInterval is how often W3 wakes to scan for timeouts.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// DestinationFundRetries bounds W2's per-swap funding attempts.
	DestinationFundRetries int `yaml:"destination_fund_retries"`
	// DestinationFundBatch bounds how many SOURCE_LOCKED swaps W2 leases per pass.
	DestinationFundBatch int `yaml:"destination_fund_batch"`
	// FundingLeaseTimeout bounds how long W2's CAS lease on a swap is
	// honored before another pass is allowed to reclaim it, in case the
	// leasing worker crashed mid-funding.
	FundingLeaseTimeout time.Duration `yaml:"funding_lease_timeout"`
}

func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		SafetyWindow:           30 * time.Minute,
		SweepInterval:          30 * time.Second,
		DestinationFundRetries: 5,
		DestinationFundBatch:   16,
		FundingLeaseTimeout:    2 * time.Minute,
	}
}

// RelayerConfig holds Meta-Transaction Relayer policy parameters.
type RelayerConfig struct {
	DomainName          string        `yaml:"domain_name"`
	DomainVersion       string        `yaml:"domain_version"`
	BatchSize           int           `yaml:"batch_size"`
	NonceSafetyMargin   time.Duration `yaml:"nonce_safety_margin"`
	PerUserHourlyLimit  int           `yaml:"per_user_hourly_limit"`
	GlobalHourlyLimit   int           `yaml:"global_hourly_limit"`
	EmergencyThreshold  string        `yaml:"emergency_threshold"` // decimal string, wei/smallest-unit
	PollInterval        time.Duration `yaml:"poll_interval"`
}

func DefaultRelayerConfig() RelayerConfig {
	return RelayerConfig{
		DomainName:         "FusionGasRelayer",
		DomainVersion:      "1",
		BatchSize:          16,
		NonceSafetyMargin:  0, // relayer enforces deadline > now, margin applied explicitly
		PerUserHourlyLimit: 10,
		GlobalHourlyLimit:  200,
		EmergencyThreshold: "0",
		PollInterval:       2 * time.Second,
	}
}

// QuoteConfig holds Swap Service quoting and swap-creation parameters.
type QuoteConfig struct {
	// TTL is how long a Quote stays valid before CreateSwap rejects it as
	// stale.
	TTL time.Duration `yaml:"ttl"`
	// PendingTTL bounds how long a created swap may sit in PENDING
	// awaiting the user's source-chain funding transaction before W3
	// expires it and releases the reservation.
	PendingTTL time.Duration `yaml:"pending_ttl"`
	// DestinationTimelockWindow is how far out CreateSwap sets a new
	// swap's destination_timelock, measured from now. source_timelock is
	// unknown at creation time (it is read off the user's own funding
	// transaction by W1), so this window is a fixed policy rather than a
	// value derived from source_timelock; W1 separately enforces that the
	// observed source_timelock leaves at least SafetyWindow of room.
	DestinationTimelockWindow time.Duration `yaml:"destination_timelock_window"`
}

func DefaultQuoteConfig() QuoteConfig {
	return QuoteConfig{
		TTL:                       120 * time.Second,
		PendingTTL:                30 * time.Minute,
		DestinationTimelockWindow: 6 * time.Hour,
	}
}

// FeeConfig holds fee-related configuration, mirroring the exchange's
// maker/taker/DAO split idiom.
type FeeConfig struct {
	ExchangeFeeBPS uint16 `yaml:"exchange_fee_bps"`
	NetworkFeeFlat uint64 `yaml:"network_fee_flat"`
}

func DefaultFeeConfig() FeeConfig {
	return FeeConfig{ExchangeFeeBPS: 100, NetworkFeeFlat: 0} // 1%
}

// CalculateExchangeFee returns the exchange fee for a given notional amount.
func (f FeeConfig) CalculateExchangeFee(amount uint64) uint64 {
	return (amount * uint64(f.ExchangeFeeBPS)) / 10000
}

// HTTPConfig holds the operator-facing HTTP surface configuration.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig mirrors the charmbracelet/log configuration shape.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	TimeFormat string `yaml:"time_format"`
}

// StorageConfig holds SQLite storage configuration.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Config is the single top-level configuration struct. It is constructed
// once at startup and passed by reference into every component
// constructor; there is no global singleton.
type Config struct {
	Network  NetworkType            `yaml:"network"`
	HTTP     HTTPConfig             `yaml:"http"`
	Logging  LoggingConfig          `yaml:"logging"`
	Storage  StorageConfig          `yaml:"storage"`
	Chains   map[string]ChainConfig `yaml:"chains"`
	Tokens   map[string]TokenConfig `yaml:"tokens"`
	Fees     FeeConfig              `yaml:"fees"`
	Pool     PoolConfig             `yaml:"pool"`
	Resolver ResolverConfig         `yaml:"resolver"`
	Relayer  RelayerConfig          `yaml:"relayer"`
	Quote    QuoteConfig            `yaml:"quote"`
	Retry    RetryPolicy            `yaml:"retry"`
	// Rates is the static exchange rate table for internal/pricesource,
	// keyed by "sourceChain/sourceToken/targetChain/targetToken".
	Rates map[string]float64 `yaml:"rates"`
}

// Default returns a configuration populated with spec-mandated defaults
// and an empty chain/token set; callers load real chains/tokens from YAML.
func Default() *Config {
	return &Config{
		Network: Testnet,
		HTTP:    HTTPConfig{ListenAddr: ":8080"},
		Logging: LoggingConfig{Level: "info", TimeFormat: time.Kitchen},
		Storage: StorageConfig{DataDir: "~/.fusion-swap-coordinator"},
		Chains:  map[string]ChainConfig{},
		Tokens:  map[string]TokenConfig{},
		Rates:    map[string]float64{},
		Fees:     DefaultFeeConfig(),
		Pool:     DefaultPoolConfig(),
		Resolver: DefaultResolverConfig(),
		Relayer:  DefaultRelayerConfig(),
		Quote:    DefaultQuoteConfig(),
		Retry:    DefaultRetryPolicy(),
	}
}

// Load reads a YAML configuration file, merging it over Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// GetToken looks up a token by its chain/symbol composite key.
func (c *Config) GetToken(chain, symbol string) (TokenConfig, bool) {
	t, ok := c.Tokens[chain+"/"+symbol]
	return t, ok
}

// GetChain looks up a chain configuration by name.
func (c *Config) GetChain(chain string) (ChainConfig, bool) {
	cc, ok := c.Chains[chain]
	return cc, ok
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
