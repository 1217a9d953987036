// Package main provides swapcoordd, the Swap Coordinator daemon: it loads
// configuration, opens the store, wires the Pool Liquidity Manager,
// Resolver, Meta-Transaction Relayer, and Swap Service facade, and serves
// the HTTP surface until interrupted.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/config"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/httpapi"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/pool"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/pricesource"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/relayer"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/resolver"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapservice"
	"github.com/klingon-exchange/fusion-swap-coordinator/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Config file path")
		apiAddr     = flag.String("api", "", "HTTP API listen address, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		os.Stdout.WriteString("swapcoordd " + version + " (commit: " + commit + ")\n")
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logging.Default().Fatal("failed to load config", "error", err)
	}
	if *apiAddr != "" {
		cfg.HTTP.ListenAddr = *apiAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log := logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: cfg.Logging.TimeFormat})
	logging.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(store.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		log.Fatal("failed to open store", "error", err)
	}
	defer st.Close()
	log.Info("store opened", "data_dir", cfg.Storage.DataDir)

	adapters, err := buildAdapters(cfg, log)
	if err != nil {
		log.Fatal("failed to build chain adapters", "error", err)
	}

	poolMgr := pool.New(st, cfg.Pool.MaxCASRetries, log)
	for _, tok := range cfg.Tokens {
		pl, err := st.GetPoolLiquidity(ctx, tok.Chain, tok.Symbol)
		if err != nil && err != store.ErrNotFound {
			log.Fatal("failed to read pool liquidity", "chain", tok.Chain, "token", tok.Symbol, "error", err)
		}
		if pl == nil {
			if err := poolMgr.EnsureToken(ctx, tok.Chain, tok.Symbol, 0, tok.MinThreshold); err != nil {
				log.Fatal("failed to initialize pool liquidity", "chain", tok.Chain, "token", tok.Symbol, "error", err)
			}
		}
	}

	prices := pricesource.NewStatic(cfg.Rates)
	svc := swapservice.New(st, poolMgr, prices, cfg.Chains, cfg.Tokens, cfg.Fees, cfg.Quote, log)

	res := resolver.New(st, poolMgr, adapters, cfg.Resolver, log)
	var sourceChains []string
	for name := range cfg.Chains {
		sourceChains = append(sourceChains, name)
	}
	go res.Run(ctx, sourceChains)
	log.Info("resolver started", "chains", sourceChains)

	rel := relayer.New(st, adapters, cfg.Chains, cfg.Relayer, log)
	go rel.Run(ctx)
	log.Info("relayer started")

	api := httpapi.NewServer(svc, st, log)
	if err := api.Start(cfg.HTTP.ListenAddr); err != nil {
		log.Fatal("failed to start http api", "error", err)
	}

	log.Info("swap coordinator ready", "api", cfg.HTTP.ListenAddr, "network", cfg.Network)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()

	if err := api.Stop(); err != nil {
		log.Error("error stopping http api", "error", err)
	}

	log.Info("goodbye")
}

// buildAdapters constructs one Chain Adapter per configured chain, keyed
// by the coordinator-internal chain name used throughout config.Config.
func buildAdapters(cfg *config.Config, log *logging.Logger) (map[string]chainadapter.Adapter, error) {
	adapters := make(map[string]chainadapter.Adapter, len(cfg.Chains))
	for name, chainCfg := range cfg.Chains {
		switch chainCfg.Family {
		case config.ChainFamilyEVM:
			key, err := crypto.HexToECDSA(chainCfg.PoolPrivateKey)
			if err != nil {
				return nil, err
			}
			adapter, err := chainadapter.NewEVM(name, chainCfg.RPCEndpoint, common.HexToAddress(chainCfg.HTLCContract), key, cfg.Retry, log)
			if err != nil {
				return nil, err
			}
			adapters[name] = adapter
		case config.ChainFamilyUTXO:
			keyBytes, err := hex.DecodeString(chainCfg.PoolPrivateKey)
			if err != nil {
				return nil, err
			}
			key, _ := btcec.PrivKeyFromBytes(keyBytes)
			params := &chaincfg.MainNetParams
			if cfg.Network == config.Testnet {
				params = &chaincfg.TestNet3Params
			}
			adapter, err := chainadapter.NewUTXO(name, chainCfg.RPCEndpoint, params, key, cfg.Retry, log)
			if err != nil {
				return nil, err
			}
			adapters[name] = adapter
		}
	}
	return adapters, nil
}

