// Package swapservice implements the Swap Service facade described in
// spec §4.6: the single entry point external callers (the HTTP surface)
// use to request a quote, create a swap, and query swap/event history. It
// coordinates internal/pool, internal/swapfsm, and internal/store without
// exposing any of their internals, grounded in the teacher's Coordinator
// (internal/swap) as the "facade that holds everything and exposes
// high-level operations" shape, re-targeted at this spec's pool-is-
// counterparty model instead of the teacher's P2P offer/order matching.
package swapservice

import (
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/config"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/pool"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/pkg/logging"
)

// PriceSource is consulted for the exchange rate between a source and
// target token. The coordinator never talks to an oracle directly; this
// interface is the only contact point, per spec §1's "price oracles
// consulted through an abstract PriceSource interface" non-goal.
type PriceSource interface {
	// Rate returns the exchange rate expressing 1 unit of (sourceChain,
	// sourceToken) in units of (targetChain, targetToken).
	Rate(sourceChain, sourceToken, targetChain, targetToken string) (float64, error)
}

// Service is the Swap Service facade.
type Service struct {
	store  store.Store
	pool   *pool.Manager
	prices PriceSource

	chains map[string]config.ChainConfig
	tokens map[string]config.TokenConfig

	fees  config.FeeConfig
	quote config.QuoteConfig

	log *logging.Logger
}

// New constructs a Service. chains/tokens mirror config.Config's
// Chains/Tokens maps.
func New(st store.Store, pl *pool.Manager, prices PriceSource, chains map[string]config.ChainConfig, tokens map[string]config.TokenConfig, fees config.FeeConfig, quote config.QuoteConfig, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Default()
	}
	return &Service{
		store: st, pool: pl, prices: prices,
		chains: chains, tokens: tokens,
		fees: fees, quote: quote,
		log: log.WithPrefix("swapservice"),
	}
}

// TokenDecimals returns the configured decimal places for (chain, symbol),
// or 0 if the token is unknown. The HTTP surface uses this to render
// human-readable decimal amounts alongside the raw smallest-unit values.
func (s *Service) TokenDecimals(chain, symbol string) uint8 {
	return s.tokens[tokenKey(chain, symbol)].Decimals
}
