// Package pricesource provides the one concrete swapservice.PriceSource
// implementation this repository ships: a static, operator-configured
// rate table. Real price discovery (on-chain TWAP, off-chain oracle feed)
// is explicitly out of scope per spec.md's "PriceSource interface only"
// non-goal; this exists only so the daemon has something to wire in.
package pricesource

import (
	"fmt"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
)

// Static serves fixed exchange rates from an operator-supplied table,
// keyed by "sourceChain/sourceToken/targetChain/targetToken".
type Static struct {
	rates map[string]float64
}

// NewStatic builds a Static price source from rates, as loaded from
// config.Config.Rates.
func NewStatic(rates map[string]float64) *Static {
	return &Static{rates: rates}
}

// Rate implements swapservice.PriceSource.
func (s *Static) Rate(sourceChain, sourceToken, targetChain, targetToken string) (float64, error) {
	key := fmt.Sprintf("%s/%s/%s/%s", sourceChain, sourceToken, targetChain, targetToken)
	rate, ok := s.rates[key]
	if !ok {
		return 0, coordinatorerrors.Validation("no_rate_configured",
			fmt.Sprintf("no configured exchange rate for %s", key))
	}
	return rate, nil
}
