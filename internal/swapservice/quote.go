package swapservice

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
)

// QuoteRequest names the two sides of a prospective swap.
type QuoteRequest struct {
	SourceChain  string
	SourceToken  string
	SourceAmount uint64

	TargetChain string
	TargetToken string

	// MinReceiveAmount is the caller's slippage floor; GetQuote rejects a
	// request whose computed target amount would fall below it.
	MinReceiveAmount uint64
}

// Quote is the priced-and-timestamped result of GetQuote. Passing it back
// into CreateSwap re-validates its freshness (ExpiresAt); QuoteID is not
// checked. A Quote never reserves liquidity on its own.
type Quote struct {
	QuoteID        string
	Request        QuoteRequest
	ExpectedAmount uint64
	NetworkFee     uint64
	ExchangeFee    uint64
	ExpiresAt      time.Time
}

// GetQuote reads the target pool's current liquidity, applies the
// PriceSource's exchange rate net of the configured exchange fee, and
// checks the result against MinReceiveAmount. It does not reserve
// anything — per spec §4.6, reservation only happens inside CreateSwap.
func (s *Service) GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if _, ok := s.chains[req.SourceChain]; !ok {
		return nil, coordinatorerrors.Validation("unknown_source_chain", "unsupported source chain")
	}
	if _, ok := s.chains[req.TargetChain]; !ok {
		return nil, coordinatorerrors.Validation("unknown_target_chain", "unsupported target chain")
	}
	if _, ok := s.tokens[tokenKey(req.SourceChain, req.SourceToken)]; !ok {
		return nil, coordinatorerrors.Validation("unknown_source_token", "unsupported source chain/token")
	}
	targetCfg, ok := s.tokens[tokenKey(req.TargetChain, req.TargetToken)]
	if !ok {
		return nil, coordinatorerrors.Validation("unknown_target_token", "unsupported target chain/token")
	}
	if req.SourceAmount < targetCfg.MinAmount {
		return nil, coordinatorerrors.Validation("amount_below_minimum", "source amount below token minimum")
	}
	if targetCfg.MaxAmount > 0 && req.SourceAmount > targetCfg.MaxAmount {
		return nil, coordinatorerrors.Validation("amount_above_maximum", "source amount above token maximum")
	}

	snapshot, err := s.pool.Snapshot(ctx, req.TargetChain, req.TargetToken)
	if err != nil {
		return nil, err
	}
	if !snapshot.Healthy {
		return nil, coordinatorerrors.Unhealthy(req.TargetChain, req.TargetToken)
	}

	rate, err := s.prices.Rate(req.SourceChain, req.SourceToken, req.TargetChain, req.TargetToken)
	if err != nil {
		return nil, coordinatorerrors.ChainTransient("price_source_unavailable", err)
	}

	gross := uint64(float64(req.SourceAmount) * rate)
	exchangeFee := s.fees.CalculateExchangeFee(gross)
	networkFee := s.fees.NetworkFeeFlat
	expected := gross - exchangeFee
	if expected < networkFee {
		expected = 0
	} else {
		expected -= networkFee
	}

	if expected < req.MinReceiveAmount {
		return nil, coordinatorerrors.Validation("below_min_receive",
			"quoted amount falls below the requested minimum receive amount")
	}
	if expected > snapshot.Available {
		return nil, coordinatorerrors.InsufficientLiquidity(req.TargetChain, req.TargetToken, expected, snapshot.Available)
	}

	ttl := s.quote.TTL
	if ttl <= 0 {
		ttl = 120 * time.Second
	}

	return &Quote{
		QuoteID:        uuid.NewString(),
		Request:        req,
		ExpectedAmount: expected,
		NetworkFee:     networkFee,
		ExchangeFee:    exchangeFee,
		ExpiresAt:      time.Now().Add(ttl),
	}, nil
}

func tokenKey(chain, symbol string) string {
	return chain + "/" + symbol
}
