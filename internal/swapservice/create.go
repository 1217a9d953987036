package swapservice

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/contracts/htlc"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapfsm"
)

// CreateSwapRequest carries the caller's identity on both chains plus the
// Quote it is acting on.
type CreateSwapRequest struct {
	UserAddress        string
	BeneficiaryAddress string
	Quote              *Quote
}

// CreateSwap re-validates the quote's freshness, reserves the destination
// pool's expected_amount, generates the swap's hash_lock/preimage pair,
// and inserts the new PENDING swap, per spec §4.6. The reservation and
// insert are not wrapped in a single database transaction — the Pool
// Manager's own CAS retry loop and the Store's atomic CreateSwap are each
// individually safe. A failed insert releases the reservation through
// releaseOnFailure; a reservation whose insert never ran (the process
// stopped in between) is not released, since W3's pending-expiry sweep
// only sees swaps that were inserted.
func (s *Service) CreateSwap(ctx context.Context, req CreateSwapRequest) (*store.Swap, error) {
	q := req.Quote
	if q == nil {
		return nil, coordinatorerrors.Validation("missing_quote", "create_swap requires a quote")
	}
	if time.Now().After(q.ExpiresAt) {
		return nil, coordinatorerrors.Validation("quote_expired", "quote has expired, request a new one")
	}

	if err := s.pool.Reserve(ctx, q.Request.TargetChain, q.Request.TargetToken, q.ExpectedAmount); err != nil {
		return nil, err
	}

	preimage, hashLock, err := htlc.GenerateSecret()
	if err != nil {
		s.releaseOnFailure(ctx, q)
		return nil, coordinatorerrors.Validationf("secret_generation_failed", err, "failed to generate swap secret")
	}

	now := time.Now()
	pendingTTL := s.quote.PendingTTL
	if pendingTTL <= 0 {
		pendingTTL = 30 * time.Minute
	}
	destinationWindow := s.quote.DestinationTimelockWindow
	if destinationWindow <= 0 {
		destinationWindow = 6 * time.Hour
	}

	swap := &store.Swap{
		ID:                     uuid.NewString(),
		UserAddress:            req.UserAddress,
		BeneficiaryAddress:     req.BeneficiaryAddress,
		SourceChainID:          q.Request.SourceChain,
		SourceTokenID:          q.Request.SourceToken,
		SourceAmount:           q.Request.SourceAmount,
		TargetChainID:          q.Request.TargetChain,
		TargetTokenID:          q.Request.TargetToken,
		TargetExpectedAmount:   q.ExpectedAmount,
		TargetMinReceiveAmount: q.Request.MinReceiveAmount,
		HashLock:               hashLock,
		Preimage:               preimage,
		State:                  swapfsm.StatePending,
		DestinationTimelock:    now.Add(destinationWindow),
		CreatedAt:              now,
		ExpiresAt:              now.Add(pendingTTL),
		Fees: store.Fees{
			NetworkFee:  q.NetworkFee,
			ExchangeFee: q.ExchangeFee,
		},
	}

	if err := s.store.CreateSwap(ctx, swap); err != nil {
		s.releaseOnFailure(ctx, q)
		return nil, err
	}

	s.appendEvent(ctx, swap.ID, store.EventSwapCreated, map[string]any{
		"user_address": swap.UserAddress,
		"source_chain": swap.SourceChainID,
		"target_chain": swap.TargetChainID,
		"hash_lock":    hex.EncodeToString(swap.HashLock[:]),
	})
	s.log.Info("swap created", "swap_id", swap.ID, "source_chain", swap.SourceChainID, "target_chain", swap.TargetChainID)
	return swap, nil
}

func (s *Service) releaseOnFailure(ctx context.Context, q *Quote) {
	if err := s.pool.Release(ctx, q.Request.TargetChain, q.Request.TargetToken, q.ExpectedAmount); err != nil {
		s.log.Error("failed to release reservation after aborted swap creation", "error", err)
	}
}

func (s *Service) appendEvent(ctx context.Context, swapID, typ string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = json.RawMessage("{}")
	}
	ev := &store.Event{SwapID: swapID, Type: typ, Data: raw, Timestamp: time.Now()}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		s.log.Warn("failed to append event", "swap_id", swapID, "type", typ, "error", err)
	}
}
