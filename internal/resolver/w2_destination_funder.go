package resolver

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapfsm"
)

// runDestinationFunder is W2: pulls SOURCE_LOCKED swaps oldest-first,
// leases each via CAS, and funds the destination HTLC from the pool's own
// key. Grounded in coordinator_timeout.go's scan-and-act loop shape, but
// driven by a poll of the Store rather than the in-memory swap map the
// teacher used, since this coordinator's swaps live in the Store, not a
// process-local map.
func (r *Resolver) runDestinationFunder(ctx context.Context) {
	log := r.log.WithPrefix("resolver.w2")
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swaps, err := r.store.ListSwapsByState(ctx, swapfsm.StateSourceLocked, r.cfg.DestinationFundBatch)
			if err != nil {
				log.Error("failed to list source-locked swaps", "error", err)
				continue
			}
			for _, swap := range swaps {
				r.fundDestination(ctx, swap)
			}
		}
	}
}

func (r *Resolver) fundDestination(ctx context.Context, swap *store.Swap) {
	log := r.log.WithPrefix("resolver.w2")

	leaseTimeout := r.cfg.FundingLeaseTimeout
	if leaseTimeout <= 0 {
		leaseTimeout = 2 * time.Minute
	}
	if !swap.FundingLeasedAt.IsZero() && time.Since(swap.FundingLeasedAt) < leaseTimeout {
		// Another W2 pass already holds this row's lease and hasn't timed
		// out yet; skip rather than risk a second FundHTLC submission.
		return
	}

	adapter, err := r.adapter(swap.TargetChainID)
	if err != nil {
		log.Error("no adapter for target chain", "swap_id", swap.ID, "error", err)
		return
	}

	contractID := DeriveContractID(
		swap.UserAddress,
		swap.BeneficiaryAddress,
		swap.HashLock,
		swap.DestinationTimelock,
		swap.TargetTokenID,
		swap.TargetExpectedAmount,
		uint64(swap.CreatedAt.UnixNano()),
	)

	// Per spec.md:184, a W2 worker must acquire a per-swap CAS lease
	// before any external side effect: bump FundingLeasedAt and persist
	// it before calling FundHTLC, so a concurrent pass (or a second
	// resolver process against the same DB) loses the race here instead
	// of also submitting a funding tx.
	expectedVersion := swap.Version
	swap.FundingLeasedAt = time.Now()
	if err := r.store.UpdateSwapCAS(ctx, swap, expectedVersion); err != nil {
		if err == store.ErrVersionConflict {
			log.Info("lost funding lease race, skipping", "swap_id", swap.ID)
			return
		}
		log.Error("failed to acquire funding lease", "swap_id", swap.ID, "error", err)
		return
	}
	expectedVersion = swap.Version

	var lastErr error
	for attempt := 0; attempt < r.cfg.DestinationFundRetries; attempt++ {
		txHash, err := adapter.FundHTLC(ctx, contractID, swap.TargetTokenID, swap.BeneficiaryAddress,
			swap.HashLock, swap.DestinationTimelock, swap.TargetExpectedAmount)
		if err == nil {
			r.onDestinationFunded(ctx, swap, expectedVersion, contractID, txHash)
			return
		}
		lastErr = err

		if coordinatorerrors.IsKind(err, coordinatorerrors.KindChainReverted) {
			r.failAndRelease(ctx, swap, expectedVersion, coordinatorerrors.ReasonOf(err), err.Error())
			return
		}
		if !coordinatorerrors.IsKind(err, coordinatorerrors.KindChainTransient) {
			// Not a kind we know how to retry; treat as non-retryable.
			r.failAndRelease(ctx, swap, expectedVersion, "unexpected_error", err.Error())
			return
		}
		// Transient: adapter.FundHTLC already retried internally per its
		// own backoff policy before surfacing this, so a further outer
		// attempt here is a fresh funding call, not a busy loop.
	}

	r.failAndRelease(ctx, swap, expectedVersion, "funding_retries_exhausted", lastErr.Error())
}

func (r *Resolver) onDestinationFunded(ctx context.Context, swap *store.Swap, expectedVersion int64, contractID [32]byte, txHash string) {
	log := r.log.WithPrefix("resolver.w2")

	if err := r.pool.Commit(ctx, swap.TargetChainID, swap.TargetTokenID, swap.TargetExpectedAmount); err != nil {
		log.Error("failed to commit pool reservation after funding", "swap_id", swap.ID, "error", err)
		// Funds are already on-chain; do not fail the swap over a ledger
		// bookkeeping error. The operator must reconcile manually — this
		// is the one path spec §4.4 leaves to manual intervention since
		// the destination HTLC is already irreversibly funded.
		return
	}

	next, ferr := swapfsm.Transition(swap.State, swapfsm.EventDestinationFunded, swapfsm.Input{
		Now:                 time.Now(),
		SourceTimelock:      swap.SourceTimelock,
		DestinationTimelock: swap.DestinationTimelock,
		SafetyWindow:        r.cfg.SafetyWindow,
	})
	if ferr != nil {
		log.Error("destination funded but fsm transition rejected", "swap_id", swap.ID, "error", ferr)
		return
	}

	swap.PoolHTLCID = hex.EncodeToString(contractID[:])
	swap.DestinationFundedAt = time.Now()
	swap.FundingLeasedAt = time.Time{}
	swap.State = next

	if err := r.store.UpdateSwapCAS(ctx, swap, expectedVersion); err != nil {
		if err == store.ErrVersionConflict {
			log.Warn("lost CAS race after funding destination", "swap_id", swap.ID)
			return
		}
		log.Error("failed to persist destination funding", "swap_id", swap.ID, "error", err)
		return
	}

	r.appendEvent(ctx, swap.ID, store.EventDestinationHTLCCreated, map[string]any{
		"chain":       swap.TargetChainID,
		"contract_id": swap.PoolHTLCID,
		"tx_hash":     txHash,
	})
	log.Info("destination htlc funded", "swap_id", swap.ID, "chain", swap.TargetChainID, "tx_hash", txHash)
}

// failAndRelease transitions swap to FAILED and releases its pool
// reservation, used for non-retryable destination-funding failures.
func (r *Resolver) failAndRelease(ctx context.Context, swap *store.Swap, expectedVersion int64, reason, message string) {
	log := r.log.WithPrefix("resolver.w2")

	if err := r.pool.Release(ctx, swap.TargetChainID, swap.TargetTokenID, swap.TargetExpectedAmount); err != nil {
		log.Error("failed to release reservation on funding failure", "swap_id", swap.ID, "error", err)
	}

	next, ferr := swapfsm.Transition(swap.State, swapfsm.EventUnrecoverable, swapfsm.Input{Now: time.Now()})
	if ferr != nil {
		log.Error("failed transition rejected by fsm", "swap_id", swap.ID, "error", ferr)
		return
	}
	swap.State = next
	swap.ErrorMessage = reason + ": " + message
	swap.FundingLeasedAt = time.Time{}
	if err := r.store.UpdateSwapCAS(ctx, swap, expectedVersion); err != nil && err != store.ErrVersionConflict {
		log.Error("failed to persist failed state", "swap_id", swap.ID, "error", err)
	}
	r.appendEvent(ctx, swap.ID, "destination_funding_failed", map[string]any{"reason": reason, "message": message})
	log.Warn("destination funding failed, swap marked failed", "swap_id", swap.ID, "reason", reason)
}
