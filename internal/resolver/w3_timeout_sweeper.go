package resolver

import (
	"context"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapfsm"
	"github.com/klingon-exchange/fusion-swap-coordinator/pkg/logging"
)

// runTimeoutSweeper is W3: a single-threaded ticker scanning every
// non-terminal swap for the four conditions spec §4.4 names. Grounded
// directly in CheckTimeouts (internal/swap/coordinator_timeout.go): same
// "wake on ticker, scan every active swap, act per-row" shape, generalized
// from two chain legs (offer/request) to this spec's source/destination
// model and the four distinct conditions it defines.
func (r *Resolver) runTimeoutSweeper(ctx context.Context) {
	log := r.log.WithPrefix("resolver.w3")
	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx, log)
		}
	}
}

func (r *Resolver) sweep(ctx context.Context, log *logging.Logger) {
	now := time.Now()

	pending, err := r.store.ListSwapsByState(ctx, swapfsm.StatePending, 0)
	if err != nil {
		log.Error("failed to list pending swaps", "error", err)
	}
	for _, swap := range pending {
		if now.After(swap.ExpiresAt) {
			r.expirePending(ctx, swap)
		}
	}

	sourceLocked, err := r.store.ListSwapsByState(ctx, swapfsm.StateSourceLocked, 0)
	if err != nil {
		log.Error("failed to list source-locked swaps", "error", err)
	}
	for _, swap := range sourceLocked {
		if now.After(swap.SourceTimelock) {
			r.expireSourceLocked(ctx, swap)
		}
	}

	fulfilled, err := r.store.ListSwapsByState(ctx, swapfsm.StatePoolFulfilled, 0)
	if err != nil {
		log.Error("failed to list pool-fulfilled swaps", "error", err)
	}
	for _, swap := range fulfilled {
		r.handleFulfilled(ctx, swap, now)
	}

	claimed, err := r.store.ListSwapsByState(ctx, swapfsm.StateUserClaimed, 0)
	if err != nil {
		log.Error("failed to list user-claimed swaps", "error", err)
	}
	for _, swap := range claimed {
		if swap.PoolClaimedAt.IsZero() {
			r.cleanupDestinationClaim(ctx, swap)
		}
	}
}

// expirePending handles: PENDING swaps past expires_at, release reservation.
func (r *Resolver) expirePending(ctx context.Context, swap *store.Swap) {
	log := r.log.WithPrefix("resolver.w3")
	expectedVersion := swap.Version

	if err := r.pool.Release(ctx, swap.TargetChainID, swap.TargetTokenID, swap.TargetExpectedAmount); err != nil {
		log.Error("failed to release expired reservation", "swap_id", swap.ID, "error", err)
		return
	}
	next, ferr := swapfsm.Transition(swap.State, swapfsm.EventTimeout, swapfsm.Input{Now: time.Now()})
	if ferr != nil {
		log.Error("expire transition rejected", "swap_id", swap.ID, "error", ferr)
		return
	}
	swap.State = next
	if err := r.store.UpdateSwapCAS(ctx, swap, expectedVersion); err != nil && err != store.ErrVersionConflict {
		log.Error("failed to persist expiry", "swap_id", swap.ID, "error", err)
		return
	}
	r.appendEvent(ctx, swap.ID, store.EventExpired, map[string]any{"reason": "pending_expired"})
	log.Info("pending swap expired", "swap_id", swap.ID)
}

// expireSourceLocked handles: SOURCE_LOCKED swaps past source_timelock.
// The user's own refund is the user's action; the resolver only marks the
// swap EXPIRED and releases the pool's reservation, per spec §4.4 W3.
func (r *Resolver) expireSourceLocked(ctx context.Context, swap *store.Swap) {
	log := r.log.WithPrefix("resolver.w3")
	expectedVersion := swap.Version

	if err := r.pool.Release(ctx, swap.TargetChainID, swap.TargetTokenID, swap.TargetExpectedAmount); err != nil {
		log.Error("failed to release reservation on source timeout", "swap_id", swap.ID, "error", err)
		return
	}
	next, ferr := swapfsm.Transition(swap.State, swapfsm.EventTimeout, swapfsm.Input{Now: time.Now()})
	if ferr != nil {
		log.Error("expire transition rejected", "swap_id", swap.ID, "error", ferr)
		return
	}
	swap.State = next
	if err := r.store.UpdateSwapCAS(ctx, swap, expectedVersion); err != nil && err != store.ErrVersionConflict {
		log.Error("failed to persist source timeout expiry", "swap_id", swap.ID, "error", err)
		return
	}
	r.appendEvent(ctx, swap.ID, store.EventExpired, map[string]any{"reason": "source_timelock_elapsed"})
	log.Info("source timelock elapsed, swap expired", "swap_id", swap.ID)
}

// handleFulfilled covers the one POOL_FULFILLED condition W3 owns:
// destination refund after destination_timelock elapses with no claim on
// the source chain. Reaching USER_CLAIMED from here is the Relayer's job
// (internal/relayer) or the source-claim watcher's (w1_source_claim.go);
// this sweep never reads the user's claim into state, it only times out.
func (r *Resolver) handleFulfilled(ctx context.Context, swap *store.Swap, now time.Time) {
	log := r.log.WithPrefix("resolver.w3")

	if !now.After(swap.DestinationTimelock) {
		return
	}

	targetAdapter, err := r.adapter(swap.TargetChainID)
	if err != nil {
		log.Error("no adapter for target chain", "swap_id", swap.ID, "error", err)
		return
	}

	contractID, err := parseContractID(swap.PoolHTLCID)
	if err != nil {
		log.Error("bad pool_htlc_id", "swap_id", swap.ID, "error", err)
		return
	}

	details, err := targetAdapter.ReadHTLC(ctx, contractID)
	if err != nil {
		log.Warn("failed to read destination htlc", "swap_id", swap.ID, "error", err)
		return
	}

	if details.State != chainadapter.HTLCOpen {
		// Already claimed or refunded by the time this sweep observed the
		// timeout; the claim path (if any) owns the swap's state from here.
		return
	}
	r.refundDestination(ctx, swap, targetAdapter, contractID)
}

func (r *Resolver) refundDestination(ctx context.Context, swap *store.Swap, adapter chainadapter.Adapter, contractID [32]byte) {
	log := r.log.WithPrefix("resolver.w3")
	expectedVersion := swap.Version

	txHash, err := adapter.RefundHTLC(ctx, contractID)
	if err != nil {
		log.Error("failed to refund destination htlc", "swap_id", swap.ID, "error", err)
		return
	}

	if err := r.pool.RefundIn(ctx, swap.TargetChainID, swap.TargetTokenID, swap.TargetExpectedAmount); err != nil {
		log.Error("failed to apply refund_in", "swap_id", swap.ID, "error", err)
		return
	}

	next, ferr := swapfsm.Transition(swap.State, swapfsm.EventUnrecoverable, swapfsm.Input{Now: time.Now()})
	if ferr != nil {
		log.Error("refund transition rejected", "swap_id", swap.ID, "error", ferr)
		return
	}
	swap.State = next
	swap.RefundedAt = time.Now()
	if err := r.store.UpdateSwapCAS(ctx, swap, expectedVersion); err != nil && err != store.ErrVersionConflict {
		log.Error("failed to persist destination refund", "swap_id", swap.ID, "error", err)
		return
	}
	r.appendEvent(ctx, swap.ID, store.EventRefunded, map[string]any{"chain": swap.TargetChainID, "tx_hash": txHash})
	log.Info("destination htlc refunded after timeout", "swap_id", swap.ID, "tx_hash", txHash)
}

// cleanupDestinationClaim runs once a swap has already reached
// USER_CLAIMED: the preimage is now public on the source chain, so the
// pool claims its own destination HTLC with it. This never transitions the
// swap's state; it only records pool_claimed_at. Per spec §4.2, the user's
// economic outcome is already final by the time this runs.
func (r *Resolver) cleanupDestinationClaim(ctx context.Context, swap *store.Swap) {
	log := r.log.WithPrefix("resolver.w3")

	targetAdapter, err := r.adapter(swap.TargetChainID)
	if err != nil {
		log.Error("no adapter for target chain", "swap_id", swap.ID, "error", err)
		return
	}
	contractID, err := parseContractID(swap.PoolHTLCID)
	if err != nil {
		log.Error("bad pool_htlc_id", "swap_id", swap.ID, "error", err)
		return
	}

	preimage := swap.Preimage
	if !verifyPreimage(preimage, swap.HashLock) {
		log.Error("recorded preimage does not match hash_lock", "swap_id", swap.ID)
		return
	}

	expectedVersion := swap.Version
	txHash, err := targetAdapter.ClaimHTLC(ctx, contractID, preimage)
	if err != nil {
		if coordinatorerrors.IsKind(err, coordinatorerrors.KindChainTransient) {
			return // retried next sweep
		}
		details, rerr := targetAdapter.ReadHTLC(ctx, contractID)
		if rerr == nil && details.State == chainadapter.HTLCClaimed {
			// Already claimed by a previous sweep that crashed before
			// persisting pool_claimed_at; reconcile below.
		} else {
			log.Error("failed to claim destination htlc on pool's behalf", "swap_id", swap.ID, "error", err)
			return
		}
	}

	swap.PoolClaimedAt = time.Now()
	if err := r.store.UpdateSwapCAS(ctx, swap, expectedVersion); err != nil && err != store.ErrVersionConflict {
		log.Error("failed to persist pool claim", "swap_id", swap.ID, "error", err)
		return
	}
	r.appendEvent(ctx, swap.ID, store.EventPoolClaimed, map[string]any{"chain": swap.TargetChainID, "tx_hash": txHash})
	log.Info("pool claimed destination htlc using revealed preimage", "swap_id", swap.ID, "tx_hash", txHash)
}
