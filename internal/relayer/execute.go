package relayer

import (
	"context"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapfsm"
)

// processBatch pulls up to cfg.BatchSize PENDING claim requests and drives
// each through acceptance then dispatch, one at a time: submission order
// must match nonce order, so this loop never parallelizes across rows,
// grounded in ExternalSender's single-actor dispatch shape (see
// relayer.go's package doc).
func (r *Relayer) processBatch(ctx context.Context) {
	if r.IsPaused() {
		return
	}

	batchSize := r.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	pending, err := r.store.ListClaimRequestsByStatus(ctx, store.ClaimPending, batchSize)
	if err != nil {
		r.log.Error("failed to list pending claim requests", "error", err)
		return
	}

	for _, cr := range pending {
		if r.IsPaused() {
			return
		}
		r.handleClaimRequest(ctx, cr)
	}
}

func (r *Relayer) handleClaimRequest(ctx context.Context, cr *store.ClaimRequest) {
	log := r.log.WithPrefix("relayer")

	swap, err := r.store.GetSwap(ctx, cr.SwapID)
	if err != nil {
		log.Error("failed to load swap for claim request", "claim_id", cr.ID, "swap_id", cr.SwapID, "error", err)
		return
	}
	chain, ok := r.chains[swap.SourceChainID]
	if !ok {
		r.failClaim(ctx, cr, "no chain config for "+swap.SourceChainID)
		return
	}
	adapter, ok := r.adapters[swap.SourceChainID]
	if !ok {
		r.failClaim(ctx, cr, "no adapter for "+swap.SourceChainID)
		return
	}

	if err := r.accept(ctx, cr, swap, chain); err != nil {
		r.failClaim(ctx, cr, err.Error())
		return
	}

	// Rule 7: observed gas price above the signed ceiling parks, not fails.
	gasPrice, err := adapter.CurrentGasPrice(ctx)
	if err != nil {
		log.Warn("failed to read current gas price, parking claim", "claim_id", cr.ID, "error", err)
		return
	}
	if gasPrice > cr.MaxGasPrice {
		log.Info("parking claim, observed gas price exceeds ceiling", "claim_id", cr.ID, "observed", gasPrice, "max", cr.MaxGasPrice)
		return
	}

	// Rule 6: per-user and global rolling-hour limits. A throttled claim
	// parks rather than fails — it is not the claimer's fault the window
	// is full, and it will clear on its own as old completions age out.
	withinGlobal, err := r.withinRollingLimit(ctx, "", r.cfg.GlobalHourlyLimit)
	if err != nil {
		log.Warn("failed to evaluate global rate limit, parking claim", "claim_id", cr.ID, "error", err)
		return
	}
	if !withinGlobal {
		log.Info("parking claim, global rate limit reached", "claim_id", cr.ID)
		return
	}
	withinUser, err := r.withinRollingLimit(ctx, cr.Claimer, r.cfg.PerUserHourlyLimit)
	if err != nil {
		log.Warn("failed to evaluate per-user rate limit, parking claim", "claim_id", cr.ID, "error", err)
		return
	}
	if !withinUser {
		log.Info("parking claim, per-user rate limit reached", "claim_id", cr.ID, "claimer", cr.Claimer)
		return
	}

	// Emergency-stop guard: read the operator wallet's balance before
	// every submission; below threshold, pause the whole relayer.
	threshold, ok := new(big.Int).SetString(r.cfg.EmergencyThreshold, 10)
	if !ok {
		threshold = big.NewInt(0)
	}
	balance, err := adapter.WalletBalance(ctx)
	if err != nil {
		log.Warn("failed to read wallet balance, parking claim", "claim_id", cr.ID, "error", err)
		return
	}
	if new(big.Int).SetUint64(balance).Cmp(threshold) < 0 {
		r.pause(ctx, "operator wallet balance below emergency threshold on "+swap.SourceChainID)
		return
	}

	// Consume the nonce now, not inside accept: this is the one point
	// this claim request is guaranteed to dispatch exactly once, since
	// processBatch drives PENDING rows one at a time (relayer.go's
	// package doc) and dispatch's CAS write removes it from that set.
	if err := r.store.ConsumeNonce(ctx, cr.Claimer, cr.Nonce); err != nil {
		log.Warn("failed to consume nonce, will retry next cycle", "claim_id", cr.ID, "error", err)
		return
	}

	r.dispatch(ctx, cr, swap, adapter)
}

func (r *Relayer) dispatch(ctx context.Context, cr *store.ClaimRequest, swap *store.Swap, adapter chainadapter.Adapter) {
	log := r.log.WithPrefix("relayer")
	expectedVersion := cr.Version

	cr.Status = store.ClaimInProgress
	if err := r.store.UpdateClaimRequestCAS(ctx, cr, expectedVersion); err != nil {
		log.Warn("failed to mark claim in progress, will retry next cycle", "claim_id", cr.ID, "error", err)
		return
	}
	expectedVersion = cr.Version

	txHash, err := adapter.ClaimHTLC(ctx, cr.ContractID, cr.Preimage)
	if err != nil {
		if coordinatorerrors.IsKind(err, coordinatorerrors.KindChainReverted) {
			cr.Status = store.ClaimFailed
			cr.ErrorMessage = err.Error()
			if uerr := r.store.UpdateClaimRequestCAS(ctx, cr, expectedVersion); uerr != nil {
				log.Error("failed to persist reverted claim", "claim_id", cr.ID, "error", uerr)
			}
			log.Warn("claim reverted on-chain, swap remains pool_fulfilled", "claim_id", cr.ID, "swap_id", swap.ID, "error", err)
			return
		}
		// Transient: leave IN_PROGRESS, the next poll retries the same
		// submission since the destination HTLC is still OPEN.
		log.Warn("claim submission failed transiently, will retry", "claim_id", cr.ID, "error", err)
		return
	}

	cr.TxHash = txHash
	cr.Status = store.ClaimCompleted
	if err := r.store.UpdateClaimRequestCAS(ctx, cr, expectedVersion); err != nil {
		log.Error("failed to persist completed claim", "claim_id", cr.ID, "error", err)
		return
	}

	r.advanceSwap(ctx, swap)

	r.appendEvent(ctx, swap.ID, store.EventUserClaimed, map[string]any{
		"chain":       swap.SourceChainID,
		"contract_id": hex.EncodeToString(cr.ContractID[:]),
		"tx_hash":     txHash,
	})
	log.Info("claim executed, user_claimed recorded", "claim_id", cr.ID, "swap_id", swap.ID, "tx_hash", txHash)
}

// advanceSwap transitions swap to USER_CLAIMED after a confirmed source
// claim. The resolver's own source-claim watcher (internal/resolver) races
// this same CAS update against its Claimed-event subscription; whichever
// sees it first wins, the other finds ErrVersionConflict and no-ops.
func (r *Relayer) advanceSwap(ctx context.Context, swap *store.Swap) {
	next, err := swapfsm.Transition(swap.State, swapfsm.EventUserClaimed, swapfsm.Input{Now: time.Now()})
	if err != nil {
		r.log.Warn("user_claimed transition rejected", "swap_id", swap.ID, "error", err)
		return
	}
	expectedVersion := swap.Version
	swap.State = next
	swap.UserClaimedAt = time.Now()
	if err := r.store.UpdateSwapCAS(ctx, swap, expectedVersion); err != nil {
		if err == store.ErrVersionConflict {
			return
		}
		r.log.Error("failed to persist user_claimed swap state", "swap_id", swap.ID, "error", err)
	}
}

func (r *Relayer) failClaim(ctx context.Context, cr *store.ClaimRequest, reason string) {
	expectedVersion := cr.Version
	cr.Status = store.ClaimFailed
	cr.ErrorMessage = reason
	if err := r.store.UpdateClaimRequestCAS(ctx, cr, expectedVersion); err != nil {
		r.log.Error("failed to persist failed claim request", "claim_id", cr.ID, "error", err)
		return
	}
	r.log.Warn("claim request rejected", "claim_id", cr.ID, "reason", reason)
}

