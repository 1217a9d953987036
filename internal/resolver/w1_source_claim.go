package resolver

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapfsm"
)

// runSourceClaimWatcher subscribes to a source chain's Claimed events and
// advances the matching swap to USER_CLAIMED, recording the revealed
// preimage along the way. Per spec §4.2's transition diagram, USER_CLAIMED
// is reached by "relayer executes user claim on source" — normally the
// Relayer's own dispatch (internal/relayer) performs this same CAS update
// right after its ClaimHTLC confirms. This watcher is the reconciliation
// path: whichever of the two sees the chain state first wins the CAS: the
// other finds ErrVersionConflict and no-ops. It is also the only path at
// all for a claim submitted directly by the user rather than through the
// Relayer. A Claimed event's preimage hashes (SHA-256) to the claimed
// HTLC's own hash_lock, so that hash doubles as the lookup key into the
// Store — no separate contract_id index is needed. Once USER_CLAIMED is
// recorded, W3's timeout sweeper (internal/resolver/w3_timeout_sweeper.go)
// uses the now-public preimage to claim the pool's destination HTLC as
// cleanup; that claim never transitions state further.
func (r *Resolver) runSourceClaimWatcher(ctx context.Context, chain string) {
	log := r.log.WithPrefix("resolver.w1claim." + chain)

	adapter, err := r.adapter(chain)
	if err != nil {
		log.Error("no adapter for source chain", "error", err)
		return
	}

	fromBlock, err := r.store.GetLastProcessedBlock(ctx, chain)
	if err != nil {
		log.Warn("failed to read last processed block, starting from 0", "error", err)
	}

	events, err := adapter.SubscribeClaimed(ctx, fromBlock)
	if err != nil {
		log.Error("failed to subscribe to claimed events", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				log.Warn("claimed event stream closed")
				return
			}
			r.handleSourceClaimed(ctx, chain, ev)
		}
	}
}

func (r *Resolver) handleSourceClaimed(ctx context.Context, chain string, ev chainadapter.ClaimedEvent) {
	log := r.log.WithPrefix("resolver.w1claim." + chain)

	hashLock := sha256.Sum256(ev.Preimage[:])
	swap, err := r.store.GetSwapByHashLock(ctx, hashLock)
	if err != nil {
		if err == store.ErrNotFound {
			return // some other protocol's HTLC on a shared contract
		}
		log.Error("failed to look up swap by revealed hash_lock", "error", err)
		return
	}
	if swap.SourceChainID != chain || swap.State != swapfsm.StatePoolFulfilled {
		return
	}

	next, ferr := swapfsm.Transition(swap.State, swapfsm.EventUserClaimed, swapfsm.Input{Now: time.Now()})
	if ferr != nil {
		log.Warn("user_claimed transition rejected", "swap_id", swap.ID, "error", ferr)
		return
	}

	expectedVersion := swap.Version
	swap.Preimage = ev.Preimage
	swap.UserClaimedAt = time.Now()
	swap.State = next
	if err := r.store.UpdateSwapCAS(ctx, swap, expectedVersion); err != nil {
		if err == store.ErrVersionConflict {
			return
		}
		log.Error("failed to persist revealed preimage", "swap_id", swap.ID, "error", err)
		return
	}
	log.Info("preimage revealed by user claim on source chain", "swap_id", swap.ID, "chain", chain, "tx_hash", ev.TxHash)
}
