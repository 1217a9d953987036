package resolver

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapfsm"
)

// runSourceFundingDetector is W1: a loop over one chain's Funded event
// stream, matching each event to a PENDING swap by hash_lock. Grounded in
// secret_monitor.go's per-chain monitor goroutine shape, but subscribing
// to Funded rather than waiting on a single swap's claim.
func (r *Resolver) runSourceFundingDetector(ctx context.Context, chain string) {
	log := r.log.WithPrefix("resolver.w1." + chain)

	adapter, err := r.adapter(chain)
	if err != nil {
		log.Error("no adapter for source chain", "error", err)
		return
	}

	fromBlock, err := r.store.GetLastProcessedBlock(ctx, chain)
	if err != nil {
		log.Warn("failed to read last processed block, starting from 0", "error", err)
	}

	events, err := adapter.SubscribeFunded(ctx, fromBlock)
	if err != nil {
		log.Error("failed to subscribe to funded events", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				log.Warn("funded event stream closed")
				return
			}
			r.handleFunded(ctx, chain, ev)
			if err := r.store.SetLastProcessedBlock(ctx, chain, ev.BlockNumber); err != nil {
				log.Warn("failed to persist last processed block", "block", ev.BlockNumber, "error", err)
			}
		}
	}
}

func (r *Resolver) handleFunded(ctx context.Context, chain string, ev chainadapter.FundedEvent) {
	log := r.log.WithPrefix("resolver.w1." + chain)

	swap, err := r.store.GetSwapByHashLock(ctx, ev.HashLock)
	if err != nil {
		if err == store.ErrNotFound {
			// Unknown hash_lock: ignored per spec §4.4 W1, could be another
			// protocol's HTLC or simple noise on a shared contract.
			return
		}
		log.Error("failed to look up swap by hash_lock", "error", err)
		return
	}

	if swap.State != swapfsm.StatePending {
		// Already processed (e.g. a replayed event after restart); the
		// per-swap CAS below would reject it anyway, so just skip.
		return
	}

	requiredTimelock := time.Now().Add(r.cfg.SafetyWindow)
	next, ferr := swapfsm.Transition(swap.State, swapfsm.EventSourceFunded, swapfsm.Input{
		Now:              time.Now(),
		ObservedTimelock: ev.Timelock,
		RequiredTimelock: requiredTimelock,
	})
	if ferr != nil {
		log.Warn("rejecting source funding", "swap_id", swap.ID, "error", ferr)
		return
	}

	expectedVersion := swap.Version
	swap.UserHTLCID = hex.EncodeToString(ev.ContractID[:])
	swap.SourceTimelock = ev.Timelock
	swap.SourceFundedAt = time.Now()
	swap.State = next

	if err := r.store.UpdateSwapCAS(ctx, swap, expectedVersion); err != nil {
		if err == store.ErrVersionConflict {
			// Another worker (or a replayed event) already advanced this
			// swap; not an error.
			return
		}
		log.Error("failed to persist source funding", "swap_id", swap.ID, "error", err)
		return
	}

	r.appendEvent(ctx, swap.ID, store.EventSourceHTLCCreated, map[string]any{
		"chain":       chain,
		"contract_id": swap.UserHTLCID,
		"tx_hash":     ev.TxHash,
	})
	log.Info("source htlc funded", "swap_id", swap.ID, "chain", chain, "tx_hash", ev.TxHash)
}
