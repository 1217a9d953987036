package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapfsm"
)

func newSourceLockedSwap(t *testing.T, st store.Store) *store.Swap {
	t.Helper()
	ctx := context.Background()

	var preimage [32]byte
	copy(preimage[:], []byte("w2-test-fixed-32-byte-preimage!!"))

	swap := &store.Swap{
		ID:                  "swap-w2",
		UserAddress:         "0xuser",
		BeneficiaryAddress:  "0xbeneficiary",
		SourceChainID:       "arbitrum",
		SourceTokenID:       "USDC",
		TargetChainID:       "polygon",
		TargetTokenID:       "USDC",
		TargetExpectedAmount: 100,
		HashLock:            preimage, // not exercised by fundDestination
		Preimage:            preimage,
		State:               swapfsm.StateSourceLocked,
		SourceTimelock:      time.Now().Add(2 * time.Hour),
		DestinationTimelock: time.Now().Add(time.Hour),
		CreatedAt:           time.Now(),
		ExpiresAt:           time.Now().Add(time.Hour),
	}
	if err := st.CreateSwap(ctx, swap); err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}
	return swap
}

func TestFundDestinationTakesLeaseBeforeFunding(t *testing.T) {
	adapter := &fakeAdapter{chainID: "polygon", fundTxHash: "0xtx"}
	r, st := newTestResolver(t, map[string]chainadapter.Adapter{"polygon": adapter})
	ctx := context.Background()

	if err := r.pool.EnsureToken(ctx, "polygon", "USDC", 1000, 0); err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}
	if err := r.pool.Reserve(ctx, "polygon", "USDC", 100); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	swap := newSourceLockedSwap(t, st)

	r.fundDestination(ctx, swap)

	if adapter.fundCalls != 1 {
		t.Fatalf("expected exactly one FundHTLC call, got %d", adapter.fundCalls)
	}

	got, err := st.GetSwap(ctx, swap.ID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if got.State != swapfsm.StatePoolFulfilled {
		t.Errorf("expected POOL_FULFILLED, got %s", got.State)
	}
	if !got.FundingLeasedAt.IsZero() {
		t.Errorf("expected lease cleared after successful funding, got %v", got.FundingLeasedAt)
	}
	if got.PoolHTLCID == "" {
		t.Errorf("expected pool_htlc_id to be recorded")
	}
}

func TestFundDestinationSkipsRowWithFreshLease(t *testing.T) {
	adapter := &fakeAdapter{chainID: "polygon", fundTxHash: "0xtx"}
	r, st := newTestResolver(t, map[string]chainadapter.Adapter{"polygon": adapter})
	ctx := context.Background()

	if err := r.pool.EnsureToken(ctx, "polygon", "USDC", 1000, 0); err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}
	if err := r.pool.Reserve(ctx, "polygon", "USDC", 100); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	swap := newSourceLockedSwap(t, st)

	// Simulate a concurrent W2 pass already holding a fresh lease on this
	// row: fundDestination must not call FundHTLC a second time.
	swap.FundingLeasedAt = time.Now()
	if err := st.UpdateSwapCAS(ctx, swap, swap.Version); err != nil {
		t.Fatalf("UpdateSwapCAS (simulate lease): %v", err)
	}

	leased, err := st.GetSwap(ctx, swap.ID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	r.fundDestination(ctx, leased)

	if adapter.fundCalls != 0 {
		t.Fatalf("expected FundHTLC not to be called while lease is fresh, got %d calls", adapter.fundCalls)
	}
}

func TestFundDestinationReleasesAndFailsOnRevert(t *testing.T) {
	adapter := &fakeAdapter{chainID: "polygon", fundErr: coordinatorerrors.ChainReverted("beneficiary_zero", "htlc funding reverted")}
	r, st := newTestResolver(t, map[string]chainadapter.Adapter{"polygon": adapter})
	ctx := context.Background()

	if err := r.pool.EnsureToken(ctx, "polygon", "USDC", 1000, 0); err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}
	if err := r.pool.Reserve(ctx, "polygon", "USDC", 100); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	swap := newSourceLockedSwap(t, st)
	r.fundDestination(ctx, swap)

	got, err := st.GetSwap(ctx, swap.ID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if got.State != swapfsm.StateFailed {
		t.Errorf("expected FAILED after a reverted fund attempt, got %s", got.State)
	}
	if !got.FundingLeasedAt.IsZero() {
		t.Errorf("expected lease cleared after failure, got %v", got.FundingLeasedAt)
	}

	snap, err := r.pool.Snapshot(ctx, "polygon", "USDC")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Reserved != 0 {
		t.Errorf("expected reservation released on failure, reserved=%d", snap.Reserved)
	}
}
