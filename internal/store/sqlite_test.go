package store

import (
	"context"
	"testing"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapfsm"
)

func newTestStore(t *testing.T) *Sqlite {
	t.Helper()
	s, err := Open(Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSwap(id string) *Swap {
	now := time.Now()
	return &Swap{
		ID:                    id,
		UserAddress:           "0xuser",
		BeneficiaryAddress:    "0xuser",
		SourceChainID:         "ethereum",
		SourceTokenID:         "USDC",
		SourceAmount:          1000,
		TargetChainID:         "arbitrum",
		TargetTokenID:         "USDC",
		TargetExpectedAmount:  990,
		TargetMinReceiveAmount: 980,
		HashLock:              [32]byte{1, 2, 3},
		Preimage:              [32]byte{9, 9, 9},
		State:                 swapfsm.StatePending,
		SourceTimelock:        now.Add(2 * time.Hour),
		DestinationTimelock:   now.Add(time.Hour),
		CreatedAt:             now,
		ExpiresAt:             now.Add(10 * time.Minute),
	}
}

func TestCreateAndGetSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sw := sampleSwap("swap-1")
	if err := s.CreateSwap(ctx, sw); err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}

	got, err := s.GetSwap(ctx, "swap-1")
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}
	if got.HashLock != sw.HashLock {
		t.Errorf("hash_lock roundtrip mismatch: %x != %x", got.HashLock, sw.HashLock)
	}
	if got.State != swapfsm.StatePending {
		t.Errorf("expected PENDING, got %s", got.State)
	}

	byHash, err := s.GetSwapByHashLock(ctx, sw.HashLock)
	if err != nil || byHash.ID != "swap-1" {
		t.Fatalf("GetSwapByHashLock: swap=%v err=%v", byHash, err)
	}
}

func TestUpdateSwapCASConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sw := sampleSwap("swap-2")
	if err := s.CreateSwap(ctx, sw); err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}

	sw.State = swapfsm.StateSourceLocked
	if err := s.UpdateSwapCAS(ctx, sw, 1); err != nil {
		t.Fatalf("first CAS update: %v", err)
	}
	if sw.Version != 2 {
		t.Errorf("expected version 2, got %d", sw.Version)
	}

	// Stale version should be rejected.
	stale := sampleSwap("swap-2")
	stale.State = swapfsm.StatePoolFulfilled
	if err := s.UpdateSwapCAS(ctx, stale, 1); err != ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestPoolLiquidityInvariantAndCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pl := &PoolLiquidity{ChainID: "arbitrum", TokenID: "USDC", Total: 100, Reserved: 0, Available: 100, MinThreshold: 5}
	if err := pl.CheckInvariant(); err != nil {
		t.Fatalf("expected healthy invariant, got %v", err)
	}
	if err := s.UpsertPoolLiquidity(ctx, pl, 0); err != nil {
		t.Fatalf("initial insert: %v", err)
	}

	got, err := s.GetPoolLiquidity(ctx, "arbitrum", "USDC")
	if err != nil {
		t.Fatalf("GetPoolLiquidity: %v", err)
	}
	if got.Total != 100 || got.Available != 100 {
		t.Errorf("unexpected pool state: %+v", got)
	}

	got.Available -= 10
	got.Reserved += 10
	if err := s.UpsertPoolLiquidity(ctx, got, got.Version); err != nil {
		t.Fatalf("CAS update: %v", err)
	}

	stale := &PoolLiquidity{ChainID: "arbitrum", TokenID: "USDC", Total: 100, Reserved: 20, Available: 80}
	if err := s.UpsertPoolLiquidity(ctx, stale, 1); err != ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict on stale version, got %v", err)
	}
}

func TestClaimRequestNonceReplayDetection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cr := &ClaimRequest{
		ID: "claim-1", SwapID: "swap-1", HTLCContract: "0xhtlc",
		Claimer: "0xuser", Nonce: 3, Deadline: time.Now().Add(time.Hour),
		Signature: []byte{0xde, 0xad},
	}
	if err := s.CreateClaimRequest(ctx, cr); err != nil {
		t.Fatalf("CreateClaimRequest: %v", err)
	}

	has, err := s.HasNonce(ctx, "0xuser", 3)
	if err != nil || !has {
		t.Fatalf("HasNonce: has=%v err=%v", has, err)
	}
	has, err = s.HasNonce(ctx, "0xuser", 4)
	if err != nil || has {
		t.Fatalf("expected nonce 4 unused: has=%v err=%v", has, err)
	}
}

func TestEventsListAfterResumesFromLastEventID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, typ := range []string{EventSwapCreated, EventSourceHTLCCreated, EventUserClaimed} {
		if err := s.AppendEvent(ctx, &Event{SwapID: "swap-1", Type: typ, Data: []byte(`{}`)}); err != nil {
			t.Fatalf("AppendEvent(%s): %v", typ, err)
		}
	}

	all, err := s.ListEventsAfter(ctx, "swap-1", "", 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 events, got %d err=%v", len(all), err)
	}

	resumed, err := s.ListEventsAfter(ctx, "swap-1", all[0].ID, 10)
	if err != nil || len(resumed) != 2 {
		t.Fatalf("expected 2 events after resume, got %d err=%v", len(resumed), err)
	}
	if resumed[0].Type != EventSourceHTLCCreated {
		t.Errorf("expected resume to skip the first event, got %s", resumed[0].Type)
	}
}

func TestLastProcessedBlockRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	block, err := s.GetLastProcessedBlock(ctx, "ethereum")
	if err != nil || block != 0 {
		t.Fatalf("expected 0 for unseen chain, got %d err=%v", block, err)
	}

	if err := s.SetLastProcessedBlock(ctx, "ethereum", 12345); err != nil {
		t.Fatalf("SetLastProcessedBlock: %v", err)
	}
	block, err = s.GetLastProcessedBlock(ctx, "ethereum")
	if err != nil || block != 12345 {
		t.Fatalf("expected 12345, got %d err=%v", block, err)
	}
}
