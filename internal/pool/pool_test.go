package pool

import (
	"context"
	"sync"
	"testing"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, 8, nil), st
}

func TestReserveThenReleaseIsIdentity(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	if err := m.EnsureToken(ctx, "arbitrum", "USDC", 100, 0); err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}

	before, _ := st.GetPoolLiquidity(ctx, "arbitrum", "USDC")

	if err := m.Reserve(ctx, "arbitrum", "USDC", 9); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := m.Release(ctx, "arbitrum", "USDC", 9); err != nil {
		t.Fatalf("Release: %v", err)
	}

	after, _ := st.GetPoolLiquidity(ctx, "arbitrum", "USDC")
	if after.Total != before.Total || after.Reserved != before.Reserved || after.Available != before.Available {
		t.Errorf("reserve+release not identity: before=%+v after=%+v", before, after)
	}
}

func TestReserveThenCommitReducesTotalOnly(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	if err := m.EnsureToken(ctx, "arbitrum", "USDC", 100, 0); err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}
	if err := m.Reserve(ctx, "arbitrum", "USDC", 10); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	snapBefore, _ := m.Snapshot(ctx, "arbitrum", "USDC")

	if err := m.Commit(ctx, "arbitrum", "USDC", 10); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snapAfter, _ := m.Snapshot(ctx, "arbitrum", "USDC")
	if snapAfter.Total != snapBefore.Total-10 {
		t.Errorf("expected total reduced by 10, got %d -> %d", snapBefore.Total, snapAfter.Total)
	}
	if snapAfter.Available != snapBefore.Available {
		t.Errorf("expected available unchanged, got %d -> %d", snapBefore.Available, snapAfter.Available)
	}
	if snapAfter.Reserved != 0 {
		t.Errorf("expected reserved to return to 0, got %d", snapAfter.Reserved)
	}
}

func TestHappyPathScenarioFromSpec(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.EnsureToken(ctx, "arbitrum", "TokenB", 100, 0); err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}

	// Amounts expressed in whole integer units, after the spec's worked
	// example (10 Token A -> 9.9 Token B, 1% fee) with 9.9 rounded down to 9.
	if err := m.Reserve(ctx, "arbitrum", "TokenB", 9); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	snap, _ := m.Snapshot(ctx, "arbitrum", "TokenB")
	if snap.Total != 100 || snap.Reserved != 9 || snap.Available != 91 {
		t.Fatalf("unexpected post-reserve snapshot: %+v", snap)
	}

	if err := m.Commit(ctx, "arbitrum", "TokenB", 9); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	snap, _ = m.Snapshot(ctx, "arbitrum", "TokenB")
	if snap.Total != 91 || snap.Reserved != 0 || snap.Available != 91 {
		t.Fatalf("unexpected post-commit snapshot: %+v", snap)
	}
}

func TestConcurrentReservesAtTheEdge(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.EnsureToken(ctx, "arbitrum", "TokenB", 100, 0); err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}

	const callers = 10
	const amount = 15 // 10 * 15 = 150 > 100 available

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, failures := 0, 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Reserve(ctx, "arbitrum", "TokenB", amount)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if coordinatorerrors.IsKind(err, coordinatorerrors.KindInsufficientLiquidity) {
				failures++
			}
		}()
	}
	wg.Wait()

	if successes != 6 {
		t.Errorf("expected exactly 6 successful reservations, got %d", successes)
	}
	if failures != 4 {
		t.Errorf("expected exactly 4 InsufficientLiquidity failures, got %d", failures)
	}
}

func TestUnhealthyBelowMinThreshold(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.EnsureToken(ctx, "arbitrum", "USDC", 100, 10); err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}

	err := m.Reserve(ctx, "arbitrum", "USDC", 95)
	if err == nil {
		t.Fatal("expected unhealthy rejection")
	}
	if coordinatorerrors.ReasonOf(err) != "unhealthy" {
		t.Errorf("expected reason=unhealthy, got %v", err)
	}
}
