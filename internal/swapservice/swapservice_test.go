package swapservice

import (
	"context"
	"testing"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/config"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/pool"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
)

type fixedPrice struct{ rate float64 }

func (f fixedPrice) Rate(string, string, string, string) (float64, error) {
	return f.rate, nil
}

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	pl := pool.New(st, 8, nil)
	if err := pl.EnsureToken(context.Background(), "arbitrum", "USDC", 1_000_000, 1000); err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}

	chains := map[string]config.ChainConfig{
		"ethereum": {ChainID: 1, Family: config.ChainFamilyEVM},
		"arbitrum": {ChainID: 42161, Family: config.ChainFamilyEVM},
	}
	tokens := map[string]config.TokenConfig{
		"ethereum/ETH":  {Chain: "ethereum", Symbol: "ETH", MinAmount: 1, MaxAmount: 0},
		"arbitrum/USDC": {Chain: "arbitrum", Symbol: "USDC", MinAmount: 1, MaxAmount: 0},
	}
	fees := config.FeeConfig{ExchangeFeeBPS: 100, NetworkFeeFlat: 0}
	quote := config.DefaultQuoteConfig()

	svc := New(st, pl, fixedPrice{rate: 2.0}, chains, tokens, fees, quote, nil)
	return svc, st
}

func TestGetQuoteAppliesFeeAndChecksMinReceive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	q, err := svc.GetQuote(ctx, QuoteRequest{
		SourceChain: "ethereum", SourceToken: "ETH", SourceAmount: 100,
		TargetChain: "arbitrum", TargetToken: "USDC",
		MinReceiveAmount: 100,
	})
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	// gross = 200, exchange fee 1% = 2, expected = 198.
	if q.ExpectedAmount != 198 {
		t.Errorf("ExpectedAmount = %d, want 198", q.ExpectedAmount)
	}

	_, err = svc.GetQuote(ctx, QuoteRequest{
		SourceChain: "ethereum", SourceToken: "ETH", SourceAmount: 100,
		TargetChain: "arbitrum", TargetToken: "USDC",
		MinReceiveAmount: 199,
	})
	if !coordinatorerrors.IsKind(err, coordinatorerrors.KindValidation) {
		t.Errorf("expected KindValidation for below-min-receive, got %v", err)
	}
}

func TestCreateSwapReservesAndInsertsPending(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	q, err := svc.GetQuote(ctx, QuoteRequest{
		SourceChain: "ethereum", SourceToken: "ETH", SourceAmount: 100,
		TargetChain: "arbitrum", TargetToken: "USDC",
	})
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}

	swap, err := svc.CreateSwap(ctx, CreateSwapRequest{
		UserAddress:        "0xuser",
		BeneficiaryAddress: "0xbeneficiary",
		Quote:              q,
	})
	if err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}
	if swap.State != "PENDING" {
		t.Errorf("State = %s, want PENDING", swap.State)
	}
	if swap.HashLock == ([32]byte{}) {
		t.Error("expected a non-zero hash_lock")
	}

	pl, err := st.GetPoolLiquidity(ctx, "arbitrum", "USDC")
	if err != nil {
		t.Fatalf("GetPoolLiquidity: %v", err)
	}
	if pl.Reserved != q.ExpectedAmount {
		t.Errorf("Reserved = %d, want %d", pl.Reserved, q.ExpectedAmount)
	}

	events, err := st.ListEventsAfter(ctx, swap.ID, "", 10)
	if err != nil {
		t.Fatalf("ListEventsAfter: %v", err)
	}
	if len(events) != 1 || events[0].Type != store.EventSwapCreated {
		t.Errorf("expected one swap_created event, got %+v", events)
	}
}

func TestCreateSwapRejectsExpiredQuote(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	q, err := svc.GetQuote(ctx, QuoteRequest{
		SourceChain: "ethereum", SourceToken: "ETH", SourceAmount: 100,
		TargetChain: "arbitrum", TargetToken: "USDC",
	})
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	q.ExpiresAt = time.Now().Add(-time.Minute)

	_, err = svc.CreateSwap(ctx, CreateSwapRequest{
		UserAddress:        "0xuser",
		BeneficiaryAddress: "0xbeneficiary",
		Quote:              q,
	})
	if !coordinatorerrors.IsKind(err, coordinatorerrors.KindValidation) {
		t.Errorf("expected KindValidation for expired quote, got %v", err)
	}
}
