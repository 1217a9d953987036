package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/config"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/pool"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
)

// fakeAdapter is a minimal chainadapter.Adapter double: every call counts
// and errors are injected per-test, no real chain I/O.
type fakeAdapter struct {
	chainID      string
	fundErr      error
	fundCalls    int
	fundTxHash   string
	readDetails  chainadapter.HTLCDetails
	readErr      error
}

func (f *fakeAdapter) ChainID() string { return f.chainID }

func (f *fakeAdapter) FundHTLC(ctx context.Context, contractID [32]byte, token, beneficiary string, hashLock [32]byte, timelock time.Time, value uint64) (string, error) {
	f.fundCalls++
	if f.fundErr != nil {
		return "", f.fundErr
	}
	return f.fundTxHash, nil
}

func (f *fakeAdapter) ClaimHTLC(ctx context.Context, contractID [32]byte, preimage [32]byte) (string, error) {
	return "", nil
}

func (f *fakeAdapter) RefundHTLC(ctx context.Context, contractID [32]byte) (string, error) {
	return "", nil
}

func (f *fakeAdapter) ReadHTLC(ctx context.Context, contractID [32]byte) (chainadapter.HTLCDetails, error) {
	return f.readDetails, f.readErr
}

func (f *fakeAdapter) WalletBalance(ctx context.Context) (uint64, error) { return 0, nil }

func (f *fakeAdapter) CurrentGasPrice(ctx context.Context) (uint64, error) { return 0, nil }

func (f *fakeAdapter) WaitConfirmations(ctx context.Context, txHash string, n uint32) (chainadapter.Receipt, error) {
	return chainadapter.Receipt{}, nil
}

func (f *fakeAdapter) SubscribeFunded(ctx context.Context, fromBlock uint64) (<-chan chainadapter.FundedEvent, error) {
	ch := make(chan chainadapter.FundedEvent)
	return ch, nil
}

func (f *fakeAdapter) SubscribeClaimed(ctx context.Context, fromBlock uint64) (<-chan chainadapter.ClaimedEvent, error) {
	ch := make(chan chainadapter.ClaimedEvent)
	return ch, nil
}

func (f *fakeAdapter) SubscribeRefunded(ctx context.Context, fromBlock uint64) (<-chan chainadapter.RefundedEvent, error) {
	ch := make(chan chainadapter.RefundedEvent)
	return ch, nil
}

func (f *fakeAdapter) Close() error { return nil }

func newTestResolver(t *testing.T, adapters map[string]chainadapter.Adapter) (*Resolver, store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	pm := pool.New(st, 8, nil)
	cfg := config.DefaultResolverConfig()
	r := New(st, pm, adapters, cfg, nil)
	return r, st
}
