package store

import (
	"context"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapfsm"
)

// Store is the abstract transactional persistence boundary consulted by
// every coordinator component. Components depend only on this interface;
// Sqlite is the one production implementation, grounded in the teacher's
// SQLite storage layer but generalized to the swap coordinator's schema.
type Store interface {
	// CreateSwap inserts a new swap at version 1. Returns an error if id
	// already exists.
	CreateSwap(ctx context.Context, swap *Swap) error
	// GetSwap returns the current row for id, or ErrNotFound.
	GetSwap(ctx context.Context, id string) (*Swap, error)
	// GetSwapByHashLock finds a swap by its hash_lock — used by the
	// source-funding detector (W1) to match an on-chain Funded event back
	// to a pending swap.
	GetSwapByHashLock(ctx context.Context, hashLock [32]byte) (*Swap, error)
	// UpdateSwapCAS persists swap only if the stored version still equals
	// expectedVersion, then bumps the stored version. Returns
	// ErrVersionConflict on a lost race.
	UpdateSwapCAS(ctx context.Context, swap *Swap, expectedVersion int64) error
	// ListSwaps returns swaps matching filter, most recently created first.
	ListSwaps(ctx context.Context, filter SwapFilter) ([]*Swap, error)
	// ListSwapsByState is a narrower convenience query used by the
	// Resolver's workers, ordered by created_at ascending.
	ListSwapsByState(ctx context.Context, state swapfsm.State, limit int) ([]*Swap, error)

	// GetPoolLiquidity returns the ledger row for (chain, token).
	GetPoolLiquidity(ctx context.Context, chain, token string) (*PoolLiquidity, error)
	// UpsertPoolLiquidity creates the row if absent (expectedVersion == 0)
	// or CAS-updates it otherwise.
	UpsertPoolLiquidity(ctx context.Context, pl *PoolLiquidity, expectedVersion int64) error
	// ListPoolLiquidity returns every tracked (chain, token) ledger row.
	ListPoolLiquidity(ctx context.Context) ([]*PoolLiquidity, error)

	// CreateClaimRequest inserts a new claim request at version 1.
	CreateClaimRequest(ctx context.Context, cr *ClaimRequest) error
	// GetClaimRequest returns the current row for id, or ErrNotFound.
	GetClaimRequest(ctx context.Context, id string) (*ClaimRequest, error)
	// UpdateClaimRequestCAS persists cr only if the stored version still
	// equals expectedVersion.
	UpdateClaimRequestCAS(ctx context.Context, cr *ClaimRequest, expectedVersion int64) error
	// ListClaimRequestsByStatus returns up to limit rows in the given
	// status, oldest first.
	ListClaimRequestsByStatus(ctx context.Context, status ClaimStatus, limit int) ([]*ClaimRequest, error)
	// NextNonce returns the next strictly-monotonic nonce expected from
	// claimer (0 if none have been consumed yet). It is a pure read with
	// no side effect, so the relayer's accept() can call it on every
	// re-evaluation of a parked ClaimRequest without drifting the
	// counter; ConsumeNonce is the only thing that advances it.
	NextNonce(ctx context.Context, claimer string) (uint64, error)
	// ConsumeNonce advances claimer's next-nonce counter past nonce.
	// Called exactly once per dispatched claim request, immediately
	// before its CAS transition out of PENDING (see
	// internal/relayer/execute.go), so the single-actor relayer consumes
	// each accepted nonce exactly once regardless of how many times
	// accept() re-validated it while parked.
	ConsumeNonce(ctx context.Context, claimer string, nonce uint64) error
	// HasNonce reports whether claimer has already submitted a
	// ClaimRequest with the given nonce (used for replay rejection).
	HasNonce(ctx context.Context, claimer string, nonce uint64) (bool, error)
	// CountCompletedClaimsSince counts claimer's COMPLETED claims with
	// UpdatedAt >= since, for the relayer's per-user rate limit. An empty
	// claimer counts globally.
	CountCompletedClaimsSince(ctx context.Context, claimer string, since time.Time) (int, error)

	// AppendEvent appends an immutable Event row.
	AppendEvent(ctx context.Context, ev *Event) error
	// ListEventsAfter returns events for swapID with an id greater than
	// afterID (empty afterID means "from the beginning"), ordered by id.
	// This backs the SSE endpoint's Last-Event-ID resume semantics.
	ListEventsAfter(ctx context.Context, swapID, afterID string, limit int) ([]*Event, error)
	// ListEventsSince returns events across every swap with an id greater
	// than afterID, ordered by id. Used by the operator websocket feed,
	// which has no single swap to scope to.
	ListEventsSince(ctx context.Context, afterID string, limit int) ([]*Event, error)

	// GetLastProcessedBlock returns the last fully-processed block number
	// for chain's event subscription, or 0 if none recorded.
	GetLastProcessedBlock(ctx context.Context, chain string) (uint64, error)
	// SetLastProcessedBlock records the last fully-processed block number
	// for chain, used to resume a dropped subscription without replay gaps.
	SetLastProcessedBlock(ctx context.Context, chain string, block uint64) error

	Close() error
}
