// Package pool implements the Pool Liquidity Manager: reservation, commit,
// release, and refund-in accounting over a multi-token inventory shared by
// many concurrent swaps. Every mutation goes through the Store's
// optimistic-concurrency CAS; callers never hold a lock across an I/O call,
// they retry a bounded number of times on a lost race.
package pool

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/pkg/logging"
)

// Manager is the Pool Liquidity Manager described in spec §4.3.
type Manager struct {
	store      store.Store
	maxRetries int
	log        *logging.Logger
}

// New constructs a Manager. maxRetries bounds per-operation CAS retries;
// pass 0 to use the spec default of 8.
func New(st store.Store, maxRetries int, log *logging.Logger) *Manager {
	if maxRetries <= 0 {
		maxRetries = 8
	}
	if log == nil {
		log = logging.Default()
	}
	return &Manager{store: st, maxRetries: maxRetries, log: log.WithPrefix("pool")}
}

// Snapshot is the read-only view returned by Snapshot.
type Snapshot struct {
	Total, Reserved, Available uint64
	Utilization                float64
	Healthy                    bool
}

// EnsureToken creates the ledger row for (chain, token) with the given
// initial total if it does not already exist. Used at startup to seed
// pools from configuration.
func (m *Manager) EnsureToken(ctx context.Context, chain, token string, initialTotal, minThreshold uint64) error {
	existing, err := m.store.GetPoolLiquidity(ctx, chain, token)
	if err == nil {
		_ = existing
		return nil
	}
	if err != store.ErrNotFound {
		return err
	}
	pl := &store.PoolLiquidity{
		ChainID: chain, TokenID: token,
		Total: initialTotal, Reserved: 0, Available: initialTotal,
		MinThreshold: minThreshold,
	}
	return m.store.UpsertPoolLiquidity(ctx, pl, 0)
}

// Reserve atomically asserts available >= amount, then sets
// available -= amount; reserved += amount.
func (m *Manager) Reserve(ctx context.Context, chain, token string, amount uint64) error {
	return m.mutate(ctx, chain, token, func(pl *store.PoolLiquidity) error {
		if amount > pl.Available {
			return coordinatorerrors.InsufficientLiquidity(chain, token, amount, pl.Available)
		}
		if pl.Available-amount < pl.MinThreshold {
			return coordinatorerrors.Unhealthy(chain, token)
		}
		pl.Available -= amount
		pl.Reserved += amount
		return nil
	})
}

// Commit finalizes a reservation into an outflow once the pool's
// destination HTLC is funded: reserved -= amount; total -= amount.
func (m *Manager) Commit(ctx context.Context, chain, token string, amount uint64) error {
	return m.mutate(ctx, chain, token, func(pl *store.PoolLiquidity) error {
		if amount > pl.Reserved {
			return coordinatorerrors.InvariantViolation("commit_exceeds_reserved",
				fmt.Sprintf("commit %d exceeds reserved %d for %s/%s", amount, pl.Reserved, chain, token))
		}
		if amount > pl.Total {
			return coordinatorerrors.InvariantViolation("commit_exceeds_total",
				fmt.Sprintf("commit %d exceeds total %d for %s/%s", amount, pl.Total, chain, token))
		}
		pl.Reserved -= amount
		pl.Total -= amount
		return nil
	})
}

// Release cancels a reservation when a swap expires or aborts before
// destination funding: reserved -= amount; available += amount.
func (m *Manager) Release(ctx context.Context, chain, token string, amount uint64) error {
	return m.mutate(ctx, chain, token, func(pl *store.PoolLiquidity) error {
		if amount > pl.Reserved {
			return coordinatorerrors.InvariantViolation("release_exceeds_reserved",
				fmt.Sprintf("release %d exceeds reserved %d for %s/%s", amount, pl.Reserved, chain, token))
		}
		pl.Reserved -= amount
		pl.Available += amount
		return nil
	})
}

// RefundIn records the pool's own destination HTLC being refunded after a
// user failed to claim before destination_timelock: total += amount;
// available += amount.
func (m *Manager) RefundIn(ctx context.Context, chain, token string, amount uint64) error {
	return m.mutate(ctx, chain, token, func(pl *store.PoolLiquidity) error {
		pl.Total += amount
		pl.Available += amount
		return nil
	})
}

// Snapshot returns the current (total, reserved, available, utilization,
// health) view for (chain, token).
func (m *Manager) Snapshot(ctx context.Context, chain, token string) (Snapshot, error) {
	pl, err := m.store.GetPoolLiquidity(ctx, chain, token)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Total: pl.Total, Reserved: pl.Reserved, Available: pl.Available,
		Utilization: pl.Utilization(), Healthy: pl.Healthy(),
	}, nil
}

// mutate applies fn to the current ledger row and persists the result via
// CAS, retrying up to m.maxRetries times on a lost race. fn must leave the
// invariant total == reserved + available intact; mutate double-checks it
// before persisting and refuses to write an inconsistent row.
func (m *Manager) mutate(ctx context.Context, chain, token string, fn func(*store.PoolLiquidity) error) error {
	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		pl, err := m.store.GetPoolLiquidity(ctx, chain, token)
		if err != nil {
			return err
		}
		expectedVersion := pl.Version

		if err := fn(pl); err != nil {
			return err
		}
		if err := pl.CheckInvariant(); err != nil {
			m.log.Error("pool invariant violated before persist", "chain", chain, "token", token, "error", err)
			return err
		}

		err = m.store.UpsertPoolLiquidity(ctx, pl, expectedVersion)
		if err == nil {
			return nil
		}
		if err != store.ErrVersionConflict {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("pool: exceeded %d CAS retries for %s/%s: %w", m.maxRetries, chain, token, lastErr)
}
