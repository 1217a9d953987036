// Package resolver implements the Resolver described in spec §4.4: three
// cooperative workers driving a swap from PENDING through SOURCE_LOCKED and
// POOL_FULFILLED to USER_CLAIMED (or into EXPIRED/FAILED on the timeout
// path), each a loop over an event stream or a ticker. Grounded in the
// teacher's CheckTimeouts (internal/swap/coordinator_timeout.go, a
// ticker-driven scan-and-act over the swap map) and SecretMonitor
// (internal/swap/secret_monitor.go, per-chain monitor goroutines feeding a
// shared channel), generalized here from per-swap goroutines to one
// subscription per chain, matching spec §4.1's chain-scoped Subscribe.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/config"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/pool"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/pkg/logging"
)

// UTXORegistrar is implemented by chainadapter.UTXO: it registers the
// terms of an HTLC that adapter instance did not itself fund, since a UTXO
// chain has no contract storage the adapter could otherwise recover those
// terms from. No worker in this package calls it; a UTXO adapter knows
// only the HTLCs it funded. EVM adapters don't need this — the HTLC
// contract's own storage mapping already answers ReadHTLC for any
// contract_id.
type UTXORegistrar interface {
	RegisterHTLC(contractID [32]byte, originatorPubKey, beneficiaryPubKey []byte, hashLock [32]byte, locktime time.Time, value uint64) error
}

// Resolver owns the three workers and the set of per-chain adapters they
// submit through.
type Resolver struct {
	store    store.Store
	pool     *pool.Manager
	adapters map[string]chainadapter.Adapter
	cfg      config.ResolverConfig
	log      *logging.Logger
}

// New constructs a Resolver. adapters must contain one entry per
// config.ChainConfig key the coordinator serves.
func New(st store.Store, pl *pool.Manager, adapters map[string]chainadapter.Adapter, cfg config.ResolverConfig, log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.Default()
	}
	return &Resolver{store: st, pool: pl, adapters: adapters, cfg: cfg, log: log.WithPrefix("resolver")}
}

func (r *Resolver) adapter(chain string) (chainadapter.Adapter, error) {
	a, ok := r.adapters[chain]
	if !ok {
		return nil, fmt.Errorf("resolver: no adapter configured for chain %s", chain)
	}
	return a, nil
}

// Run starts W1 (per source chain), W2, and W3 in their own goroutines and
// returns at once; the workers stop when ctx is cancelled. Each worker logs its own fatal errors rather than tearing
// down its siblings — a dropped subscription on one chain must not stop
// the timeout sweeper from protecting funds on every other chain.
func (r *Resolver) Run(ctx context.Context, sourceChains []string) {
	for _, chain := range sourceChains {
		chain := chain
		go r.runSourceFundingDetector(ctx, chain)
		go r.runSourceClaimWatcher(ctx, chain)
	}
	go r.runDestinationFunder(ctx)
	go r.runTimeoutSweeper(ctx)
}

func (r *Resolver) appendEvent(ctx context.Context, swapID, typ string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = json.RawMessage("{}")
	}
	ev := &store.Event{SwapID: swapID, Type: typ, Data: raw, Timestamp: time.Now()}
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		r.log.Warn("failed to append event", "swap_id", swapID, "type", typ, "error", err)
	}
}

// DeriveContractID computes the deterministic destination contract_id per
// spec §4.4 W2: keccak(originator || beneficiary || hash_lock ||
// destination_timelock || token || amount || nonce). keccak256 is used
// only for this ID derivation, never for hash_lock itself — hash_lock
// stays SHA-256 throughout, per the pinned Open-Question decision in
// DESIGN.md.
func DeriveContractID(originator, beneficiary string, hashLock [32]byte, destinationTimelock time.Time, token string, amount uint64, nonce uint64) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(originator))
	h.Write([]byte(beneficiary))
	h.Write(hashLock[:])
	var tbuf [8]byte
	putUint64(tbuf[:], uint64(destinationTimelock.Unix()))
	h.Write(tbuf[:])
	h.Write([]byte(token))
	var abuf [8]byte
	putUint64(abuf[:], amount)
	h.Write(abuf[:])
	var nbuf [8]byte
	putUint64(nbuf[:], nonce)
	h.Write(nbuf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v)
		v >>= 8
	}
}

// verifyPreimage reports whether preimage hashes (SHA-256) to hashLock.
func verifyPreimage(preimage, hashLock [32]byte) bool {
	sum := sha256.Sum256(preimage[:])
	return sum == hashLock
}

// parseContractID decodes a hex-encoded contract_id as stored on a Swap
// row (UserHTLCID/PoolHTLCID).
func parseContractID(s string) ([32]byte, error) {
	var id [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("resolver: bad contract_id %q: %w", s, err)
	}
	if len(b) != 32 {
		return id, fmt.Errorf("resolver: contract_id %q is %d bytes, want 32", s, len(b))
	}
	copy(id[:], b)
	return id, nil
}
