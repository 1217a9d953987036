// Package relayer implements the Meta-Transaction Relayer described in
// spec §4.5: a single-actor queue-driven component processing signed
// ClaimRequest rows, verifying each against the EIP-712 digest the user
// signed, then executing the accepted ones sequentially through the
// claim's source-chain adapter. Grounded in the teacher's
// internal/contracts/htlc/client.go ecdsa/signing plumbing for the
// cryptographic half, and in bingcicle-atomic-swap's ExternalSender
// (protocol/txsender/external_sender.go) for the "serialize outgoing
// signed transactions through one actor" shape, since the teacher itself
// has no meta-transaction relayer.
package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/config"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/pkg/logging"
)

var (
	errBadSignatureLength = errors.New("relayer: signature must be 65 bytes")
	errEmergencyStopped   = errors.New("relayer: paused by emergency-stop guard")
)

// Relayer pulls PENDING ClaimRequest rows, validates each against the
// rules in spec §4.5, and executes accepted ones sequentially through the
// claim's source-chain Adapter.
type Relayer struct {
	store    store.Store
	adapters map[string]chainadapter.Adapter
	chains   map[string]config.ChainConfig
	cfg      config.RelayerConfig
	log      *logging.Logger

	pausedMu sync.Mutex
	paused   bool
}

// New constructs a Relayer. adapters and chains must both be keyed by
// coordinator-internal chain id (config.ChainConfig map keys).
func New(st store.Store, adapters map[string]chainadapter.Adapter, chains map[string]config.ChainConfig, cfg config.RelayerConfig, log *logging.Logger) *Relayer {
	if log == nil {
		log = logging.Default()
	}
	return &Relayer{
		store:    st,
		adapters: adapters,
		chains:   chains,
		cfg:      cfg,
		log:      log.WithPrefix("relayer"),
	}
}

// Run polls for PENDING claim requests on cfg.PollInterval until ctx is
// cancelled.
func (r *Relayer) Run(ctx context.Context) {
	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.processBatch(ctx)
		}
	}
}

// IsPaused reports whether the emergency-stop guard has parked the
// relayer.
func (r *Relayer) IsPaused() bool {
	r.pausedMu.Lock()
	defer r.pausedMu.Unlock()
	return r.paused
}

// Resume clears the emergency-stop guard after an operator has
// replenished the affected wallet. Not automatic: spec §4.5 treats the
// guard as a hard stop, not a self-healing backoff.
func (r *Relayer) Resume() {
	r.pausedMu.Lock()
	r.paused = false
	r.pausedMu.Unlock()
}

func (r *Relayer) pause(ctx context.Context, reason string) {
	r.pausedMu.Lock()
	already := r.paused
	r.paused = true
	r.pausedMu.Unlock()
	if already {
		return
	}
	r.log.Error("emergency-stop guard tripped, relayer paused", "reason", reason)
	r.appendEvent(ctx, "", store.EventEmergencyStop, map[string]any{"reason": reason})
}

// appendEvent appends an Event row; swapID is empty for relayer-wide
// events (e.g. emergency_stop) that are not scoped to one swap.
func (r *Relayer) appendEvent(ctx context.Context, swapID, typ string, data map[string]any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	ev := &store.Event{SwapID: swapID, Type: typ, Data: raw, Timestamp: time.Now()}
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		r.log.Warn("failed to append relayer event", "type", typ, "error", err)
	}
}

// withinRollingLimit reports whether claimer (empty for the global count)
// has completed fewer than limit claims in the trailing hour, per spec
// §4.5 rule 6's literal "N successful claims in the rolling last hour" —
// a counting query over store.CountCompletedClaimsSince, not a token
// bucket, since a bucket would let an idle claimer burst past N.
func (r *Relayer) withinRollingLimit(ctx context.Context, claimer string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	count, err := r.store.CountCompletedClaimsSince(ctx, claimer, time.Now().Add(-time.Hour))
	if err != nil {
		return false, err
	}
	return count < limit, nil
}
