// Package store provides transactional persistence for Swap, PoolLiquidity,
// ClaimRequest, and Event records, backed by SQLite. Every mutable row
// carries a version column used for optimistic-concurrency CAS updates;
// callers never take long-held locks across a Store call.
package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapfsm"
)

// ErrVersionConflict is returned by CAS update methods when the row's
// version no longer matches the caller's expected version. Callers retry
// by re-reading state, per spec §3 ("losers retry by re-reading state").
var ErrVersionConflict = errors.New("store: version conflict")

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// ClaimStatus is the lifecycle state of a ClaimRequest.
type ClaimStatus string

const (
	ClaimPending    ClaimStatus = "PENDING"
	ClaimInProgress ClaimStatus = "IN_PROGRESS"
	ClaimCompleted  ClaimStatus = "COMPLETED"
	ClaimFailed     ClaimStatus = "FAILED"
)

// Fees is the frozen-at-creation fee split for a swap.
type Fees struct {
	NetworkFee  uint64 `json:"network_fee"`
	ExchangeFee uint64 `json:"exchange_fee"`
}

// Swap is a single cross-chain exchange, per spec §3.
type Swap struct {
	ID                 string
	UserAddress        string
	BeneficiaryAddress string

	SourceChainID string
	SourceTokenID string
	SourceAmount  uint64

	TargetChainID         string
	TargetTokenID         string
	TargetExpectedAmount  uint64
	TargetMinReceiveAmount uint64

	HashLock [32]byte
	Preimage [32]byte

	UserHTLCID string
	PoolHTLCID string

	State swapfsm.State

	SourceFundedAt      time.Time
	DestinationFundedAt time.Time
	UserClaimedAt       time.Time
	PoolClaimedAt       time.Time
	RefundedAt          time.Time

	// FundingLeasedAt marks a W2 worker's CAS-protected claim on this row
	// before it calls FundHTLC, the external side effect spec.md:184
	// requires a per-swap lease ahead of. W2 clears it when it records the
	// destination funding or fails the swap; W3's source-timelock expiry
	// leaves it unchanged.
	FundingLeasedAt time.Time

	SourceTimelock      time.Time
	DestinationTimelock time.Time

	CreatedAt time.Time
	ExpiresAt time.Time

	Fees Fees

	ErrorMessage string

	Version int64
}

// PoolLiquidity is the per-(chain_id, token_id) inventory ledger, per spec §3.
type PoolLiquidity struct {
	ChainID      string
	TokenID      string
	Total        uint64
	Reserved     uint64
	Available    uint64
	MinThreshold uint64
	Version      int64
}

// Healthy reports whether the pool is above its configured threshold.
func (p PoolLiquidity) Healthy() bool {
	return p.Available >= p.MinThreshold
}

// Utilization returns reserved/total, or 0 if total is 0.
func (p PoolLiquidity) Utilization() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Reserved) / float64(p.Total)
}

// CheckInvariant reports the invariant violation error if total != reserved
// + available or any field is negative (callers pass only non-negative
// uints, so this only guards against reserved+available overflow/mismatch).
func (p PoolLiquidity) CheckInvariant() error {
	if p.Reserved+p.Available != p.Total {
		return errInvariant(p.ChainID, p.TokenID, p.Total, p.Reserved, p.Available)
	}
	return nil
}

// ClaimRequest is a signed authorization for the relayer, per spec §3.
type ClaimRequest struct {
	ID string

	SwapID       string
	HTLCContract string
	ContractID   [32]byte
	Preimage     [32]byte

	Claimer string

	MaxGasPrice     uint64
	GasCompensation uint64
	Nonce           uint64
	Deadline        time.Time

	Signature []byte

	Status       ClaimStatus
	TxHash       string
	GasUsed      uint64
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time

	Version int64
}

// Event is an append-only log row driving observability and the SSE
// timeline, per spec §3.
type Event struct {
	ID        string
	SwapID    string
	Type      string
	Data      json.RawMessage
	Timestamp time.Time
}

// Event type constants, per spec §5 ordering guarantees.
const (
	EventSwapCreated            = "swap_created"
	EventSourceHTLCCreated      = "source_htlc_created"
	EventDestinationHTLCCreated = "destination_htlc_created"
	EventUserClaimed            = "user_claimed"
	EventPoolClaimed            = "pool_claimed"
	EventRefunded               = "refunded"
	EventExpired                = "expired"
	EventEmergencyStop          = "emergency_stop"
)

// SwapFilter narrows ListSwaps results, mirroring the HTTP surface's
// GET /swaps query parameters.
type SwapFilter struct {
	State       swapfsm.State
	UserAddress string
	Chain       string
	Limit       int
}
