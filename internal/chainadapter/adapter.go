// Package chainadapter provides the Chain Adapter described in spec §4.1:
// a uniform interface to each target chain for submitting HTLC
// transactions with nonce/fee management, observing confirmations and
// events, and reading on-chain HTLC state. One instance exists per chain;
// outgoing transactions for a chain's operator key are serialized through
// a single-writer actor so nonce assignment never races.
package chainadapter

import (
	"context"
	"time"
)

// HTLCState mirrors the consumed contract ABI's state encoding
// (0=INVALID, 1=OPEN, 2=CLAIMED, 3=REFUNDED), per spec §6.
type HTLCState uint8

const (
	HTLCInvalid  HTLCState = 0
	HTLCOpen     HTLCState = 1
	HTLCClaimed  HTLCState = 2
	HTLCRefunded HTLCState = 3
)

func (s HTLCState) String() string {
	switch s {
	case HTLCOpen:
		return "OPEN"
	case HTLCClaimed:
		return "CLAIMED"
	case HTLCRefunded:
		return "REFUNDED"
	default:
		return "INVALID"
	}
}

// HTLCDetails is the return shape of read_htlc / getDetails, per spec §4.1
// and §6.
type HTLCDetails struct {
	Token       string
	Beneficiary string
	Originator  string
	HashLock    [32]byte
	Timelock    time.Time
	Value       uint64
	State       HTLCState
}

// FundedEvent mirrors the consumed Funded(contract_id, originator,
// beneficiary, token, value, hash_lock, timelock) event.
type FundedEvent struct {
	ContractID  [32]byte
	Originator  string
	Beneficiary string
	Token       string
	Value       uint64
	HashLock    [32]byte
	Timelock    time.Time
	TxHash      string
	BlockNumber uint64
}

// ClaimedEvent mirrors the consumed Claimed(contract_id, claimer, preimage)
// event. It is the only place the preimage moves from one chain to the
// resolver's view of the other.
type ClaimedEvent struct {
	ContractID  [32]byte
	Claimer     string
	Preimage    [32]byte
	TxHash      string
	BlockNumber uint64
}

// RefundedEvent mirrors the consumed Refunded(contract_id, refunder) event.
type RefundedEvent struct {
	ContractID  [32]byte
	Refunder    string
	TxHash      string
	BlockNumber uint64
}

// Receipt is the confirmation outcome of a submitted transaction.
type Receipt struct {
	TxHash        string
	BlockNumber   uint64
	Confirmations uint32
	Success       bool
	RevertReason  string
}

// Adapter is implemented once per target chain family (EVM, UTXO, ...).
// Every method is a suspension point and must honor ctx cancellation.
type Adapter interface {
	// ChainID returns the coordinator-internal chain identifier this
	// adapter instance serves (matches config.ChainConfig keys).
	ChainID() string

	// FundHTLC calls the HTLC contract's fund operation through the
	// single-writer submit actor, returning the submitted tx hash.
	// Reverts are surfaced verbatim via coordinatorerrors.ChainReverted.
	FundHTLC(ctx context.Context, contractID [32]byte, token, beneficiary string, hashLock [32]byte, timelock time.Time, value uint64) (txHash string, err error)

	// ClaimHTLC calls the HTLC contract's claim(preimage) operation.
	ClaimHTLC(ctx context.Context, contractID [32]byte, preimage [32]byte) (txHash string, err error)

	// RefundHTLC calls the HTLC contract's refund operation.
	RefundHTLC(ctx context.Context, contractID [32]byte) (txHash string, err error)

	// ReadHTLC reads the current on-chain HTLC state for contractID.
	ReadHTLC(ctx context.Context, contractID [32]byte) (HTLCDetails, error)

	// WalletBalance returns this adapter's operator wallet balance in the
	// chain's native unit, used by the Relayer's emergency-stop guard.
	WalletBalance(ctx context.Context) (uint64, error)

	// CurrentGasPrice returns the chain's current observed fee rate (gas
	// price for EVM, sat/vByte for UTXO), used by the Relayer's rule 7
	// park-not-fail check against a ClaimRequest's max_gas_price.
	CurrentGasPrice(ctx context.Context) (uint64, error)

	// WaitConfirmations blocks until txHash has accrued n confirmations or
	// ctx is done, returning the receipt.
	WaitConfirmations(ctx context.Context, txHash string, n uint32) (Receipt, error)

	// SubscribeFunded opens a restartable subscription to Funded events
	// starting at fromBlock. If the underlying node drops the
	// subscription, the adapter transparently reopens it from the last
	// block it fully delivered.
	SubscribeFunded(ctx context.Context, fromBlock uint64) (<-chan FundedEvent, error)
	// SubscribeClaimed mirrors SubscribeFunded for Claimed events.
	SubscribeClaimed(ctx context.Context, fromBlock uint64) (<-chan ClaimedEvent, error)
	// SubscribeRefunded mirrors SubscribeFunded for Refunded events.
	SubscribeRefunded(ctx context.Context, fromBlock uint64) (<-chan RefundedEvent, error)

	// Close releases the adapter's underlying RPC connection.
	Close() error
}
