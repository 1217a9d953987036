package chainadapter

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/config"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/contracts/htlc"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
	"github.com/klingon-exchange/fusion-swap-coordinator/pkg/logging"
)

// EVM is the Adapter implementation for EVM-family chains, wrapping the
// generated KlingonHTLC binding through htlc.Client. Outgoing transactions
// for the operator key are serialized through submitMu so nonce assignment
// never races across concurrent Fund/Claim/Refund calls, per spec §4.1.
type EVM struct {
	chainID string
	client  *htlc.Client
	key     *ecdsa.PrivateKey
	policy  config.RetryPolicy
	log     *logging.Logger

	submitMu sync.Mutex
}

// NewEVM dials rpcURL and binds the HTLC contract at contractAddr. key is
// the operator account used to sign Fund/Claim/Refund transactions.
func NewEVM(chainIDLabel, rpcURL string, contractAddr common.Address, key *ecdsa.PrivateKey, policy config.RetryPolicy, log *logging.Logger) (*EVM, error) {
	client, err := htlc.NewClient(rpcURL, contractAddr)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: dial %s: %w", chainIDLabel, err)
	}
	if log == nil {
		log = logging.Default()
	}
	return &EVM{
		chainID: chainIDLabel,
		client:  client,
		key:     key,
		policy:  policy,
		log:     log.WithPrefix("chainadapter." + chainIDLabel),
	}, nil
}

func (e *EVM) ChainID() string { return e.chainID }

func (e *EVM) Close() error {
	e.client.Close()
	return nil
}

// FundHTLC submits createSwapNative or createSwapERC20 depending on token,
// serialized through the single-writer submit actor with bounded retry.
func (e *EVM) FundHTLC(ctx context.Context, contractID [32]byte, token, beneficiary string, hashLock [32]byte, timelock time.Time, value uint64) (string, error) {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	receiver := common.HexToAddress(beneficiary)
	timelockBig := big.NewInt(timelock.Unix())
	amount := new(big.Int).SetUint64(value)

	return withRetry(ctx, e.policy, func(ctx context.Context, feeMultiplier float64) (string, error) {
		var (
			tx  *types.Transaction
			err error
		)
		if isNativeToken(token) {
			tx, err = e.client.CreateSwapNative(ctx, e.key, contractID, receiver, hashLock, timelockBig, amount, feeMultiplier)
		} else {
			tx, err = e.client.CreateSwapERC20(ctx, e.key, contractID, receiver, common.HexToAddress(token), amount, hashLock, timelockBig, feeMultiplier)
		}
		return e.submitResult(ctx, tx, err)
	})
}

// ClaimHTLC submits claim(contractID, preimage).
func (e *EVM) ClaimHTLC(ctx context.Context, contractID [32]byte, preimage [32]byte) (string, error) {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	return withRetry(ctx, e.policy, func(ctx context.Context, feeMultiplier float64) (string, error) {
		tx, err := e.client.Claim(ctx, e.key, contractID, preimage, feeMultiplier)
		return e.submitResult(ctx, tx, err)
	})
}

// RefundHTLC submits refund(contractID).
func (e *EVM) RefundHTLC(ctx context.Context, contractID [32]byte) (string, error) {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	return withRetry(ctx, e.policy, func(ctx context.Context, feeMultiplier float64) (string, error) {
		tx, err := e.client.Refund(ctx, e.key, contractID, feeMultiplier)
		return e.submitResult(ctx, tx, err)
	})
}

// submitResult classifies a submission error into the coordinator error
// taxonomy: transient faults (nonce races, underpriced replacements,
// transient RPC errors) are retried by withRetry; everything else,
// including a mined-but-reverted receipt, is fatal to the caller.
func (e *EVM) submitResult(ctx context.Context, tx *types.Transaction, err error) (string, error) {
	if err != nil {
		if isTransientSubmitError(err) {
			return "", coordinatorerrors.ChainTransient("submit_failed", err)
		}
		return "", coordinatorerrors.ChainReverted("submit_rejected", err.Error())
	}

	receipt, err := e.client.WaitForTx(ctx, tx)
	if err != nil {
		return "", coordinatorerrors.ChainTransient("wait_mined_failed", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash().Hex(), coordinatorerrors.ChainReverted("tx_reverted", "transaction mined with failure status")
	}
	return tx.Hash().Hex(), nil
}

func isTransientSubmitError(err error) bool {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "replacement transaction underpriced"):
		return true
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "nonce too high"):
		return true
	case strings.Contains(msg, "insufficient funds"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "eof"):
		return true
	default:
		return false
	}
}

// ReadHTLC reads on-chain swap state via the contract's view function.
func (e *EVM) ReadHTLC(ctx context.Context, contractID [32]byte) (HTLCDetails, error) {
	sw, err := e.client.GetSwap(ctx, contractID)
	if err != nil {
		return HTLCDetails{}, coordinatorerrors.ChainTransient("read_htlc_failed", err)
	}

	token := ""
	if !sw.IsNativeToken() {
		token = sw.Token.Hex()
	}

	return HTLCDetails{
		Token:       token,
		Beneficiary: sw.Receiver.Hex(),
		Originator:  sw.Sender.Hex(),
		HashLock:    sw.SecretHash,
		Timelock:    time.Unix(sw.Timelock.Int64(), 0).UTC(),
		Value:       sw.Amount.Uint64(),
		State:       HTLCState(sw.State),
	}, nil
}

// WalletBalance returns the operator key's native-token balance.
func (e *EVM) WalletBalance(ctx context.Context) (uint64, error) {
	addr := crypto.PubkeyToAddress(e.key.PublicKey)
	bal, err := e.client.BalanceOf(ctx, addr)
	if err != nil {
		return 0, coordinatorerrors.ChainTransient("balance_read_failed", err)
	}
	return bal.Uint64(), nil
}

// CurrentGasPrice returns the network's currently suggested gas price.
func (e *EVM) CurrentGasPrice(ctx context.Context) (uint64, error) {
	price, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return 0, coordinatorerrors.ChainTransient("gas_price_read_failed", err)
	}
	return price.Uint64(), nil
}

// WaitConfirmations polls for txHash's receipt and current chain height
// until the receipt has accrued at least n confirmations.
func (e *EVM) WaitConfirmations(ctx context.Context, txHash string, n uint32) (Receipt, error) {
	hash := common.HexToHash(txHash)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err == nil {
			head, herr := e.client.BlockNumber(ctx)
			if herr == nil && head >= receipt.BlockNumber.Uint64() {
				confirmations := uint32(head - receipt.BlockNumber.Uint64() + 1)
				if confirmations >= n {
					return Receipt{
						TxHash:        txHash,
						BlockNumber:   receipt.BlockNumber.Uint64(),
						Confirmations: confirmations,
						Success:       receipt.Status == types.ReceiptStatusSuccessful,
					}, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SubscribeFunded opens a restartable subscription to SwapCreated events.
// It first replays everything from fromBlock through the historical filter
// query (so a resolver restarting mid-outage sees nothing twice and misses
// nothing), then resumes live watching; a dropped live subscription reopens
// from the last block this call observed.
func (e *EVM) SubscribeFunded(ctx context.Context, fromBlock uint64) (<-chan FundedEvent, error) {
	out := make(chan FundedEvent, 32)
	go e.runFundedSubscription(ctx, fromBlock, out)
	return out, nil
}

func (e *EVM) runFundedSubscription(ctx context.Context, fromBlock uint64, out chan<- FundedEvent) {
	defer close(out)
	lastBlock := fromBlock

	for {
		if ctx.Err() != nil {
			return
		}

		head, err := e.client.BlockNumber(ctx)
		if err == nil && head > lastBlock {
			hist, err := e.client.GetSwapCreatedEvents(ctx, lastBlock, head, nil)
			if err != nil {
				e.log.Warn("funded historical replay failed", "error", err)
			}
			for _, ev := range hist {
				out <- fundedEventFrom(ev)
				if ev.BlockNum >= lastBlock {
					lastBlock = ev.BlockNum + 1
				}
			}
		}

		ch, err := e.client.WatchSwapCreated(ctx, nil, nil)
		if err != nil {
			e.log.Warn("funded subscription failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for ev := range ch {
			out <- fundedEventFrom(ev)
			if ev.BlockNum >= lastBlock {
				lastBlock = ev.BlockNum + 1
			}
		}
		// channel closed: either ctx was cancelled or the node dropped the
		// subscription. Loop and reopen from lastBlock unless ctx says we're done.
	}
}

func fundedEventFrom(ev *htlc.SwapCreatedEvent) FundedEvent {
	token := ""
	if ev.Token != (common.Address{}) {
		token = ev.Token.Hex()
	}
	return FundedEvent{
		ContractID:  ev.SwapID,
		Originator:  ev.Sender.Hex(),
		Beneficiary: ev.Receiver.Hex(),
		Token:       token,
		Value:       ev.Amount.Uint64(),
		HashLock:    ev.SecretHash,
		Timelock:    time.Unix(ev.Timelock.Int64(), 0).UTC(),
		TxHash:      ev.TxHash.Hex(),
		BlockNumber: ev.BlockNum,
	}
}

// SubscribeClaimed mirrors SubscribeFunded for SwapClaimed events, which
// carry the revealed preimage.
func (e *EVM) SubscribeClaimed(ctx context.Context, fromBlock uint64) (<-chan ClaimedEvent, error) {
	out := make(chan ClaimedEvent, 32)
	go func() {
		defer close(out)
		lastBlock := fromBlock

		for {
			if ctx.Err() != nil {
				return
			}

			head, err := e.client.BlockNumber(ctx)
			if err == nil && head > lastBlock {
				hist, err := e.client.GetSwapClaimedEvents(ctx, lastBlock, head, nil)
				if err != nil {
					e.log.Warn("claimed historical replay failed", "error", err)
				}
				for _, ev := range hist {
					out <- claimedEventFrom(ev)
					if ev.BlockNum >= lastBlock {
						lastBlock = ev.BlockNum + 1
					}
				}
			}

			ch, err := e.client.WatchSwapClaimed(ctx, nil)
			if err != nil {
				e.log.Warn("claimed subscription failed, retrying", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
				continue
			}
			for ev := range ch {
				out <- claimedEventFrom(ev)
				if ev.BlockNum >= lastBlock {
					lastBlock = ev.BlockNum + 1
				}
			}
		}
	}()
	return out, nil
}

func claimedEventFrom(ev *htlc.SwapClaimedEvent) ClaimedEvent {
	return ClaimedEvent{
		ContractID:  ev.SwapID,
		Claimer:     ev.Receiver.Hex(),
		Preimage:    ev.Secret,
		TxHash:      ev.TxHash.Hex(),
		BlockNumber: ev.BlockNum,
	}
}

// SubscribeRefunded mirrors SubscribeFunded for SwapRefunded events.
func (e *EVM) SubscribeRefunded(ctx context.Context, fromBlock uint64) (<-chan RefundedEvent, error) {
	out := make(chan RefundedEvent, 32)
	go func() {
		defer close(out)
		lastBlock := fromBlock

		for {
			if ctx.Err() != nil {
				return
			}

			head, err := e.client.BlockNumber(ctx)
			if err == nil && head > lastBlock {
				hist, err := e.client.GetSwapRefundedEvents(ctx, lastBlock, head, nil)
				if err != nil {
					e.log.Warn("refunded historical replay failed", "error", err)
				}
				for _, ev := range hist {
					out <- refundedEventFrom(ev)
					if ev.BlockNum >= lastBlock {
						lastBlock = ev.BlockNum + 1
					}
				}
			}

			ch, err := e.client.WatchSwapRefunded(ctx, nil)
			if err != nil {
				e.log.Warn("refunded subscription failed, retrying", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
				continue
			}
			for ev := range ch {
				out <- refundedEventFrom(ev)
				if ev.BlockNum >= lastBlock {
					lastBlock = ev.BlockNum + 1
				}
			}
		}
	}()
	return out, nil
}

func refundedEventFrom(ev *htlc.SwapRefundedEvent) RefundedEvent {
	return RefundedEvent{
		ContractID:  ev.SwapID,
		Refunder:    ev.Sender.Hex(),
		TxHash:      ev.TxHash.Hex(),
		BlockNumber: ev.BlockNum,
	}
}

func isNativeToken(token string) bool {
	return token == "" || token == (common.Address{}).Hex()
}
