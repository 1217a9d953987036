package chainadapter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/config"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
	"github.com/klingon-exchange/fusion-swap-coordinator/pkg/logging"
)

const utxoDustThreshold = uint64(546)

// utxoHTLCRecord is everything the adapter needs to read or spend one
// HTLC. UTXO chains have no contract storage addressable by contractID,
// so the P2WSH script itself is the contract and this record is the
// adapter's only memory of it; it is populated either by FundHTLC (when
// this adapter is the funder) or by RegisterHTLC (when a counterpart
// informs it of an HTLC it must later claim or watch).
type utxoHTLCRecord struct {
	script            []byte
	address           string
	pkScript          []byte
	hashLock          [32]byte
	beneficiaryPubKey []byte
	originatorPubKey  []byte
	locktime          time.Time
	value             uint64

	fundingTxID string
	fundingVout uint32
}

// UTXO implements Adapter for Bitcoin-family chains (BTC, LTC, and
// similar UTXO forks) over an Electrum-protocol transport. It has no
// node of its own; funding-source UTXOs are drawn from the operator
// key's single P2WPKH address.
type UTXO struct {
	chainID          string
	electrum         *electrumClient
	params           *chaincfg.Params
	operator         *btcec.PrivateKey
	operatorAddr     string
	operatorPkScript []byte
	policy           config.RetryPolicy
	log              *logging.Logger

	submitMu sync.Mutex

	mu    sync.Mutex
	index map[[32]byte]*utxoHTLCRecord
}

// NewUTXO dials the given Electrum servers (comma-separated host:port,
// prefixed "ssl://" to use TLS) and derives the operator's P2WPKH
// funding address from key.
func NewUTXO(chainIDLabel string, rpcEndpoint string, params *chaincfg.Params, key *btcec.PrivateKey, policy config.RetryPolicy, log *logging.Logger) (*UTXO, error) {
	servers, useTLS := parseElectrumEndpoint(rpcEndpoint)
	electrum := newElectrumClient(servers, useTLS, params)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := electrum.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect electrum for chain %s: %w", chainIDLabel, err)
	}

	pubKeyHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	if err != nil {
		return nil, fmt.Errorf("derive operator address: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("derive operator scriptPubKey: %w", err)
	}

	return &UTXO{
		chainID:          chainIDLabel,
		electrum:         electrum,
		params:           params,
		operator:         key,
		operatorAddr:     addr.EncodeAddress(),
		operatorPkScript: pkScript,
		policy:           policy,
		log:              log.WithPrefix(fmt.Sprintf("chainadapter.utxo[%s]", chainIDLabel)),
		index:            make(map[[32]byte]*utxoHTLCRecord),
	}, nil
}

// parseElectrumEndpoint splits a "ssl://host:port,host:port" style
// endpoint into a server list and a TLS flag; all servers in one chain's
// config are assumed to share a transport.
func parseElectrumEndpoint(endpoint string) ([]string, bool) {
	useTLS := false
	endpoint = strings.TrimSpace(endpoint)
	if strings.HasPrefix(endpoint, "ssl://") {
		useTLS = true
		endpoint = strings.TrimPrefix(endpoint, "ssl://")
	} else if strings.HasPrefix(endpoint, "tcp://") {
		endpoint = strings.TrimPrefix(endpoint, "tcp://")
	}
	var servers []string
	for _, s := range strings.Split(endpoint, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			servers = append(servers, s)
		}
	}
	return servers, useTLS
}

func (u *UTXO) ChainID() string { return u.chainID }

func (u *UTXO) Close() error { return u.electrum.Close() }

// WalletBalance sums the operator address's current UTXO set.
func (u *UTXO) WalletBalance(ctx context.Context) (uint64, error) {
	utxos, err := u.electrum.GetAddressUTXOs(u.operatorAddr)
	if err != nil {
		return 0, coordinatorerrors.ChainTransient("balance_read_failed", err)
	}
	var total uint64
	for _, o := range utxos {
		total += o.Value
	}
	return total, nil
}

// CurrentGasPrice returns the currently estimated fee rate in sat/vByte for
// next-block confirmation.
func (u *UTXO) CurrentGasPrice(ctx context.Context) (uint64, error) {
	rate, err := u.electrum.EstimateFeeRate(1)
	if err != nil {
		return 0, coordinatorerrors.ChainTransient("fee_estimate_failed", err)
	}
	return rate, nil
}

// RegisterHTLC records the components of an HTLC this adapter did not
// fund, so ReadHTLC/ClaimHTLC/RefundHTLC can later locate it. It is
// exposed to the Resolver through resolver.UTXORegistrar; no Resolver
// worker calls it, so an HTLC this adapter did not fund is unknown to it.
func (u *UTXO) RegisterHTLC(contractID [32]byte, originatorPubKey, beneficiaryPubKey []byte, hashLock [32]byte, locktime time.Time, value uint64) error {
	rec, err := u.buildRecord(originatorPubKey, beneficiaryPubKey, hashLock, locktime, value)
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.index[contractID] = rec
	u.mu.Unlock()
	return nil
}

func (u *UTXO) buildRecord(originatorPubKey, beneficiaryPubKey []byte, hashLock [32]byte, locktime time.Time, value uint64) (*utxoHTLCRecord, error) {
	script, err := buildUTXOHTLCScript(hashLock[:], beneficiaryPubKey, originatorPubKey, locktime.Unix())
	if err != nil {
		return nil, coordinatorerrors.Validationf("build_script", err, "build htlc script")
	}
	address, pkScript, err := utxoHTLCAddress(script, u.params)
	if err != nil {
		return nil, coordinatorerrors.Validationf("derive_address", err, "derive htlc address")
	}
	return &utxoHTLCRecord{
		script:            script,
		address:           address,
		pkScript:          pkScript,
		hashLock:          hashLock,
		beneficiaryPubKey: beneficiaryPubKey,
		originatorPubKey:  originatorPubKey,
		locktime:          locktime,
		value:             value,
	}, nil
}

func (u *UTXO) recordFor(contractID [32]byte) (*utxoHTLCRecord, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	rec, ok := u.index[contractID]
	return rec, ok
}

// FundHTLC pays value to a freshly derived P2WSH HTLC address, spending
// from the operator's own P2WPKH UTXOs. beneficiary must be a hex-encoded
// 33-byte compressed public key; UTXO chains have no token field, so
// token must be empty (native asset only).
func (u *UTXO) FundHTLC(ctx context.Context, contractID [32]byte, token, beneficiary string, hashLock [32]byte, timelock time.Time, value uint64) (string, error) {
	if token != "" {
		return "", coordinatorerrors.Validation("unsupported_token", fmt.Sprintf("utxo chain %s supports only the native asset, got token %q", u.chainID, token))
	}
	beneficiaryPubKey, err := hex.DecodeString(strings.TrimPrefix(beneficiary, "0x"))
	if err != nil || len(beneficiaryPubKey) != 33 {
		return "", coordinatorerrors.Validationf("bad_beneficiary", err, "beneficiary must be a hex compressed pubkey")
	}

	originatorPubKey := pubKeyFromPriv(u.operator)
	rec, err := u.buildRecord(originatorPubKey, beneficiaryPubKey, hashLock, timelock, value)
	if err != nil {
		return "", err
	}

	u.submitMu.Lock()
	defer u.submitMu.Unlock()

	txHash, err := withRetry(ctx, u.policy, func(ctx context.Context, feeMultiplier float64) (string, error) {
		rawTx, err := u.buildFundingTx(rec, feeMultiplier)
		if err != nil {
			return "", err
		}
		return u.submit(rawTx)
	})
	if err != nil {
		return "", err
	}

	rec.fundingTxID = txHash
	rec.fundingVout = 0
	u.mu.Lock()
	u.index[contractID] = rec
	u.mu.Unlock()

	return txHash, nil
}

func (u *UTXO) buildFundingTx(rec *utxoHTLCRecord, feeMultiplier float64) (*wire.MsgTx, error) {
	utxos, err := u.electrum.GetAddressUTXOs(u.operatorAddr)
	if err != nil {
		return nil, coordinatorerrors.ChainTransient("list_utxos_failed", err)
	}
	feeRate, err := u.electrum.EstimateFeeRate(2)
	if err != nil || feeRate == 0 {
		feeRate = 1
	}
	feeRate = uint64(float64(feeRate) * feeMultiplier)

	selected, totalIn, err := selectUTXOs(utxos, rec.value, feeRate, 2)
	if err != nil {
		var available uint64
		for _, utxo := range utxos {
			available += utxo.Value
		}
		return nil, coordinatorerrors.InsufficientLiquidity(u.chainID, "", rec.value, available)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, utxo := range selected {
		hash, err := chainhash.NewHashFromStr(utxo.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid utxo txid %s: %w", utxo.TxID, err)
		}
		txIn := wire.NewTxIn(wire.NewOutPoint(hash, utxo.Vout), nil, nil)
		txIn.Sequence = wire.MaxTxInSequenceNum - 2
		tx.AddTxIn(txIn)
	}

	tx.AddTxOut(wire.NewTxOut(int64(rec.value), rec.pkScript))

	vsize := estimateVSize(len(selected), 2)
	fee := uint64(vsize) * feeRate
	change := totalIn - rec.value - fee
	if change > utxoDustThreshold {
		tx.AddTxOut(wire.NewTxOut(int64(change), u.operatorPkScript))
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(selected))
	for i, utxo := range selected {
		prevOuts[tx.TxIn[i].PreviousOutPoint] = wire.NewTxOut(int64(utxo.Value), u.operatorPkScript)
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, utxo := range selected {
		prevOut := wire.NewTxOut(int64(utxo.Value), u.operatorPkScript)
		witness, err := txscript.WitnessSignature(tx, sigHashes, i, prevOut.Value, prevOut.PkScript, txscript.SigHashAll, u.operator, true)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = witness
	}

	return tx, nil
}

// ClaimHTLC spends the HTLC output via its OP_IF branch, using preimage
// and a signature from the beneficiary key (the operator's own key, since
// only the beneficiary chain's adapter is ever asked to claim).
func (u *UTXO) ClaimHTLC(ctx context.Context, contractID [32]byte, preimage [32]byte) (string, error) {
	rec, ok := u.recordFor(contractID)
	if !ok {
		return "", coordinatorerrors.Validation("unknown_contract", fmt.Sprintf("unknown contract %x", contractID))
	}
	if rec.fundingTxID == "" {
		if err := u.discoverFunding(rec); err != nil {
			return "", err
		}
	}
	if got := sha256.Sum256(preimage[:]); got != rec.hashLock {
		return "", coordinatorerrors.Validation("preimage_mismatch", "preimage does not match hash lock")
	}

	u.submitMu.Lock()
	defer u.submitMu.Unlock()

	return withRetry(ctx, u.policy, func(ctx context.Context, feeMultiplier float64) (string, error) {
		rawTx, err := u.buildSpendTx(rec, feeMultiplier, func(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes) error {
			sig, err := txscript.RawTxInWitnessSignature(tx, sigHashes, 0, int64(rec.value), rec.script, txscript.SigHashAll, u.operator)
			if err != nil {
				return err
			}
			tx.TxIn[0].Witness = utxoClaimWitness(sig, preimage[:], rec.script)
			return nil
		})
		if err != nil {
			return "", coordinatorerrors.Validationf("build_claim_tx", err, "build claim tx")
		}
		return u.submit(rawTx)
	})
}

// RefundHTLC spends the HTLC output via its OP_ELSE branch after its
// locktime has passed, using the originator key.
func (u *UTXO) RefundHTLC(ctx context.Context, contractID [32]byte) (string, error) {
	rec, ok := u.recordFor(contractID)
	if !ok {
		return "", coordinatorerrors.Validation("unknown_contract", fmt.Sprintf("unknown contract %x", contractID))
	}
	if rec.fundingTxID == "" {
		if err := u.discoverFunding(rec); err != nil {
			return "", err
		}
	}
	if time.Now().Before(rec.locktime) {
		return "", coordinatorerrors.Validation("locktime_not_elapsed", fmt.Sprintf("htlc locktime %s has not elapsed", rec.locktime))
	}

	u.submitMu.Lock()
	defer u.submitMu.Unlock()

	return withRetry(ctx, u.policy, func(ctx context.Context, feeMultiplier float64) (string, error) {
		rawTx, err := u.buildSpendTx(rec, feeMultiplier, func(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes) error {
			sig, err := txscript.RawTxInWitnessSignature(tx, sigHashes, 0, int64(rec.value), rec.script, txscript.SigHashAll, u.operator)
			if err != nil {
				return err
			}
			tx.TxIn[0].Witness = utxoRefundWitness(sig, rec.script)
			return nil
		})
		if err != nil {
			return "", coordinatorerrors.Validationf("build_refund_tx", err, "build refund tx")
		}
		return u.submit(rawTx)
	})
}

// buildSpendTx builds a single-input transaction spending the HTLC
// output to the operator's own address, locktime set so a refund's
// OP_CHECKLOCKTIMEVERIFY is satisfied, and invokes sign to attach the
// appropriate witness.
func (u *UTXO) buildSpendTx(rec *utxoHTLCRecord, feeMultiplier float64, sign func(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes) error) (*wire.MsgTx, error) {
	hash, err := chainhash.NewHashFromStr(rec.fundingTxID)
	if err != nil {
		return nil, fmt.Errorf("invalid funding txid %s: %w", rec.fundingTxID, err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.LockTime = uint32(rec.locktime.Unix())
	txIn := wire.NewTxIn(wire.NewOutPoint(hash, rec.fundingVout), nil, nil)
	txIn.Sequence = wire.MaxTxInSequenceNum - 2
	tx.AddTxIn(txIn)

	feeRate, err := u.electrum.EstimateFeeRate(2)
	if err != nil || feeRate == 0 {
		feeRate = 1
	}
	feeRate = uint64(float64(feeRate) * feeMultiplier)
	fee := uint64(estimateVSize(1, 1)) * feeRate
	outValue := int64(rec.value) - int64(fee)
	if outValue <= 0 {
		return nil, fmt.Errorf("htlc value %d too small to cover fee %d", rec.value, fee)
	}
	tx.AddTxOut(wire.NewTxOut(outValue, u.operatorPkScript))

	prevOuts := map[wire.OutPoint]*wire.TxOut{
		txIn.PreviousOutPoint: wire.NewTxOut(int64(rec.value), rec.pkScript),
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	if err := sign(tx, sigHashes); err != nil {
		return nil, err
	}
	return tx, nil
}

// discoverFunding looks for the HTLC address's unspent output when this
// adapter did not itself submit the funding transaction.
func (u *UTXO) discoverFunding(rec *utxoHTLCRecord) error {
	utxos, err := u.electrum.GetAddressUTXOs(rec.address)
	if err != nil {
		return coordinatorerrors.ChainTransient("list_htlc_utxos_failed", err)
	}
	for _, utxo := range utxos {
		if utxo.Value == rec.value {
			rec.fundingTxID = utxo.TxID
			rec.fundingVout = utxo.Vout
			return nil
		}
	}
	return coordinatorerrors.Validation("funding_not_found", fmt.Sprintf("no funding output found at %s for value %d", rec.address, rec.value))
}

// ReadHTLC reports OPEN/CLAIMED/REFUNDED/INVALID by inspecting the HTLC
// address's current UTXO set and, if already spent, the witness of the
// spending transaction.
func (u *UTXO) ReadHTLC(ctx context.Context, contractID [32]byte) (HTLCDetails, error) {
	rec, ok := u.recordFor(contractID)
	if !ok {
		return HTLCDetails{}, coordinatorerrors.Validation("unknown_contract", fmt.Sprintf("unknown contract %x", contractID))
	}

	details := HTLCDetails{
		Beneficiary: hex.EncodeToString(rec.beneficiaryPubKey),
		Originator:  hex.EncodeToString(rec.originatorPubKey),
		HashLock:    rec.hashLock,
		Timelock:    rec.locktime,
		Value:       rec.value,
	}

	utxos, err := u.electrum.GetAddressUTXOs(rec.address)
	if err != nil {
		return HTLCDetails{}, coordinatorerrors.ChainTransient("list_htlc_utxos_failed", err)
	}
	for _, utxo := range utxos {
		if utxo.Value == rec.value {
			details.State = HTLCOpen
			return details, nil
		}
	}

	history, err := u.electrum.GetScriptHashHistory(rec.address)
	if err != nil || len(history) == 0 {
		details.State = HTLCInvalid
		return details, nil
	}

	state, err := u.spendingState(rec, history)
	if err != nil {
		return HTLCDetails{}, err
	}
	details.State = state
	return details, nil
}

// spendingState inspects the witness of the transaction that last spent
// the HTLC output to decide whether it was a claim (OP_TRUE selector) or
// a refund (empty selector).
func (u *UTXO) spendingState(rec *utxoHTLCRecord, history []electrumHistoryEntry) (HTLCState, error) {
	for i := len(history) - 1; i >= 0; i-- {
		rawHex, err := u.electrum.GetTransactionHex(history[i].TxID)
		if err != nil {
			continue
		}
		raw, err := hex.DecodeString(rawHex)
		if err != nil {
			continue
		}
		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			continue
		}
		for _, in := range tx.TxIn {
			if in.PreviousOutPoint.Hash.String() == rec.fundingTxID && in.PreviousOutPoint.Index == rec.fundingVout {
				if len(in.Witness) == 4 && len(in.Witness[2]) == 1 && in.Witness[2][0] == 0x01 {
					return HTLCClaimed, nil
				}
				return HTLCRefunded, nil
			}
		}
	}
	return HTLCInvalid, nil
}

// WaitConfirmations polls the Electrum scripthash history until the
// funding (or spending) transaction has accrued n confirmations.
func (u *UTXO) WaitConfirmations(ctx context.Context, txHash string, n uint32) (Receipt, error) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		tx, err := u.electrum.GetTransactionVerbose(txHash)
		if err == nil {
			confirmations := int64(0)
			if c, ok := tx["confirmations"].(float64); ok {
				confirmations = int64(c)
			}
			if confirmations >= int64(n) {
				return Receipt{TxHash: txHash, Confirmations: uint32(confirmations), Success: true}, nil
			}
		}
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SubscribeFunded polls every registered HTLC address for its first
// appearance in history, since Electrum's push notifications are keyed
// by scripthash and this adapter only learns scripthashes as HTLCs are
// registered. fromBlock is honored as a lower bound on the observed
// block height, letting a restarted resolver re-arm watches without
// re-emitting events it already processed.
func (u *UTXO) SubscribeFunded(ctx context.Context, fromBlock uint64) (<-chan FundedEvent, error) {
	out := make(chan FundedEvent, 16)
	go u.pollFunded(ctx, fromBlock, out)
	return out, nil
}

func (u *UTXO) pollFunded(ctx context.Context, fromBlock uint64, out chan<- FundedEvent) {
	defer close(out)
	seen := make(map[[32]byte]bool)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		u.mu.Lock()
		records := make(map[[32]byte]*utxoHTLCRecord, len(u.index))
		for id, rec := range u.index {
			records[id] = rec
		}
		u.mu.Unlock()

		for id, rec := range records {
			if seen[id] || rec.fundingTxID != "" {
				continue
			}
			utxos, err := u.electrum.GetAddressUTXOs(rec.address)
			if err != nil {
				u.log.Warn("poll funded: list utxos", "address", rec.address, "err", err)
				continue
			}
			for _, utxo := range utxos {
				if utxo.Value != rec.value || uint64(utxo.BlockHeight) < fromBlock {
					continue
				}
				rec.fundingTxID = utxo.TxID
				rec.fundingVout = utxo.Vout
				seen[id] = true
				select {
				case out <- FundedEvent{
					ContractID:  id,
					Originator:  hex.EncodeToString(rec.originatorPubKey),
					Beneficiary: hex.EncodeToString(rec.beneficiaryPubKey),
					Value:       rec.value,
					HashLock:    rec.hashLock,
					Timelock:    rec.locktime,
					TxHash:      utxo.TxID,
					BlockNumber: uint64(utxo.BlockHeight),
				}:
				case <-ctx.Done():
					return
				}
				break
			}
		}
	}
}

// SubscribeClaimed and SubscribeRefunded share pollFunded's polling shape
// but watch for the HTLC output being spent and classify the spend by
// witness selector; both are driven by the same per-record funding state
// populated by FundHTLC/RegisterHTLC/pollFunded.
func (u *UTXO) SubscribeClaimed(ctx context.Context, fromBlock uint64) (<-chan ClaimedEvent, error) {
	out := make(chan ClaimedEvent, 16)
	go func() {
		defer close(out)
		u.pollSpends(ctx, fromBlock, func(id [32]byte, witness wire.TxWitness, txID string, height uint64) {
			if len(witness) != 4 || len(witness[2]) != 1 || witness[2][0] != 0x01 {
				return
			}
			var preimage [32]byte
			copy(preimage[:], witness[1])
			select {
			case out <- ClaimedEvent{ContractID: id, Preimage: preimage, TxHash: txID, BlockNumber: height}:
			case <-ctx.Done():
			}
		})
	}()
	return out, nil
}

func (u *UTXO) SubscribeRefunded(ctx context.Context, fromBlock uint64) (<-chan RefundedEvent, error) {
	out := make(chan RefundedEvent, 16)
	go func() {
		defer close(out)
		u.pollSpends(ctx, fromBlock, func(id [32]byte, witness wire.TxWitness, txID string, height uint64) {
			if len(witness) != 3 || len(witness[1]) != 0 {
				return
			}
			select {
			case out <- RefundedEvent{ContractID: id, TxHash: txID, BlockNumber: height}:
			case <-ctx.Done():
			}
		})
	}()
	return out, nil
}

// pollSpends is shared by SubscribeClaimed and SubscribeRefunded: both
// watch the same per-record funding state for a spend and differ only
// in how they classify the spending transaction's witness.
func (u *UTXO) pollSpends(ctx context.Context, fromBlock uint64, emit func(id [32]byte, witness wire.TxWitness, txID string, height uint64)) {
	seen := make(map[[32]byte]bool)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		u.mu.Lock()
		records := make(map[[32]byte]*utxoHTLCRecord, len(u.index))
		for id, rec := range u.index {
			records[id] = rec
		}
		u.mu.Unlock()

		for id, rec := range records {
			if seen[id] || rec.fundingTxID == "" {
				continue
			}
			history, err := u.electrum.GetScriptHashHistory(rec.address)
			if err != nil {
				continue
			}
			for _, h := range history {
				if uint64(h.Height) < fromBlock {
					continue
				}
				rawHex, err := u.electrum.GetTransactionHex(h.TxID)
				if err != nil {
					continue
				}
				raw, err := hex.DecodeString(rawHex)
				if err != nil {
					continue
				}
				var tx wire.MsgTx
				if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
					continue
				}
				for _, in := range tx.TxIn {
					if in.PreviousOutPoint.Hash.String() == rec.fundingTxID && in.PreviousOutPoint.Index == rec.fundingVout {
						seen[id] = true
						emit(id, in.Witness, h.TxID, uint64(h.Height))
					}
				}
			}
		}
	}
}

func (u *UTXO) submit(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serialize tx: %w", err)
	}
	txID, err := u.electrum.BroadcastTransaction(hex.EncodeToString(buf.Bytes()))
	if err != nil {
		if isTransientBroadcastError(err) {
			return "", coordinatorerrors.ChainTransient("broadcast_failed", err)
		}
		return "", coordinatorerrors.ChainReverted("broadcast_rejected", err.Error())
	}
	return txID, nil
}

func isTransientBroadcastError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "connection refused", "eof", "not connected", "min relay fee not met", "rate limit"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// selectUTXOs greedily selects UTXOs (largest first) to cover target
// plus the estimated fee for numOutputs P2WPKH/P2WSH outputs, assuming
// P2WPKH inputs throughout (the operator's funding address is always
// P2WPKH).
func selectUTXOs(utxos []electrumUTXO, target, feeRate uint64, numOutputs int) ([]electrumUTXO, uint64, error) {
	sorted := make([]electrumUTXO, len(utxos))
	copy(sorted, utxos)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Value > sorted[j-1].Value; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	var selected []electrumUTXO
	var total uint64
	for _, utxo := range sorted {
		selected = append(selected, utxo)
		total += utxo.Value
		fee := uint64(estimateVSize(len(selected), numOutputs)) * feeRate
		if total >= target+fee {
			return selected, total, nil
		}
	}
	fee := uint64(estimateVSize(len(selected), numOutputs)) * feeRate
	if total < target+fee {
		return nil, 0, fmt.Errorf("insufficient funds: need %d, have %d", target+fee, total)
	}
	return selected, total, nil
}

// estimateVSize approximates a transaction's virtual size assuming
// P2WPKH inputs (68 vB each) and P2WPKH/P2WSH outputs (~43 vB each).
func estimateVSize(numInputs, numOutputs int) int {
	const baseSize = 10
	const inputSize = 68
	const outputSize = 43
	return baseSize + numInputs*inputSize + numOutputs*outputSize
}
