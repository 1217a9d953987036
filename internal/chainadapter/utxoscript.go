package chainadapter

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// utxoHTLCScript is the P2WSH witness script for a UTXO-family HTLC.
//
//	OP_IF
//	    OP_SHA256 <hash_lock> OP_EQUALVERIFY
//	    <beneficiary_pubkey> OP_CHECKSIG
//	OP_ELSE
//	    <locktime> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	    <originator_pubkey> OP_CHECKSIG
//	OP_ENDIF
//
// Unlike the teacher's CSV-relative design, the refund branch uses
// OP_CHECKLOCKTIMEVERIFY against an absolute Unix timestamp so the
// on-chain locktime matches the time.Time the coordinator already tracks
// in Adapter.FundHTLC, instead of a block-count offset computed at
// broadcast time.
func buildUTXOHTLCScript(hashLock, beneficiaryPubKey, originatorPubKey []byte, locktime int64) ([]byte, error) {
	if len(hashLock) != 32 {
		return nil, fmt.Errorf("hash lock must be 32 bytes, got %d", len(hashLock))
	}
	if len(beneficiaryPubKey) != 33 {
		return nil, fmt.Errorf("beneficiary pubkey must be 33 bytes (compressed), got %d", len(beneficiaryPubKey))
	}
	if len(originatorPubKey) != 33 {
		return nil, fmt.Errorf("originator pubkey must be 33 bytes (compressed), got %d", len(originatorPubKey))
	}
	if locktime <= txscript.LockTimeThreshold {
		return nil, fmt.Errorf("locktime %d must be an absolute unix time above %d", locktime, txscript.LockTimeThreshold)
	}

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(hashLock)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(beneficiaryPubKey)
	builder.AddOp(txscript.OP_CHECKSIG)

	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(locktime)
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(originatorPubKey)
	builder.AddOp(txscript.OP_CHECKSIG)

	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// utxoHTLCAddress derives the P2WSH address the funding transaction must
// pay to.
func utxoHTLCAddress(script []byte, params *chaincfg.Params) (string, []byte, error) {
	scriptHash := sha256.Sum256(script)
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], params)
	if err != nil {
		return "", nil, fmt.Errorf("derive P2WSH address: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", nil, fmt.Errorf("derive scriptPubKey: %w", err)
	}
	return addr.EncodeAddress(), pkScript, nil
}

// utxoClaimWitness selects the OP_IF branch: signature, preimage, then the
// OP_TRUE selector and the witness script itself.
func utxoClaimWitness(signature, preimage, script []byte) [][]byte {
	return [][]byte{signature, preimage, {0x01}, script}
}

// utxoRefundWitness selects the OP_ELSE branch.
func utxoRefundWitness(signature, script []byte) [][]byte {
	return [][]byte{signature, {}, script}
}

// parseUTXOHTLCScript extracts an htlc script's components (hash lock, both
// public keys, locktime). The adapter itself reads HTLC terms from its
// in-memory record index; only the package tests call this parser.
func parseUTXOHTLCScript(script []byte) (hashLock, beneficiaryPubKey, originatorPubKey []byte, locktime int64, err error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)

	next := func(op byte) error {
		if !tokenizer.Next() || tokenizer.Opcode() != op {
			return fmt.Errorf("expected opcode 0x%x", op)
		}
		return nil
	}

	if err = next(txscript.OP_IF); err != nil {
		return
	}
	if err = next(txscript.OP_SHA256); err != nil {
		return
	}
	if !tokenizer.Next() {
		err = fmt.Errorf("expected hash lock")
		return
	}
	hashLock = tokenizer.Data()
	if len(hashLock) != 32 {
		err = fmt.Errorf("hash lock must be 32 bytes")
		return
	}
	if err = next(txscript.OP_EQUALVERIFY); err != nil {
		return
	}
	if !tokenizer.Next() {
		err = fmt.Errorf("expected beneficiary pubkey")
		return
	}
	beneficiaryPubKey = tokenizer.Data()
	if err = next(txscript.OP_CHECKSIG); err != nil {
		return
	}
	if err = next(txscript.OP_ELSE); err != nil {
		return
	}
	if !tokenizer.Next() {
		err = fmt.Errorf("expected locktime")
		return
	}
	op := tokenizer.Opcode()
	if txscript.IsSmallInt(op) {
		locktime = int64(txscript.AsSmallInt(op))
	} else {
		data := tokenizer.Data()
		if len(data) == 0 {
			err = fmt.Errorf("invalid locktime push")
			return
		}
		for i := 0; i < len(data); i++ {
			locktime |= int64(data[i]) << (8 * i)
		}
	}
	if err = next(txscript.OP_CHECKLOCKTIMEVERIFY); err != nil {
		return
	}
	if err = next(txscript.OP_DROP); err != nil {
		return
	}
	if !tokenizer.Next() {
		err = fmt.Errorf("expected originator pubkey")
		return
	}
	originatorPubKey = tokenizer.Data()
	if err = next(txscript.OP_CHECKSIG); err != nil {
		return
	}
	if err = next(txscript.OP_ENDIF); err != nil {
		return
	}
	return hashLock, beneficiaryPubKey, originatorPubKey, locktime, nil
}

// pubKeyFromPriv returns the 33-byte compressed public key for a private key.
func pubKeyFromPriv(priv *btcec.PrivateKey) []byte {
	return priv.PubKey().SerializeCompressed()
}
