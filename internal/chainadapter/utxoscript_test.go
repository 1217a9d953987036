package chainadapter

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

func testKeys(t *testing.T) (beneficiary, originator *btcec.PrivateKey) {
	t.Helper()
	bKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	oKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return bKey, oKey
}

func TestBuildAndParseUTXOHTLCScript(t *testing.T) {
	beneficiary, originator := testKeys(t)
	hashLock := bytes.Repeat([]byte{0xAB}, 32)
	locktime := int64(txscript.LockTimeThreshold + 1000)

	script, err := buildUTXOHTLCScript(hashLock, pubKeyFromPriv(beneficiary), pubKeyFromPriv(originator), locktime)
	if err != nil {
		t.Fatalf("buildUTXOHTLCScript: %v", err)
	}

	gotHash, gotBeneficiary, gotOriginator, gotLocktime, err := parseUTXOHTLCScript(script)
	if err != nil {
		t.Fatalf("parseUTXOHTLCScript: %v", err)
	}
	if !bytes.Equal(gotHash, hashLock) {
		t.Errorf("hash lock mismatch: got %x want %x", gotHash, hashLock)
	}
	if !bytes.Equal(gotBeneficiary, pubKeyFromPriv(beneficiary)) {
		t.Errorf("beneficiary pubkey mismatch")
	}
	if !bytes.Equal(gotOriginator, pubKeyFromPriv(originator)) {
		t.Errorf("originator pubkey mismatch")
	}
	if gotLocktime != locktime {
		t.Errorf("locktime mismatch: got %d want %d", gotLocktime, locktime)
	}
}

func TestBuildUTXOHTLCScriptRejectsRelativeLocktime(t *testing.T) {
	beneficiary, originator := testKeys(t)
	hashLock := bytes.Repeat([]byte{0xCD}, 32)
	if _, err := buildUTXOHTLCScript(hashLock, pubKeyFromPriv(beneficiary), pubKeyFromPriv(originator), 500); err == nil {
		t.Error("expected error for a locktime below the threshold")
	}
}

func TestBuildUTXOHTLCScriptRejectsBadHashLength(t *testing.T) {
	beneficiary, originator := testKeys(t)
	locktime := int64(txscript.LockTimeThreshold + 1)
	if _, err := buildUTXOHTLCScript([]byte{1, 2, 3}, pubKeyFromPriv(beneficiary), pubKeyFromPriv(originator), locktime); err == nil {
		t.Error("expected error for a short hash lock")
	}
}

func TestUTXOHTLCAddressIsP2WSH(t *testing.T) {
	beneficiary, originator := testKeys(t)
	hashLock := bytes.Repeat([]byte{0xEF}, 32)
	locktime := int64(txscript.LockTimeThreshold + 1)

	script, err := buildUTXOHTLCScript(hashLock, pubKeyFromPriv(beneficiary), pubKeyFromPriv(originator), locktime)
	if err != nil {
		t.Fatal(err)
	}

	addr, pkScript, err := utxoHTLCAddress(script, &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("utxoHTLCAddress: %v", err)
	}
	if addr == "" {
		t.Error("expected non-empty address")
	}
	// P2WSH scriptPubKey: OP_0 <32-byte-hash> = 34 bytes.
	if len(pkScript) != 34 {
		t.Errorf("expected 34-byte P2WSH scriptPubKey, got %d", len(pkScript))
	}
}

func TestClaimAndRefundWitnessSelectors(t *testing.T) {
	script := []byte("script")
	claim := utxoClaimWitness([]byte("sig"), []byte("preimage"), script)
	if len(claim) != 4 || !bytes.Equal(claim[2], []byte{0x01}) {
		t.Error("claim witness must select the OP_IF branch with OP_TRUE")
	}
	refund := utxoRefundWitness([]byte("sig"), script)
	if len(refund) != 3 || len(refund[1]) != 0 {
		t.Error("refund witness must select the OP_ELSE branch with an empty element")
	}
}
