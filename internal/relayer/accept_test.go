package relayer

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/config"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
)

const testHTLCContract = "0x00000000000000000000000000000000001234"

func newTestRelayer(t *testing.T) (*Relayer, store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	chains := map[string]config.ChainConfig{
		"arbitrum": {ChainID: 42161},
	}
	cfg := config.DefaultRelayerConfig()
	r := New(st, nil, chains, cfg, nil)
	return r, st
}

// signedClaim builds a ClaimRequest whose signature and preimage are valid
// against swap, signed by key, with nonce and deadline overridable by the
// caller so each rule can be exercised in isolation.
func signedClaim(t *testing.T, key *ecdsa.PrivateKey, swap *store.Swap, chain config.ChainConfig, nonce uint64, deadline time.Time) *store.ClaimRequest {
	t.Helper()

	claimer := crypto.PubkeyToAddress(key.PublicKey).Hex()
	cr := &store.ClaimRequest{
		ID:              "claim-" + swap.ID,
		SwapID:          swap.ID,
		HTLCContract:    testHTLCContract,
		ContractID:      swap.HashLock, // arbitrary 32 bytes, not exercised by accept
		Preimage:        swap.Preimage,
		Claimer:         claimer,
		MaxGasPrice:     100,
		GasCompensation: 0,
		Nonce:           nonce,
		Deadline:        deadline,
	}

	domain := Domain{
		Name:              "FusionGasRelayer",
		Version:           "1",
		ChainID:           new(big.Int).SetUint64(chain.ChainID),
		VerifyingContract: common.HexToAddress(cr.HTLCContract),
	}
	msg := ClaimMessage{
		HTLCContract:    common.HexToAddress(cr.HTLCContract),
		ContractID:      cr.ContractID,
		Preimage:        cr.Preimage,
		Beneficiary:     common.HexToAddress(cr.Claimer),
		MaxGasPrice:     new(big.Int).SetUint64(cr.MaxGasPrice),
		GasCompensation: new(big.Int).SetUint64(cr.GasCompensation),
		Nonce:           new(big.Int).SetUint64(cr.Nonce),
		Deadline:        big.NewInt(cr.Deadline.Unix()),
	}
	digest := Digest(domain, msg)

	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		t.Fatalf("crypto.Sign: %v", err)
	}
	cr.Signature = sig
	return cr
}

func newTestSwap(t *testing.T, claimer string) *store.Swap {
	t.Helper()
	var preimage [32]byte
	copy(preimage[:], []byte("a-fixed-32-byte-testing-preimage"))
	hashLock := sha256.Sum256(preimage[:])

	return &store.Swap{
		ID:                  "swap-" + claimer,
		UserAddress:         claimer,
		BeneficiaryAddress:  claimer,
		SourceChainID:       "arbitrum",
		TargetChainID:       "arbitrum",
		HashLock:            hashLock,
		Preimage:            preimage,
		SourceTimelock:      time.Now().Add(2 * time.Hour),
		DestinationTimelock: time.Now().Add(time.Hour),
		CreatedAt:           time.Now(),
		ExpiresAt:           time.Now().Add(time.Hour),
	}
}

func TestAcceptHappyPath(t *testing.T) {
	r, _ := newTestRelayer(t)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	claimer := crypto.PubkeyToAddress(key.PublicKey).Hex()
	swap := newTestSwap(t, claimer)
	chain := r.chains[swap.SourceChainID]

	cr := signedClaim(t, key, swap, chain, 0, time.Now().Add(time.Hour))

	if err := r.accept(ctx, cr, swap, chain); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
}

func TestAcceptRejectsWrongSigner(t *testing.T) {
	r, _ := newTestRelayer(t)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	claimer := crypto.PubkeyToAddress(key.PublicKey).Hex()
	swap := newTestSwap(t, claimer)
	chain := r.chains[swap.SourceChainID]

	cr := signedClaim(t, other, swap, chain, 0, time.Now().Add(time.Hour))
	cr.Claimer = claimer // claims to be claimer but signed by a different key

	if err := r.accept(ctx, cr, swap, chain); err == nil {
		t.Fatal("expected rejection for signature/claimer mismatch")
	}
}

func TestAcceptRejectsClaimerNotSwapUser(t *testing.T) {
	r, _ := newTestRelayer(t)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	claimer := crypto.PubkeyToAddress(key.PublicKey).Hex()
	swap := newTestSwap(t, claimer)
	swap.UserAddress = "0x000000000000000000000000000000deadbeef" // doesn't match claimer
	chain := r.chains[swap.SourceChainID]

	cr := signedClaim(t, key, swap, chain, 0, time.Now().Add(time.Hour))

	if err := r.accept(ctx, cr, swap, chain); err == nil {
		t.Fatal("expected rejection when claimer != swap.user_address")
	}
}

func TestAcceptEnforcesStrictNonceMonotonicity(t *testing.T) {
	r, st := newTestRelayer(t)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	claimer := crypto.PubkeyToAddress(key.PublicKey).Hex()
	swap := newTestSwap(t, claimer)
	chain := r.chains[swap.SourceChainID]

	// Skipping straight to nonce 3 without consuming 0-2 must be rejected,
	// even though nothing else about the request is malformed.
	cr := signedClaim(t, key, swap, chain, 3, time.Now().Add(time.Hour))
	if err := r.accept(ctx, cr, swap, chain); err == nil {
		t.Fatal("expected rejection for out-of-order nonce")
	}

	// The expected next nonce (0) must be accepted.
	cr = signedClaim(t, key, swap, chain, 0, time.Now().Add(time.Hour))
	if err := r.accept(ctx, cr, swap, chain); err != nil {
		t.Fatalf("expected acceptance at next_nonce, got %v", err)
	}

	// accept() must not itself advance the counter: re-evaluating the same
	// still-PENDING request (e.g. parked by rules 6/7) must accept again.
	if err := r.accept(ctx, cr, swap, chain); err != nil {
		t.Fatalf("expected re-acceptance of a parked claim at the same nonce, got %v", err)
	}

	// Only ConsumeNonce (called once, at dispatch) may advance the counter.
	if err := st.ConsumeNonce(ctx, claimer, 0); err != nil {
		t.Fatalf("ConsumeNonce: %v", err)
	}
	if err := r.accept(ctx, cr, swap, chain); err == nil {
		t.Fatal("expected rejection of a replayed nonce after it was consumed")
	}

	// nonce 1 is now the expected next nonce.
	cr = signedClaim(t, key, swap, chain, 1, time.Now().Add(time.Hour))
	if err := r.accept(ctx, cr, swap, chain); err != nil {
		t.Fatalf("expected acceptance of next nonce after consume, got %v", err)
	}
}

func TestAcceptRejectsExpiredOrNarrowDeadline(t *testing.T) {
	r, _ := newTestRelayer(t)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	claimer := crypto.PubkeyToAddress(key.PublicKey).Hex()
	swap := newTestSwap(t, claimer)
	chain := r.chains[swap.SourceChainID]

	cr := signedClaim(t, key, swap, chain, 0, time.Now().Add(-time.Minute))
	if err := r.accept(ctx, cr, swap, chain); err == nil {
		t.Fatal("expected rejection of an already-elapsed deadline")
	}

	r.cfg.NonceSafetyMargin = 10 * time.Minute
	cr = signedClaim(t, key, swap, chain, 0, time.Now().Add(5*time.Minute))
	if err := r.accept(ctx, cr, swap, chain); err == nil {
		t.Fatal("expected rejection of a deadline inside the safety margin")
	}
}

func TestAcceptRejectsPreimageNotMatchingHashLock(t *testing.T) {
	r, _ := newTestRelayer(t)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	claimer := crypto.PubkeyToAddress(key.PublicKey).Hex()
	swap := newTestSwap(t, claimer)
	chain := r.chains[swap.SourceChainID]

	wrongSwap := *swap
	wrongSwap.Preimage[0] ^= 0xFF // a different preimage, signed consistently below
	cr := signedClaim(t, key, &wrongSwap, chain, 0, time.Now().Add(time.Hour))

	// The signature is valid over cr's own (wrong) preimage, so rules 1-4
	// pass; only rule 5 (preimage hashes to the real swap's hash_lock)
	// should reject it.
	if err := r.accept(ctx, cr, swap, chain); err == nil {
		t.Fatal("expected rejection when preimage does not hash to swap.hash_lock")
	}
}
