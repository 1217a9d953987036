package relayer

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/config"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
)

// accept runs spec §4.5 ingress rules 1-5 against cr: signature
// reconstruction and recovery, nonce strict-monotonicity and replay
// rejection, deadline safety margin, and preimage/hash_lock agreement.
// A non-nil error is a permanent rejection; the caller marks cr FAILED.
// Rules 6 (rate limit) and 7 (gas price) are evaluated separately, at
// dispatch time, since they gate *when* an already-accepted request runs
// rather than whether it is valid at all.
func (r *Relayer) accept(ctx context.Context, cr *store.ClaimRequest, swap *store.Swap, chain config.ChainConfig) error {
	domain := Domain{
		Name:              r.cfg.DomainName,
		Version:           r.cfg.DomainVersion,
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

	// Rule 2: recover signer, require signer == claimer == swap.user_address.
	signer, err := RecoverSigner(digest, cr.Signature)
	if err != nil {
		return fmt.Errorf("signature recovery failed: %w", err)
	}
	if !strings.EqualFold(signer.Hex(), cr.Claimer) {
		return fmt.Errorf("signature does not match claimer: recovered %s, claimed %s", signer.Hex(), cr.Claimer)
	}
	if !strings.EqualFold(cr.Claimer, swap.UserAddress) {
		return fmt.Errorf("claimer %s does not match swap user_address %s", cr.Claimer, swap.UserAddress)
	}

	// Rule 3: nonce must equal store.next_nonce(claimer) exactly — strict
	// per-user monotonicity, not just distinctness. The Store's
	// UNIQUE(claimer, nonce) index only rejects an exact repeat; it does
	// nothing to stop a claimer skipping ahead or submitting out of order,
	// so that has to be checked here against the persisted counter.
	// NextNonce is a pure read (see store.Store), safe to call every time
	// accept re-evaluates a claim request parked by rules 6/7.
	next, err := r.store.NextNonce(ctx, cr.Claimer)
	if err != nil {
		return fmt.Errorf("looking up next nonce for %s: %w", cr.Claimer, err)
	}
	if cr.Nonce != next {
		return fmt.Errorf("nonce %d is not the expected next nonce %d for claimer %s", cr.Nonce, next, cr.Claimer)
	}

	// Rule 4: deadline must exceed now plus the configured safety margin.
	if !cr.Deadline.After(time.Now().Add(r.cfg.NonceSafetyMargin)) {
		return fmt.Errorf("deadline %s has elapsed or is inside the safety margin", cr.Deadline)
	}

	// Rule 5: preimage must hash (SHA-256) to the swap's hash_lock.
	if sha256.Sum256(cr.Preimage[:]) != swap.HashLock {
		return fmt.Errorf("preimage does not hash to swap hash_lock")
	}

	return nil
}
