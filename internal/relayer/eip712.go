package relayer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// eip712DomainTypeHash and claimTypeHash are the EIP-712 type hashes for
// this relayer's fixed domain and its one message type, per spec §6:
// Claim(address htlcContract, bytes32 contractId, bytes32 preimage,
// address beneficiary, uint256 maxGasPrice, uint256 gasCompensation,
// uint256 nonce, uint256 deadline).
var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	claimTypeHash = crypto.Keccak256Hash([]byte(
		"Claim(address htlcContract,bytes32 contractId,bytes32 preimage,address beneficiary,uint256 maxGasPrice,uint256 gasCompensation,uint256 nonce,uint256 deadline)",
	))
)

// Domain is the fixed EIP-712 domain separator input, per spec §4.5 rule 1:
// (name, version, chain_id, verifying_contract). name/version are pinned by
// config.RelayerConfig; chain_id and verifying_contract vary per the claim's
// source chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func (d Domain) separator() common.Hash {
	return crypto.Keccak256Hash(
		eip712DomainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		common.LeftPadBytes(d.ChainID.Bytes(), 32),
		common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
	)
}

// ClaimMessage mirrors store.ClaimRequest's signed fields, per spec §3/§6.
type ClaimMessage struct {
	HTLCContract    common.Address
	ContractID      [32]byte
	Preimage        [32]byte
	Beneficiary     common.Address
	MaxGasPrice     *big.Int
	GasCompensation *big.Int
	Nonce           *big.Int
	Deadline        *big.Int
}

func (m ClaimMessage) structHash() common.Hash {
	return crypto.Keccak256Hash(
		claimTypeHash.Bytes(),
		common.LeftPadBytes(m.HTLCContract.Bytes(), 32),
		m.ContractID[:],
		m.Preimage[:],
		common.LeftPadBytes(m.Beneficiary.Bytes(), 32),
		common.LeftPadBytes(m.MaxGasPrice.Bytes(), 32),
		common.LeftPadBytes(m.GasCompensation.Bytes(), 32),
		common.LeftPadBytes(m.Nonce.Bytes(), 32),
		common.LeftPadBytes(m.Deadline.Bytes(), 32),
	)
}

// Digest computes the final EIP-712 signing hash
// keccak256(0x1901 || domainSeparator || structHash).
func Digest(domain Domain, msg ClaimMessage) common.Hash {
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		domain.separator().Bytes(),
		msg.structHash().Bytes(),
	)
}

// RecoverSigner recovers the address that produced sig over digest. sig
// must be the canonical 65-byte [R || S || V] form; V may be 0/1 or the
// legacy 27/28 convention used by eth_sign-family signers.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errBadSignatureLength
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
