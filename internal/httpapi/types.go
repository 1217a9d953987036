package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapfsm"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapservice"
	"github.com/klingon-exchange/fusion-swap-coordinator/pkg/helpers"
)

// encodeHex renders b the way the rest of the coordinator does: lowercase
// hex with no 0x prefix (see resolver.go's parseContractID).
func encodeHex(b []byte) string {
	return strings.TrimPrefix(helpers.BytesToHex(b), "0x")
}

// quoteRequestDTO is the wire shape of POST /quote's body.
type quoteRequestDTO struct {
	SourceChain      string `json:"source_chain"`
	SourceToken      string `json:"source_token"`
	SourceAmount     uint64 `json:"source_amount"`
	TargetChain      string `json:"target_chain"`
	TargetToken      string `json:"target_token"`
	MinReceiveAmount uint64 `json:"min_receive_amount"`
}

func (d quoteRequestDTO) toRequest() swapservice.QuoteRequest {
	return swapservice.QuoteRequest{
		SourceChain:      d.SourceChain,
		SourceToken:      d.SourceToken,
		SourceAmount:     d.SourceAmount,
		TargetChain:      d.TargetChain,
		TargetToken:      d.TargetToken,
		MinReceiveAmount: d.MinReceiveAmount,
	}
}

// quoteDTO is the wire shape of a Quote, round-tripped by the client from
// POST /quote's response into POST /swaps's request body.
type quoteDTO struct {
	QuoteID          string    `json:"quote_id"`
	SourceChain      string    `json:"source_chain"`
	SourceToken      string    `json:"source_token"`
	SourceAmount     uint64    `json:"source_amount"`
	TargetChain      string    `json:"target_chain"`
	TargetToken      string    `json:"target_token"`
	MinReceiveAmount uint64    `json:"min_receive_amount"`
	ExpectedAmount   uint64    `json:"expected_amount"`
	NetworkFee       uint64    `json:"network_fee"`
	ExchangeFee      uint64    `json:"exchange_fee"`
	ExpiresAt        time.Time `json:"expires_at"`
	// ExpectedAmountDecimal is ExpectedAmount rendered in the target
	// token's human decimal units, e.g. "1.5" for 1_500_000 at 6 decimals.
	ExpectedAmountDecimal string `json:"expected_amount_decimal,omitempty"`
}

func (s *Server) toQuoteDTO(q *swapservice.Quote) quoteDTO {
	dto := quoteDTO{
		QuoteID:          q.QuoteID,
		SourceChain:      q.Request.SourceChain,
		SourceToken:      q.Request.SourceToken,
		SourceAmount:     q.Request.SourceAmount,
		TargetChain:      q.Request.TargetChain,
		TargetToken:      q.Request.TargetToken,
		MinReceiveAmount: q.Request.MinReceiveAmount,
		ExpectedAmount:   q.ExpectedAmount,
		NetworkFee:       q.NetworkFee,
		ExchangeFee:      q.ExchangeFee,
		ExpiresAt:        q.ExpiresAt,
	}
	if decimals := s.svc.TokenDecimals(q.Request.TargetChain, q.Request.TargetToken); decimals > 0 {
		dto.ExpectedAmountDecimal = helpers.FormatAmount(q.ExpectedAmount, decimals)
	}
	return dto
}

func (d quoteDTO) toQuote() *swapservice.Quote {
	return &swapservice.Quote{
		QuoteID: d.QuoteID,
		Request: swapservice.QuoteRequest{
			SourceChain:      d.SourceChain,
			SourceToken:      d.SourceToken,
			SourceAmount:     d.SourceAmount,
			TargetChain:      d.TargetChain,
			TargetToken:      d.TargetToken,
			MinReceiveAmount: d.MinReceiveAmount,
		},
		ExpectedAmount: d.ExpectedAmount,
		NetworkFee:     d.NetworkFee,
		ExchangeFee:    d.ExchangeFee,
		ExpiresAt:      d.ExpiresAt,
	}
}

// createSwapRequestDTO is the wire shape of POST /swaps's body.
type createSwapRequestDTO struct {
	UserAddress        string   `json:"user_address"`
	BeneficiaryAddress string   `json:"beneficiary_address"`
	Quote              quoteDTO `json:"quote"`
}

// swapDTO is the wire shape of a Swap returned by POST /swaps, GET
// /swaps/{id}, and GET /swaps. hash_lock and preimage are hex-encoded;
// preimage is omitted (zero value) until the swap reaches USER_CLAIMED,
// at which point it is public on-chain anyway.
type swapDTO struct {
	ID                     string       `json:"id"`
	UserAddress            string       `json:"user_address"`
	BeneficiaryAddress     string       `json:"beneficiary_address"`
	SourceChainID          string       `json:"source_chain_id"`
	SourceTokenID          string       `json:"source_token_id"`
	SourceAmount           uint64       `json:"source_amount"`
	TargetChainID          string       `json:"target_chain_id"`
	TargetTokenID          string       `json:"target_token_id"`
	TargetExpectedAmount   uint64       `json:"target_expected_amount"`
	TargetMinReceiveAmount uint64       `json:"target_min_receive_amount"`
	HashLock               string       `json:"hash_lock"`
	Preimage               string       `json:"preimage,omitempty"`
	UserHTLCID             string       `json:"user_htlc_id,omitempty"`
	PoolHTLCID             string       `json:"pool_htlc_id,omitempty"`
	State                  swapfsm.State `json:"state"`
	SourceFundedAt         *time.Time   `json:"source_funded_at,omitempty"`
	DestinationFundedAt    *time.Time   `json:"destination_funded_at,omitempty"`
	UserClaimedAt          *time.Time   `json:"user_claimed_at,omitempty"`
	PoolClaimedAt          *time.Time   `json:"pool_claimed_at,omitempty"`
	RefundedAt             *time.Time   `json:"refunded_at,omitempty"`
	SourceTimelock         *time.Time   `json:"source_timelock,omitempty"`
	DestinationTimelock    time.Time    `json:"destination_timelock"`
	CreatedAt              time.Time    `json:"created_at"`
	ExpiresAt              time.Time    `json:"expires_at"`
	NetworkFee             uint64       `json:"network_fee"`
	ExchangeFee            uint64       `json:"exchange_fee"`
	ErrorMessage           string       `json:"error_message,omitempty"`
	// TargetExpectedAmountDecimal is TargetExpectedAmount rendered in the
	// target token's human decimal units.
	TargetExpectedAmountDecimal string `json:"target_expected_amount_decimal,omitempty"`
}

func (srv *Server) toSwapDTO(s *store.Swap) swapDTO {
	dto := swapDTO{
		ID:                     s.ID,
		UserAddress:            s.UserAddress,
		BeneficiaryAddress:     s.BeneficiaryAddress,
		SourceChainID:          s.SourceChainID,
		SourceTokenID:          s.SourceTokenID,
		SourceAmount:           s.SourceAmount,
		TargetChainID:          s.TargetChainID,
		TargetTokenID:          s.TargetTokenID,
		TargetExpectedAmount:   s.TargetExpectedAmount,
		TargetMinReceiveAmount: s.TargetMinReceiveAmount,
		HashLock:               encodeHex(s.HashLock[:]),
		UserHTLCID:             s.UserHTLCID,
		PoolHTLCID:             s.PoolHTLCID,
		State:                  s.State,
		DestinationTimelock:    s.DestinationTimelock,
		CreatedAt:              s.CreatedAt,
		ExpiresAt:              s.ExpiresAt,
		NetworkFee:             s.Fees.NetworkFee,
		ExchangeFee:            s.Fees.ExchangeFee,
		ErrorMessage:           s.ErrorMessage,
	}
	if s.State == swapfsm.StateUserClaimed {
		dto.Preimage = encodeHex(s.Preimage[:])
	}
	if decimals := srv.svc.TokenDecimals(s.TargetChainID, s.TargetTokenID); decimals > 0 {
		dto.TargetExpectedAmountDecimal = helpers.FormatAmount(s.TargetExpectedAmount, decimals)
	}
	setIfNonZero(&dto.SourceFundedAt, s.SourceFundedAt)
	setIfNonZero(&dto.DestinationFundedAt, s.DestinationFundedAt)
	setIfNonZero(&dto.UserClaimedAt, s.UserClaimedAt)
	setIfNonZero(&dto.PoolClaimedAt, s.PoolClaimedAt)
	setIfNonZero(&dto.RefundedAt, s.RefundedAt)
	setIfNonZero(&dto.SourceTimelock, s.SourceTimelock)
	return dto
}

func setIfNonZero(dst **time.Time, t time.Time) {
	if !t.IsZero() {
		v := t
		*dst = &v
	}
}

// claimRequestDTO is the wire shape of POST /claims's body: a user's
// signed authorization for the relayer to submit their claim on their
// behalf, per spec §4.5.
type claimRequestDTO struct {
	SwapID          string `json:"swap_id"`
	HTLCContract    string `json:"htlc_contract"`
	ContractID      string `json:"contract_id"`
	Preimage        string `json:"preimage"`
	Claimer         string `json:"claimer"`
	MaxGasPrice     uint64 `json:"max_gas_price"`
	GasCompensation uint64 `json:"gas_compensation"`
	Nonce           uint64 `json:"nonce"`
	Deadline        int64  `json:"deadline"` // unix seconds
	Signature       string `json:"signature"`
}

func (d claimRequestDTO) toClaimRequest() (*store.ClaimRequest, error) {
	contractID, err := decodeHash32(d.ContractID)
	if err != nil {
		return nil, fmt.Errorf("contract_id: %w", err)
	}
	preimage, err := decodeHash32(d.Preimage)
	if err != nil {
		return nil, fmt.Errorf("preimage: %w", err)
	}
	sig, err := helpers.HexToBytes(d.Signature)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	return &store.ClaimRequest{
		SwapID:          d.SwapID,
		HTLCContract:    d.HTLCContract,
		ContractID:      contractID,
		Preimage:        preimage,
		Claimer:         d.Claimer,
		MaxGasPrice:     d.MaxGasPrice,
		GasCompensation: d.GasCompensation,
		Nonce:           d.Nonce,
		Deadline:        time.Unix(d.Deadline, 0),
		Signature:       sig,
		Status:          store.ClaimPending,
	}, nil
}

// claimRequestStatusDTO is the wire shape returned from POST /claims.
type claimRequestStatusDTO struct {
	ID           string            `json:"id"`
	SwapID       string            `json:"swap_id"`
	Status       store.ClaimStatus `json:"status"`
	TxHash       string            `json:"tx_hash,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

func toClaimRequestStatusDTO(cr *store.ClaimRequest) claimRequestStatusDTO {
	return claimRequestStatusDTO{
		ID:           cr.ID,
		SwapID:       cr.SwapID,
		Status:       cr.Status,
		TxHash:       cr.TxHash,
		ErrorMessage: cr.ErrorMessage,
	}
}

// eventDTO is the wire shape of an Event row, used both by the SSE stream
// and the operator websocket feed.
type eventDTO struct {
	ID        string          `json:"id"`
	SwapID    string          `json:"swap_id"`
	Type      string          `json:"type"`
	Data      interface{}     `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func toEventDTO(ev *store.Event) eventDTO {
	return eventDTO{
		ID:        ev.ID,
		SwapID:    ev.SwapID,
		Type:      ev.Type,
		Data:      ev.Data, // json.RawMessage marshals itself verbatim
		Timestamp: ev.Timestamp,
	}
}

func decodeHash32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := helpers.HexToBytes(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
