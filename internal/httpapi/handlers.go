package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapfsm"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapservice"
)

// handleQuote serves POST /quote.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var body quoteRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, coordinatorerrors.Validationf("bad_request", err, "invalid request body"))
		return
	}

	q, err := s.svc.GetQuote(r.Context(), body.toRequest())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toQuoteDTO(q))
}

// handleCreateSwap serves POST /swaps.
func (s *Server) handleCreateSwap(w http.ResponseWriter, r *http.Request) {
	var body createSwapRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, coordinatorerrors.Validationf("bad_request", err, "invalid request body"))
		return
	}

	swap, err := s.svc.CreateSwap(r.Context(), swapservice.CreateSwapRequest{
		UserAddress:        body.UserAddress,
		BeneficiaryAddress: body.BeneficiaryAddress,
		Quote:              body.Quote.toQuote(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.toSwapDTO(swap))
}

// handleGetSwap serves GET /swaps/{id}.
func (s *Server) handleGetSwap(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	swap, err := s.svc.GetSwap(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "swap not found"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toSwapDTO(swap))
}

// handleListSwaps serves GET /swaps, filtered by the state, user, and
// chain query parameters named in spec.md §6.
func (s *Server) handleListSwaps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SwapFilter{
		State:       swapfsm.State(q.Get("state")),
		UserAddress: q.Get("user"),
		Chain:       q.Get("chain"),
		Limit:       100,
	}

	swaps, err := s.svc.ListSwaps(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]swapDTO, len(swaps))
	for i, sw := range swaps {
		dtos[i] = s.toSwapDTO(sw)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// handleSubmitClaim serves POST /claims: a user submits a signed
// meta-transaction authorizing the relayer to claim on their behalf. This
// only enqueues the request — internal/relayer's background loop applies
// spec §4.5's ingress and dispatch rules and advances it asynchronously;
// the caller polls the returned id or watches the swap's SSE stream.
func (s *Server) handleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	var body claimRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, coordinatorerrors.Validationf("bad_request", err, "invalid request body"))
		return
	}

	cr, err := body.toClaimRequest()
	if err != nil {
		writeError(w, coordinatorerrors.Validationf("bad_request", err, "invalid claim fields"))
		return
	}

	// Reject an obvious nonce replay before it ever becomes a row; once the
	// relayer picks this up, accept() makes the authoritative decision by
	// requiring the nonce to equal the Store's NextNonce for the claimer.
	seen, err := s.store.HasNonce(r.Context(), cr.Claimer, cr.Nonce)
	if err != nil {
		writeError(w, err)
		return
	}
	if seen {
		writeError(w, coordinatorerrors.Validation("nonce_reused", "claimer has already submitted a claim at this nonce"))
		return
	}

	cr.ID = uuid.NewString()
	if err := s.store.CreateClaimRequest(r.Context(), cr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toClaimRequestStatusDTO(cr))
}
