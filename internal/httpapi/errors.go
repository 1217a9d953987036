package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
)

// errorResponse is the JSON body written for any non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError maps a coordinatorerrors.Kind to an HTTP status code and
// writes a JSON error body. Errors that aren't a CoordinatorError are
// treated as internal.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := coordinatorerrors.KindOf(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case coordinatorerrors.KindValidation:
		status = http.StatusBadRequest
	case coordinatorerrors.KindInsufficientLiquidity:
		status = http.StatusConflict
	case coordinatorerrors.KindChainTransient:
		status = http.StatusServiceUnavailable
	case coordinatorerrors.KindChainReverted:
		status = http.StatusUnprocessableEntity
	case coordinatorerrors.KindEmergencyStop:
		status = http.StatusServiceUnavailable
	case coordinatorerrors.KindInvariantViolation:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
