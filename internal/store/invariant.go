package store

import (
	"fmt"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
)

func errInvariant(chain, token string, total, reserved, available uint64) error {
	return coordinatorerrors.InvariantViolation("pool_invariant_violated",
		fmt.Sprintf("%s/%s: total=%d != reserved=%d + available=%d", chain, token, total, reserved, available))
}
