package chainadapter

import (
	"context"
	"math"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/config"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
)

// submitFunc performs one attempt at submitting a transaction at the given
// fee multiplier (1.0 on the first attempt, growing by FeeBumpPct each
// retry) and returns the resulting tx hash.
type submitFunc func(ctx context.Context, feeMultiplier float64) (txHash string, err error)

// withRetry implements spec §4.1's bounded exponential backoff: base 3s,
// factor 2, cap 60s, max 5 attempts, re-bumping fee by +50% per retry.
// It retries only on coordinatorerrors.KindChainTransient; any other error
// (notably KindChainReverted) is returned immediately to the caller.
func withRetry(ctx context.Context, policy config.RetryPolicy, fn submitFunc) (string, error) {
	delay := policy.BaseDelay
	feeMultiplier := 1.0
	var lastErr error

	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		txHash, err := fn(ctx, feeMultiplier)
		if err == nil {
			return txHash, nil
		}
		lastErr = err

		if !coordinatorerrors.IsKind(err, coordinatorerrors.KindChainTransient) {
			return "", err
		}

		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(math.Min(float64(delay)*policy.Factor, float64(policy.MaxDelay)))
		feeMultiplier += policy.FeeBumpPct
	}
	return "", lastErr
}
