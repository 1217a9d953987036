package swapservice

import (
	"context"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
)

// GetSwap returns the current snapshot of swap id.
func (s *Service) GetSwap(ctx context.Context, id string) (*store.Swap, error) {
	return s.store.GetSwap(ctx, id)
}

// ListSwaps returns swaps matching filter.
func (s *Service) ListSwaps(ctx context.Context, filter store.SwapFilter) ([]*store.Swap, error) {
	return s.store.ListSwaps(ctx, filter)
}

// StreamEvents delivers swapID's Event rows with an id greater than
// afterID (the httpapi layer passes the client's Last-Event-ID header
// through verbatim so a reconnecting SSE client resumes without gaps),
// then polls for new ones until ctx is cancelled, at which point the
// returned channel is closed. Callers cancel ctx when the HTTP client
// disconnects.
func (s *Service) StreamEvents(ctx context.Context, swapID, afterID string) <-chan *store.Event {
	out := make(chan *store.Event, 16)

	go func() {
		defer close(out)
		cursor := afterID

		const pollInterval = 500 * time.Millisecond
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			events, err := s.store.ListEventsAfter(ctx, swapID, cursor, 64)
			if err != nil {
				s.log.Warn("failed to poll events", "swap_id", swapID, "error", err)
			}
			for _, ev := range events {
				select {
				case out <- ev:
					cursor = ev.ID
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}
