package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleStreamEvents serves GET /swaps/{id}/events over Server-Sent
// Events. A reconnecting client sends Last-Event-ID and resumes without
// gaps, per spec.md §6; stdlib's http.Flusher is sufficient for this and
// no third-party SSE library in the corpus or ecosystem improves on it, so
// this one handler is justified stdlib.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := s.svc.GetSwap(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	afterID := r.Header.Get("Last-Event-ID")
	events := s.svc.StreamEvents(r.Context(), id, afterID)

	for ev := range events {
		data, err := json.Marshal(toEventDTO(ev))
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
		flusher.Flush()
	}
}
