// Package httpapi exposes the Swap Service facade over HTTP: quoting,
// swap creation, swap/status queries, per-swap SSE event streams, claim
// submission, and a supplementary operator websocket feed. Routing follows
// the teacher's internal/rpc/server.go style (net/http ServeMux with Go
// 1.22+ method+pattern handlers), generalized from JSON-RPC dispatch to a
// plain REST surface since spec.md's external interface is REST, not
// JSON-RPC.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/store"
	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapservice"
	"github.com/klingon-exchange/fusion-swap-coordinator/pkg/logging"
)

// Server is the HTTP surface described in spec.md §6.
type Server struct {
	svc   *swapservice.Service
	store store.Store
	log   *logging.Logger
	wsHub *WSHub

	server   *http.Server
	listener net.Listener

	done chan struct{}
}

// NewServer constructs a Server. svc backs every REST endpoint; store is
// consulted directly only for claim submission and the websocket feed's
// event poll, which fall outside the facade's quote/create/query surface.
func NewServer(svc *swapservice.Service, st store.Store, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}
	return &Server{
		svc:   svc,
		store: st,
		log:   log.WithPrefix("httpapi"),
		wsHub: NewWSHub(log),
	}
}

// Start binds addr and begins serving in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.done = make(chan struct{})

	go s.wsHub.Run(s.done)
	go s.pollEventsForWS()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /quote", s.handleQuote)
	mux.HandleFunc("POST /swaps", s.handleCreateSwap)
	mux.HandleFunc("GET /swaps", s.handleListSwaps)
	mux.HandleFunc("GET /swaps/{id}", s.handleGetSwap)
	mux.HandleFunc("GET /swaps/{id}/events", s.handleStreamEvents)
	mux.HandleFunc("POST /claims", s.handleSubmitClaim)
	mux.HandleFunc("GET /ws", s.wsHub.handleWS)
	mux.HandleFunc("OPTIONS /{path...}", handleCORSPreflight)

	s.server = &http.Server{
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE/websocket handlers manage their own deadlines
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error", "error", err)
		}
	}()

	s.log.Info("http api started", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.done != nil {
		close(s.done)
	}
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// pollEventsForWS republishes every newly appended Event row to the
// operator websocket feed. It has no per-swap scope so it can't reuse
// swapservice.StreamEvents, which is why it talks to the store directly.
func (s *Server) pollEventsForWS() {
	cursor := ""
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			events, err := s.store.ListEventsSince(context.Background(), cursor, 256)
			if err != nil {
				s.log.Warn("ws event poll failed", "error", err)
				continue
			}
			for _, ev := range events {
				s.wsHub.Publish(ev)
				cursor = ev.ID
			}
		}
	}
}

func handleCORSPreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware mirrors the teacher's permissive CORS policy: the
// coordinator's clients are first-party web/mobile apps with no shared
// cookies to protect, so allowing any origin keeps local development and
// the Electron-style desktop client working without an allowlist.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
