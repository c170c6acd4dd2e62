package visualization

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nvandessel/cellsim/internal/ratelimit"
	"github.com/nvandessel/cellsim/internal/store"
)

// Server serves the lineage graph and, optionally, Prometheus metrics
// while a simulation is running.
type Server struct {
	store      store.LineageStore
	metrics    http.Handler
	listenAddr string
	limiter    *ratelimit.Limiter
	httpServer *http.Server
	mu         sync.Mutex
	addr       string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRateLimit replaces the default per-client limit on the graph
// endpoints. A nil limiter disables limiting.
func WithRateLimit(l *ratelimit.Limiter) ServerOption {
	return func(s *Server) { s.limiter = l }
}

// NewServer creates a server for ls listening on listenAddr. An empty
// listenAddr lets the OS pick a free port on localhost. metrics may be nil.
// Graph endpoints scan the whole store and are limited to 2 requests per
// second per client, with bursts of 20.
func NewServer(ls store.LineageStore, metrics http.Handler, listenAddr string, opts ...ServerOption) *Server {
	if listenAddr == "" {
		listenAddr = "localhost:0"
	}
	s := &Server{
		store:      ls,
		metrics:    metrics,
		listenAddr: listenAddr,
		limiter:    ratelimit.NewLimiter(2, 20),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr returns the address the server is listening on (e.g., "localhost:PORT").
// Returns empty string if the server hasn't started yet.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe starts the HTTP server and blocks until the context is
// cancelled. Returns nil on clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/graph.dot", s.limit(http.HandlerFunc(s.handleDOT)))
	mux.Handle("/graph.json", s.limit(http.HandlerFunc(s.handleJSON)))
	mux.HandleFunc("/spots", s.handleSpots)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) limit(h http.Handler) http.Handler {
	if s.limiter == nil {
		return h
	}
	return s.limiter.Middleware(h)
}

func (s *Server) handleDOT(w http.ResponseWriter, r *http.Request) {
	dot, err := RenderDOT(r.Context(), s.store)
	if err != nil {
		http.Error(w, "render error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.Write([]byte(dot))
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	graph, err := RenderJSON(r.Context(), s.store)
	if err != nil {
		http.Error(w, "render error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(graph)
}

// handleSpots returns the spots of one timepoint: /spots?t=12
func (s *Server) handleSpots(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("t")
	if raw == "" {
		http.Error(w, "missing 't' query parameter", http.StatusBadRequest)
		return
	}
	t, err := strconv.Atoi(raw)
	if err != nil {
		http.Error(w, "invalid timepoint: "+raw, http.StatusBadRequest)
		return
	}

	spots, err := s.store.SpotsAt(r.Context(), t)
	if err != nil {
		http.Error(w, "query error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if spots == nil {
		spots = []store.Spot{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spots)
}
