// Package attesterapi is the single-attester HTTP API (§6.1): snapshots
// of the local Attestation Store plus health/metrics, and the one write
// path a fleet needs — peer attesters POSTing their own PartialSignature
// for a message so this process can admit it into its own Store (§4.5).
// Grounded on the teacher's internal/api/server.go router and middleware
// chain (recover -> logging -> CORS), narrowed to the endpoint set this
// component actually needs and without the teacher's auth/rate limit
// middleware, since this API serves trusted fetcher and peer-attester
// traffic inside the bridge's own operator boundary, not public bridge
// users.
package attesterapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/metrics"
	"github.com/etrid-network/attest-core/internal/store"
)

// peerRoster resolves a gossiping attester's public signing material by
// its fleet ID, so an incoming signature can be authenticated before
// it's admitted into the Store. The caller (cmd/attester) builds this
// from config.Config's Peers list.
type peerRoster map[uint8]identity.AttesterIdentity

// AdapterStatus is a snapshot of one watched chain, recorded in Server
// via SetAdapterStatus. cmd/attester records each watch's starting
// cursor once at startup; the values are not updated as discovery
// progresses.
type AdapterStatus struct {
	SourceDomain string `json:"source_domain"`
	LastCursor   uint64 `json:"last_cursor"`
	Healthy      bool   `json:"healthy"`
}

// Server is the attester's HTTP surface. Every GET handler reads a
// snapshot of the Store; POST /signature is the one handler that
// writes to it (Ensure, then AddSignature).
type Server struct {
	store     *store.Store
	metrics   *metrics.Metrics
	identity  identity.AttesterIdentity
	roster    peerRoster
	startedAt time.Time
	log       zerolog.Logger

	router *mux.Router
	server *http.Server

	mu       sync.Mutex
	adapters map[string]AdapterStatus
}

// New builds a Server. addr is the listen address, e.g. ":8080". roster
// is the set of peer attesters whose gossiped signatures this process
// will accept on POST /signature, keyed by attester ID; a nil or empty
// roster means the ingest endpoint rejects every signature it receives.
func New(addr string, st *store.Store, m *metrics.Metrics, id identity.AttesterIdentity,
	roster map[uint8]identity.AttesterIdentity, log zerolog.Logger) *Server {
	s := &Server{
		store:     st,
		metrics:   m,
		identity:  id,
		roster:    roster,
		startedAt: time.Now(),
		log:       log.With().Str("component", "attester-api").Logger(),
		router:    mux.NewRouter(),
		adapters:  make(map[string]AdapterStatus),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/attestation/{a}", s.handleAttestationByHash).Methods("GET")
	s.router.HandleFunc("/attestation/{source_domain}/{nonce}", s.handleAttestationByNonce).Methods("GET")
	s.router.HandleFunc("/attestations/ready", s.handleReady).Methods("GET")
	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/signature", s.handleIngestSignature).Methods("POST")

	s.router.Use(s.recoverMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

// SetAdapterStatus records the snapshot for one watched source domain;
// cmd/attester calls it once per watch at startup.
func (s *Server) SetAdapterStatus(st AdapterStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[st.SourceDomain] = st
}

func (s *Server) snapshotAdapters() []AdapterStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AdapterStatus, 0, len(s.adapters))
	for _, a := range s.adapters {
		out = append(out, a)
	}
	return out
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("address", s.server.Addr).Msg("starting attester HTTP API")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down, draining in-flight responses
// within ctx's deadline (§5: "30s grace period").
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info().Msg("stopping attester HTTP API")
	return s.server.Shutdown(ctx)
}

// Middleware

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error().Interface("panic", err).Str("path", r.URL.Path).Msg("recovered panic in handler")
				respondError(w, http.StatusInternalServerError, "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
