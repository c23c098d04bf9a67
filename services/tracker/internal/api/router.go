package api

import (
	"net/http"
	"time"

	"github.com/p2p-songsharing/soundmesh/pkg/logger"
	"github.com/p2p-songsharing/soundmesh/services/tracker/internal/storage"
)

const Version = "1.0.0"

// Server is the HTTP server for the rendezvous service: peer registry
// endpoints plus the websocket relay.
type Server struct {
	handler *Handler
	storage storage.Storage
	hub     *RelayHub
	addr    string
	log     logger.Logger
}

// NewServer creates a rendezvous server with in-memory storage
func NewServer(addr string, log logger.Logger) *Server {
	store := storage.NewMemoryStorage()
	return &Server{
		handler: NewHandler(store, log),
		storage: store,
		hub:     NewRelayHub(log),
		addr:    addr,
		log:     log,
	}
}

// NewServerWithDB creates a rendezvous server backed by PostgreSQL
func NewServerWithDB(addr, connStr string, log logger.Logger) (*Server, error) {
	store, err := storage.NewPostgresStorage(connStr)
	if err != nil {
		return nil, err
	}
	return &Server{
		handler: NewHandler(store, log),
		storage: store,
		hub:     NewRelayHub(log),
		addr:    addr,
		log:     log,
	}, nil
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /register", s.handler.Register)
	mux.HandleFunc("POST /heartbeat", s.handler.Heartbeat)
	mux.HandleFunc("GET /peers", s.handler.Peers)
	mux.HandleFunc("DELETE /unregister", s.handler.Unregister)
	mux.HandleFunc("GET /health", s.handler.Health)

	mux.HandleFunc("GET /relay", func(w http.ResponseWriter, r *http.Request) {
		ServeRelay(s.hub, w, r)
	})

	return mux
}

// StartCleanup starts a goroutine that sweeps peers whose heartbeats
// stopped arriving.
func (s *Server) StartCleanup(interval, timeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			if swept := s.storage.CleanupOfflinePeers(timeout); swept > 0 {
				s.log.WithInt("swept", swept).Info("marked silent peers offline")
			}
		}
	}()
}

// Run starts the HTTP server
func (s *Server) Run() error {
	mux := s.SetupRoutes()

	go s.hub.Run()

	// Peers heartbeat every 15s; three missed beats mark them offline
	s.StartCleanup(30*time.Second, 45*time.Second)

	s.log.WithStr("addr", s.addr).WithStr("version", Version).Info("rendezvous server listening")
	return http.ListenAndServe(s.addr, mux)
}
