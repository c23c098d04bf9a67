package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/p2p-songsharing/soundmesh/pkg/hash"
	"github.com/p2p-songsharing/soundmesh/pkg/logger"
	"github.com/p2p-songsharing/soundmesh/pkg/protocol"
	"github.com/p2p-songsharing/soundmesh/services/tracker/internal/models"
	"github.com/p2p-songsharing/soundmesh/services/tracker/internal/storage"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	storage storage.Storage
	log     logger.Logger
}

// NewHandler creates a new Handler
func NewHandler(s storage.Storage, log logger.Logger) *Handler {
	return &Handler{storage: s, log: log}
}

// Register handles POST /register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	h.announce(w, r, "registered")
}

// Heartbeat handles POST /heartbeat. A heartbeat carries the same body
// as registration and re-announces the peer's full catalog.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	h.announce(w, r, "heartbeat")
}

func (h *Handler) announce(w http.ResponseWriter, r *http.Request, action string) {
	var req protocol.Announcement
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.PeerID == "" {
		sendError(w, http.StatusBadRequest, "peer_id is required")
		return
	}

	peer := &models.Peer{
		ID:          req.PeerID,
		TransportID: req.TransportID,
		Name:        req.Name,
		Songs:       req.Songs,
	}

	if err := h.storage.UpsertPeer(peer); err != nil {
		h.log.WithErr(err).Error("failed to store peer announcement")
		sendError(w, http.StatusInternalServerError, "Failed to store announcement")
		return
	}

	h.log.WithStr("peer", hash.Short(req.PeerID)).
		WithStr("name", req.Name).
		WithInt("songs", len(req.Songs)).
		Debug(action)

	sendJSON(w, http.StatusOK, protocol.AnnounceResponse{
		Success: true,
		Message: "Announcement accepted",
	})
}

// Peers handles GET /peers
func (h *Handler) Peers(w http.ResponseWriter, r *http.Request) {
	peers := h.storage.ListOnlinePeers()
	sendJSON(w, http.StatusOK, protocol.PeersResponse{Peers: peers})
}

// Unregister handles DELETE /unregister. The body is the bare peer ID.
func (h *Handler) Unregister(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 256))
	if err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	peerID := strings.TrimSpace(string(body))
	if peerID == "" {
		sendError(w, http.StatusBadRequest, "Peer ID required")
		return
	}

	if err := h.storage.RemovePeer(peerID); err != nil {
		h.log.WithErr(err).Error("failed to remove peer")
		sendError(w, http.StatusInternalServerError, "Failed to remove peer")
		return
	}

	h.log.WithStr("peer", hash.Short(peerID)).Info("peer unregistered")
	sendJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	online, total := h.storage.GetStats()
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"peers_online": online,
		"peers_total":  total,
	})
}

// Helper functions
func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, map[string]string{"error": message})
}
