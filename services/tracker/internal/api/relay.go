package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/p2p-songsharing/soundmesh/pkg/hash"
	"github.com/p2p-songsharing/soundmesh/pkg/logger"
	"github.com/p2p-songsharing/soundmesh/pkg/protocol"
)

// Song payloads grow roughly 4/3 under base64; the limit leaves room
// for a 50 MB song plus envelope overhead.
const maxEnvelopeBytes = 80 * 1024 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RelayPeer is one transport endpoint connected to the relay
type RelayPeer struct {
	Addr string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *RelayHub
}

// RelayHub routes envelopes between transport addresses. It never
// inspects the peer message payloads it carries.
type RelayHub struct {
	peers      map[string]*RelayPeer
	register   chan *RelayPeer
	unregister chan *RelayPeer
	relay      chan *protocol.Envelope
	log        logger.Logger
	mu         sync.RWMutex
}

// NewRelayHub creates a new relay hub
func NewRelayHub(log logger.Logger) *RelayHub {
	return &RelayHub{
		peers:      make(map[string]*RelayPeer),
		register:   make(chan *RelayPeer),
		unregister: make(chan *RelayPeer),
		relay:      make(chan *protocol.Envelope, 256),
		log:        log,
	}
}

// Run starts the relay hub main loop
func (h *RelayHub) Run() {
	for {
		select {
		case peer := <-h.register:
			h.mu.Lock()
			// A reconnect under the same address replaces the old socket
			if existing, ok := h.peers[peer.Addr]; ok {
				close(existing.Send)
				existing.Conn.Close()
			}
			h.peers[peer.Addr] = peer
			total := len(h.peers)
			h.mu.Unlock()
			h.log.WithStr("addr", hash.Short(peer.Addr)).WithInt("total", total).Info("relay peer connected")

		case peer := <-h.unregister:
			h.mu.Lock()
			if existing, ok := h.peers[peer.Addr]; ok && existing == peer {
				delete(h.peers, peer.Addr)
				close(peer.Send)
			}
			total := len(h.peers)
			h.mu.Unlock()
			h.log.WithStr("addr", hash.Short(peer.Addr)).WithInt("total", total).Info("relay peer disconnected")

		case env := <-h.relay:
			h.forward(env)
		}
	}
}

// forward delivers an envelope to its target transport address
func (h *RelayHub) forward(env *protocol.Envelope) {
	h.mu.RLock()
	target, ok := h.peers[env.To]
	h.mu.RUnlock()

	if !ok {
		h.log.WithStr("to", hash.Short(env.To)).Debug("relay target not connected")
		h.sendError(env.From, env.RequestID, protocol.ErrPeerNotConnected, "Target peer not connected")
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		h.log.WithErr(err).Error("failed to marshal envelope")
		return
	}

	select {
	case target.Send <- data:
	default:
		h.log.WithStr("to", hash.Short(env.To)).Warn("relay send channel full, dropping envelope")
	}
}

// sendError reports a routing failure back to the sender
func (h *RelayHub) sendError(addr, requestID string, code int, message string) {
	h.mu.RLock()
	peer, ok := h.peers[addr]
	h.mu.RUnlock()

	if !ok {
		return
	}

	payload, _ := json.Marshal(protocol.RelayError{Code: code, Message: message})
	data, _ := json.Marshal(protocol.Envelope{
		Type:      protocol.EnvRelayError,
		RequestID: requestID,
		Payload:   payload,
		Timestamp: time.Now(),
	})

	select {
	case peer.Send <- data:
	default:
	}
}

// IsPeerConnected reports whether a transport address is connected
func (h *RelayHub) IsPeerConnected(addr string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.peers[addr]
	return ok
}

// readPump reads envelopes from a relay peer and hands them to the hub
func (p *RelayPeer) readPump() {
	defer func() {
		p.Hub.unregister <- p
		p.Conn.Close()
	}()

	p.Conn.SetReadLimit(maxEnvelopeBytes)
	p.Conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	p.Conn.SetPongHandler(func(string) error {
		p.Conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		_, data, err := p.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.Hub.log.WithStr("addr", hash.Short(p.Addr)).WithErr(err).Warn("relay read error")
			}
			break
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			p.Hub.log.WithStr("addr", hash.Short(p.Addr)).WithErr(err).Warn("invalid envelope from peer")
			p.Hub.sendError(p.Addr, "", protocol.ErrInvalidEnvelope, "Invalid envelope")
			continue
		}

		// The sender address is authoritative, never trusted from the wire
		env.From = p.Addr
		env.Timestamp = time.Now()

		p.Hub.relay <- &env
	}
}

// writePump writes queued envelopes and keeps the connection alive
func (p *RelayPeer) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		p.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.Send:
			p.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				p.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := p.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			p.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := p.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeRelay handles relay WebSocket connections. The addr query
// parameter is the transport address the endpoint minted for this
// session.
func ServeRelay(hub *RelayHub, w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("addr")
	if addr == "" {
		http.Error(w, "addr required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.WithErr(err).Warn("relay upgrade failed")
		return
	}

	peer := &RelayPeer{
		Addr: addr,
		Conn: conn,
		Send: make(chan []byte, 64),
		Hub:  hub,
	}

	hub.register <- peer

	go peer.writePump()
	go peer.readPump()
}
