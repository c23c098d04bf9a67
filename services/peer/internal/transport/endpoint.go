package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/p2p-songsharing/soundmesh/pkg/hash"
	"github.com/p2p-songsharing/soundmesh/pkg/logger"
	"github.com/p2p-songsharing/soundmesh/pkg/protocol"
)

var (
	ErrNotConnected    = errors.New("transport endpoint not connected")
	ErrTimeout         = errors.New("peer request timed out")
	ErrPeerUnreachable = errors.New("peer unreachable")
)

// PeerRejectedError is an explicit song_error from the remote peer
type PeerRejectedError struct {
	Reason string
}

func (e *PeerRejectedError) Error() string {
	return fmt.Sprintf("peer rejected request: %s", e.Reason)
}

// RequestHandler serves an inbound request_song. A returned error is
// sent back to the requester as a song_error.
type RequestHandler func(songHash, peerName string) (*protocol.SongDataMessage, error)

const (
	defaultRequestTimeout = 15 * time.Second
	dialTimeout           = 10 * time.Second
	writeTimeout          = 10 * time.Second
	pingInterval          = 30 * time.Second
	maxReconnectAttempts  = 5
	// 50 MB of song data grows ~4/3 under base64, plus envelope overhead
	maxEnvelopeBytes = 80 * 1024 * 1024
)

// Endpoint is the single long-lived peer transport owned by a session.
// It holds one websocket connection to the rendezvous relay; the relay
// routes peer messages between transport addresses. A fresh transport
// address is issued on every (re)connect, unlike the client identity.
type Endpoint struct {
	serverURL      string
	log            logger.Logger
	handler        RequestHandler
	requestTimeout time.Duration
	initialBackoff time.Duration

	onServed func(songName, peerName string)
	onDown   func(err error)

	mu        sync.RWMutex
	conn      *websocket.Conn
	addr      string
	connected bool
	closing   bool

	send        chan []byte
	responses   map[string]chan *protocol.Envelope
	done        chan struct{}
	reconnectCh chan struct{}
}

// New creates an endpoint against the given discovery server base URL
func New(serverURL string, handler RequestHandler, log logger.Logger) *Endpoint {
	return &Endpoint{
		serverURL:      serverURL,
		log:            log,
		handler:        handler,
		requestTimeout: defaultRequestTimeout,
		initialBackoff: time.Second,
		send:           make(chan []byte, 64),
		responses:      make(map[string]chan *protocol.Envelope),
		done:           make(chan struct{}),
		reconnectCh:    make(chan struct{}, 1),
	}
}

// SetRequestTimeout overrides the per-request deadline
func (e *Endpoint) SetRequestTimeout(d time.Duration) {
	e.requestTimeout = d
}

// SetReconnectBackoff overrides the initial reconnect backoff
func (e *Endpoint) SetReconnectBackoff(d time.Duration) {
	e.initialBackoff = d
}

// OnServed registers a callback fired after a song was sent to a peer
func (e *Endpoint) OnServed(fn func(songName, peerName string)) {
	e.onServed = fn
}

// OnDown registers a callback fired when the endpoint gives up
// reconnecting. Recovery from here requires an explicit restart.
func (e *Endpoint) OnDown(fn func(err error)) {
	e.onDown = fn
}

// Start brings the endpoint up and yields its first transport address
func (e *Endpoint) Start() error {
	if err := e.connect(); err != nil {
		return err
	}
	go e.reconnectLoop()
	return nil
}

// Addr returns the current transport address, empty when disconnected
func (e *Endpoint) Addr() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.connected {
		return ""
	}
	return e.addr
}

// IsConnected reports whether the endpoint currently holds a relay
// connection.
func (e *Endpoint) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// Stop tears the endpoint down permanently
func (e *Endpoint) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closing = true
	e.connected = false
	e.addr = ""

	select {
	case <-e.done:
	default:
		close(e.done)
	}

	if e.conn != nil {
		e.conn.Close()
	}
}

// connect dials the relay with a freshly issued transport address
func (e *Endpoint) connect() error {
	u, err := url.Parse(e.serverURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/relay"

	addr := uuid.New().String()
	u.RawQuery = fmt.Sprintf("addr=%s", addr)

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("relay connect failed: %w", err)
	}
	conn.SetReadLimit(maxEnvelopeBytes)

	e.mu.Lock()
	e.conn = conn
	e.addr = addr
	e.connected = true
	e.mu.Unlock()

	go e.readPump(conn)
	go e.writePump(conn)

	e.log.WithStr("addr", addr).Info("transport endpoint connected")
	return nil
}

// reconnectLoop retries in place with the same identity after a drop.
// After maxReconnectAttempts it gives up and surfaces the failure; the
// user re-enables sharing to bring the endpoint back.
func (e *Endpoint) reconnectLoop() {
	for {
		select {
		case <-e.reconnectCh:
			e.mu.RLock()
			closing := e.closing
			e.mu.RUnlock()
			if closing {
				return
			}

			backoff := e.initialBackoff
			var lastErr error
			recovered := false
			for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
				e.log.WithInt("attempt", attempt).Info("reconnecting transport endpoint")
				if lastErr = e.connect(); lastErr == nil {
					recovered = true
					break
				}
				time.Sleep(backoff)
				backoff *= 2
			}

			if !recovered {
				e.log.WithErr(lastErr).Error("transport endpoint unrecoverable")
				e.Stop()
				if e.onDown != nil {
					e.onDown(lastErr)
				}
				return
			}

		case <-e.done:
			return
		}
	}
}

// disconnect handles a dropped connection and schedules a reconnect
func (e *Endpoint) disconnect(conn *websocket.Conn) {
	e.mu.Lock()
	if e.conn != conn || !e.connected {
		e.mu.Unlock()
		return
	}
	e.connected = false
	e.addr = ""
	e.conn.Close()
	e.conn = nil
	closing := e.closing
	e.mu.Unlock()

	if !closing {
		select {
		case e.reconnectCh <- struct{}{}:
		default:
		}
	}
}

// Request asks the peer at targetAddr for a song and awaits exactly one
// of song_data, song_error, or the deadline.
func (e *Endpoint) Request(targetAddr, songHash, fromName string) (*protocol.SongDataMessage, error) {
	if !e.IsConnected() {
		return nil, ErrNotConnected
	}

	requestID := uuid.New().String()
	respChan := make(chan *protocol.Envelope, 1)

	e.mu.Lock()
	e.responses[requestID] = respChan
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.responses, requestID)
		e.mu.Unlock()
	}()

	payload, err := json.Marshal(protocol.RequestSongMessage{
		Type:     protocol.MsgRequestSong,
		Hash:     songHash,
		PeerName: fromName,
	})
	if err != nil {
		return nil, err
	}

	if err := e.enqueue(protocol.Envelope{
		Type:      protocol.EnvPeerMessage,
		To:        targetAddr,
		RequestID: requestID,
		Payload:   payload,
		Timestamp: time.Now(),
	}); err != nil {
		return nil, err
	}

	select {
	case env := <-respChan:
		return e.decodeResponse(env)

	case <-time.After(e.requestTimeout):
		return nil, ErrTimeout

	case <-e.done:
		return nil, ErrNotConnected
	}
}

// decodeResponse turns a routed envelope into a song or a typed error
func (e *Endpoint) decodeResponse(env *protocol.Envelope) (*protocol.SongDataMessage, error) {
	if env.Type == protocol.EnvRelayError {
		var relayErr protocol.RelayError
		if err := json.Unmarshal(env.Payload, &relayErr); err == nil && relayErr.Code == protocol.ErrPeerNotConnected {
			return nil, fmt.Errorf("%w: %s", ErrPeerUnreachable, relayErr.Message)
		}
		return nil, fmt.Errorf("%w: relay error", ErrPeerUnreachable)
	}

	msg, err := protocol.ParseMessage(env.Payload)
	if err != nil {
		return nil, err
	}

	switch m := msg.(type) {
	case protocol.SongDataMessage:
		return &m, nil
	case protocol.SongErrorMessage:
		return nil, &PeerRejectedError{Reason: m.Error}
	default:
		return nil, fmt.Errorf("unexpected response message %q", msg.Kind())
	}
}

// enqueue queues an envelope for the write pump
func (e *Endpoint) enqueue(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case e.send <- data:
		return nil
	case <-e.done:
		return ErrNotConnected
	}
}

func (e *Endpoint) readPump(conn *websocket.Conn) {
	defer e.disconnect(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				e.log.WithErr(err).Warn("transport read error")
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			e.log.WithErr(err).Warn("dropping invalid envelope")
			continue
		}

		e.handleEnvelope(&env)
	}
}

func (e *Endpoint) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		e.disconnect(conn)
	}()

	for {
		select {
		case data, ok := <-e.send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				e.log.WithErr(err).Warn("transport write error")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-e.done:
			return
		}
	}
}

// handleEnvelope routes responses to their waiting request, and serves
// inbound song requests.
func (e *Endpoint) handleEnvelope(env *protocol.Envelope) {
	if env.Type == protocol.EnvRelayError {
		e.route(env)
		return
	}

	msg, err := protocol.ParseMessage(env.Payload)
	if err != nil {
		e.log.WithErr(err).Warn("rejecting peer message")
		return
	}

	switch m := msg.(type) {
	case protocol.RequestSongMessage:
		e.serveRequest(env, m)
	case protocol.SongDataMessage, protocol.SongErrorMessage:
		e.route(env)
	}
}

// route delivers a response envelope to the request waiting on its ID
func (e *Endpoint) route(env *protocol.Envelope) {
	e.mu.RLock()
	respChan, ok := e.responses[env.RequestID]
	e.mu.RUnlock()

	if !ok {
		e.log.WithStr("request_id", env.RequestID).Debug("response for unknown request")
		return
	}
	select {
	case respChan <- env:
	default:
	}
}

// serveRequest answers an inbound request_song with song_data or
// song_error.
func (e *Endpoint) serveRequest(env *protocol.Envelope, req protocol.RequestSongMessage) {
	log := e.log.WithStr("hash", hash.Short(req.Hash)).WithStr("peer", req.PeerName)
	log.Info("inbound song request")

	if e.handler == nil {
		e.reply(env, protocol.SongErrorMessage{
			Type:  protocol.MsgSongError,
			Hash:  req.Hash,
			Error: "Sharing disabled",
		})
		return
	}

	data, err := e.handler(req.Hash, req.PeerName)
	if err != nil {
		log.WithErr(err).Warn("refusing song request")
		e.reply(env, protocol.SongErrorMessage{
			Type:  protocol.MsgSongError,
			Hash:  req.Hash,
			Error: err.Error(),
		})
		return
	}

	if e.reply(env, *data) == nil {
		log.WithStr("song", data.Name).Info("song sent to peer")
		if e.onServed != nil {
			e.onServed(data.Name, req.PeerName)
		}
	}
}

// reply sends a peer message back to the envelope's sender
func (e *Endpoint) reply(env *protocol.Envelope, msg protocol.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return e.enqueue(protocol.Envelope{
		Type:      protocol.EnvPeerMessage,
		To:        env.From,
		RequestID: env.RequestID,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}
