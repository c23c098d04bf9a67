package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/p2p-songsharing/soundmesh/pkg/logger"
	"github.com/p2p-songsharing/soundmesh/pkg/protocol"
)

// testRelay is a minimal in-process rendezvous relay: it registers
// connections by their addr query parameter and forwards envelopes.
type testRelay struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func newTestRelay() *testRelay {
	return &testRelay{conns: make(map[string]*websocket.Conn)}
}

func (tr *testRelay) handler() http.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	return func(w http.ResponseWriter, r *http.Request) {
		addr := r.URL.Query().Get("addr")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		tr.mu.Lock()
		tr.conns[addr] = conn
		tr.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				tr.mu.Lock()
				delete(tr.conns, addr)
				tr.mu.Unlock()
				return
			}

			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			env.From = addr

			tr.mu.Lock()
			target, ok := tr.conns[env.To]
			if !ok {
				payload, _ := json.Marshal(protocol.RelayError{
					Code:    protocol.ErrPeerNotConnected,
					Message: "Target peer not connected",
				})
				out, _ := json.Marshal(protocol.Envelope{
					Type:      protocol.EnvRelayError,
					RequestID: env.RequestID,
					Payload:   payload,
				})
				conn.WriteMessage(websocket.TextMessage, out)
				tr.mu.Unlock()
				continue
			}
			out, _ := json.Marshal(env)
			target.WriteMessage(websocket.TextMessage, out)
			tr.mu.Unlock()
		}
	}
}

// dropAll severs every registered connection from the relay side
func (tr *testRelay) dropAll() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for addr, conn := range tr.conns {
		conn.Close()
		delete(tr.conns, addr)
	}
}

func startRelay(t *testing.T) (*testRelay, *httptest.Server) {
	t.Helper()
	relay := newTestRelay()
	mux := http.NewServeMux()
	mux.HandleFunc("/relay", relay.handler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return relay, srv
}

func startEndpoint(t *testing.T, serverURL string, handler RequestHandler) *Endpoint {
	t.Helper()
	e := New(serverURL, handler, logger.Discard())
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func TestEndpointConnects(t *testing.T) {
	_, srv := startRelay(t)
	e := startEndpoint(t, srv.URL, nil)

	if !e.IsConnected() {
		t.Error("Expected endpoint to be connected")
	}
	if e.Addr() == "" {
		t.Error("Expected a transport address after connect")
	}
}

func TestRequestRoundTrip(t *testing.T) {
	_, srv := startRelay(t)

	served := func(songHash, peerName string) (*protocol.SongDataMessage, error) {
		if songHash != "hash-1" {
			t.Errorf("Expected hash-1, got %s", songHash)
		}
		if peerName != "Asker" {
			t.Errorf("Expected requester name Asker, got %s", peerName)
		}
		return &protocol.SongDataMessage{
			Type:     protocol.MsgSongData,
			Hash:     songHash,
			Name:     "sunset groove",
			Filename: "sunset.wav",
			Data:     []byte("RIFFdata"),
		}, nil
	}

	sharer := startEndpoint(t, srv.URL, served)
	asker := startEndpoint(t, srv.URL, nil)

	msg, err := asker.Request(sharer.Addr(), "hash-1", "Asker")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if msg.Name != "sunset groove" {
		t.Errorf("Expected song name, got %s", msg.Name)
	}
	if string(msg.Data) != "RIFFdata" {
		t.Errorf("Expected payload bytes, got %q", msg.Data)
	}
}

func TestRequestUnknownPeer(t *testing.T) {
	_, srv := startRelay(t)
	asker := startEndpoint(t, srv.URL, nil)

	_, err := asker.Request("no-such-addr", "hash-1", "Asker")
	if !errors.Is(err, ErrPeerUnreachable) {
		t.Errorf("Expected ErrPeerUnreachable, got %v", err)
	}
}

func TestRequestRejectedByPeer(t *testing.T) {
	_, srv := startRelay(t)

	refusing := func(songHash, peerName string) (*protocol.SongDataMessage, error) {
		return nil, errors.New("Song not shared")
	}

	sharer := startEndpoint(t, srv.URL, refusing)
	asker := startEndpoint(t, srv.URL, nil)

	_, err := asker.Request(sharer.Addr(), "hash-1", "Asker")

	var rejected *PeerRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Expected PeerRejectedError, got %v", err)
	}
	if rejected.Reason != "Song not shared" {
		t.Errorf("Expected peer's reason, got %q", rejected.Reason)
	}
}

func TestRequestNilHandlerMeansSharingDisabled(t *testing.T) {
	_, srv := startRelay(t)

	sharer := startEndpoint(t, srv.URL, nil)
	asker := startEndpoint(t, srv.URL, nil)

	_, err := asker.Request(sharer.Addr(), "hash-1", "Asker")

	var rejected *PeerRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Expected PeerRejectedError, got %v", err)
	}
	if rejected.Reason != "Sharing disabled" {
		t.Errorf("Expected sharing disabled reason, got %q", rejected.Reason)
	}
}

func TestRequestTimeout(t *testing.T) {
	_, srv := startRelay(t)

	stalled := make(chan struct{})
	slow := func(songHash, peerName string) (*protocol.SongDataMessage, error) {
		<-stalled
		return nil, errors.New("too late")
	}
	defer close(stalled)

	sharer := startEndpoint(t, srv.URL, slow)
	asker := startEndpoint(t, srv.URL, nil)
	asker.SetRequestTimeout(200 * time.Millisecond)

	_, err := asker.Request(sharer.Addr(), "hash-1", "Asker")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestRequestAfterStop(t *testing.T) {
	_, srv := startRelay(t)
	e := startEndpoint(t, srv.URL, nil)

	e.Stop()

	if e.IsConnected() {
		t.Error("Expected endpoint to be disconnected after Stop")
	}
	if _, err := e.Request("anyone", "hash-1", "Asker"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestEndpointReconnectsAfterDrop(t *testing.T) {
	relay, srv := startRelay(t)

	e := New(srv.URL, nil, logger.Discard())
	e.SetReconnectBackoff(10 * time.Millisecond)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(e.Stop)

	oldAddr := e.Addr()
	if oldAddr == "" {
		t.Fatal("Expected a transport address before the drop")
	}

	relay.dropAll()

	// Reconnection happens with the same identity but a fresh address
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if addr := e.Addr(); addr != "" && addr != oldAddr {
			if !e.IsConnected() {
				t.Error("Expected connected endpoint after reconnect")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Endpoint never reconnected with a fresh address, addr=%q", e.Addr())
}

func TestEndpointGivesUpWhenRelayStaysDown(t *testing.T) {
	relay, srv := startRelay(t)

	downCh := make(chan error, 1)
	e := New(srv.URL, nil, logger.Discard())
	e.SetReconnectBackoff(5 * time.Millisecond)
	e.OnDown(func(err error) { downCh <- err })
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(e.Stop)

	// Take the listener down first so every reconnect attempt is refused
	srv.Close()
	relay.dropAll()

	select {
	case err := <-downCh:
		if err == nil {
			t.Error("Expected the terminal dial error to be reported")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the endpoint to give up")
	}

	if e.IsConnected() {
		t.Error("Expected disconnected endpoint after giving up")
	}
	if e.Addr() != "" {
		t.Error("Expected no transport address after teardown")
	}
}

func TestOnServedCallback(t *testing.T) {
	_, srv := startRelay(t)

	handler := func(songHash, peerName string) (*protocol.SongDataMessage, error) {
		return &protocol.SongDataMessage{
			Type:     protocol.MsgSongData,
			Hash:     songHash,
			Name:     "sunset groove",
			Filename: "sunset.wav",
			Data:     []byte("RIFF"),
		}, nil
	}

	sharer := startEndpoint(t, srv.URL, handler)

	servedCh := make(chan string, 1)
	sharer.OnServed(func(songName, peerName string) {
		servedCh <- songName + "/" + peerName
	})

	asker := startEndpoint(t, srv.URL, nil)
	if _, err := asker.Request(sharer.Addr(), "hash-1", "Asker"); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	select {
	case got := <-servedCh:
		if got != "sunset groove/Asker" {
			t.Errorf("Expected served callback with song and peer, got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for served callback")
	}
}
