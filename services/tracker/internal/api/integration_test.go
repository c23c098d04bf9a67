package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/p2p-songsharing/soundmesh/pkg/logger"
	"github.com/p2p-songsharing/soundmesh/pkg/protocol"
)

func startServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	server := NewServer(":0", logger.Discard())
	go server.hub.Run()

	ts := httptest.NewServer(server.SetupRoutes())
	t.Cleanup(ts.Close)
	return server, ts
}

func dialRelay(t *testing.T, ts *httptest.Server, addr string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/relay?addr=" + addr
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("relay dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// TestFullWorkflow drives the whole rendezvous contract: register,
// list, relay an envelope between two peers, unregister.
func TestFullWorkflow(t *testing.T) {
	_, ts := startServer(t)
	client := ts.Client()

	register := func(peerID, transportID string) {
		body, _ := json.Marshal(protocol.Announcement{
			PeerID:      peerID,
			TransportID: transportID,
			Name:        "Peer " + peerID,
			Songs: []protocol.Song{
				{Name: "track-" + peerID, Hash: "hash-" + peerID, Size: 512},
			},
		})
		resp, err := client.Post(ts.URL+"/register", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("register failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
	}

	t.Run("Register Peers", func(t *testing.T) {
		register("alice", "addr-alice")
		register("bob", "addr-bob")
	})

	t.Run("List Peers", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/peers")
		if err != nil {
			t.Fatalf("peers fetch failed: %v", err)
		}
		defer resp.Body.Close()

		var peers protocol.PeersResponse
		json.NewDecoder(resp.Body).Decode(&peers)
		if len(peers.Peers) != 2 {
			t.Fatalf("Expected 2 peers, got %d", len(peers.Peers))
		}
	})

	t.Run("Relay Envelope", func(t *testing.T) {
		alice := dialRelay(t, ts, "addr-alice")
		bob := dialRelay(t, ts, "addr-bob")

		payload, _ := json.Marshal(protocol.RequestSongMessage{
			Type:     protocol.MsgRequestSong,
			Hash:     "hash-bob",
			PeerName: "Peer alice",
		})
		env := protocol.Envelope{
			Type:      protocol.EnvPeerMessage,
			To:        "addr-bob",
			RequestID: "req-1",
			Payload:   payload,
			Timestamp: time.Now(),
		}
		if err := alice.WriteJSON(env); err != nil {
			t.Fatalf("write failed: %v", err)
		}

		bob.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got protocol.Envelope
		if err := bob.ReadJSON(&got); err != nil {
			t.Fatalf("read failed: %v", err)
		}

		if got.From != "addr-alice" {
			t.Errorf("Expected hub-stamped sender addr-alice, got %s", got.From)
		}
		if got.RequestID != "req-1" {
			t.Errorf("Expected request id preserved, got %s", got.RequestID)
		}

		msg, err := protocol.ParseMessage(got.Payload)
		if err != nil {
			t.Fatalf("payload parse failed: %v", err)
		}
		if msg.Kind() != protocol.MsgRequestSong {
			t.Errorf("Expected request_song payload, got %s", msg.Kind())
		}
	})

	t.Run("Relay To Absent Peer", func(t *testing.T) {
		alice := dialRelay(t, ts, "addr-alice2")

		env := protocol.Envelope{
			Type:      protocol.EnvPeerMessage,
			To:        "addr-nobody",
			RequestID: "req-2",
			Timestamp: time.Now(),
		}
		if err := alice.WriteJSON(env); err != nil {
			t.Fatalf("write failed: %v", err)
		}

		alice.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got protocol.Envelope
		if err := alice.ReadJSON(&got); err != nil {
			t.Fatalf("read failed: %v", err)
		}

		if got.Type != protocol.EnvRelayError {
			t.Fatalf("Expected relay_error, got %s", got.Type)
		}
		var relayErr protocol.RelayError
		if err := json.Unmarshal(got.Payload, &relayErr); err != nil {
			t.Fatalf("payload decode failed: %v", err)
		}
		if relayErr.Code != protocol.ErrPeerNotConnected {
			t.Errorf("Expected code %d, got %d", protocol.ErrPeerNotConnected, relayErr.Code)
		}
	})

	t.Run("Unregister", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/unregister", strings.NewReader("alice"))
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("unregister failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}

		peersResp, err := client.Get(ts.URL + "/peers")
		if err != nil {
			t.Fatalf("peers fetch failed: %v", err)
		}
		defer peersResp.Body.Close()

		var peers protocol.PeersResponse
		json.NewDecoder(peersResp.Body).Decode(&peers)
		if len(peers.Peers) != 1 || peers.Peers[0].PeerID != "bob" {
			t.Errorf("Expected only bob to remain, got %v", peers.Peers)
		}
	})
}
