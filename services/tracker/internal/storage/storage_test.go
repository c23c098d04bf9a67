package storage

import (
	"testing"
	"time"

	"github.com/p2p-songsharing/soundmesh/pkg/protocol"
	"github.com/p2p-songsharing/soundmesh/services/tracker/internal/models"
)

func testPeer(id, transportID string) *models.Peer {
	return &models.Peer{
		ID:          id,
		TransportID: transportID,
		Name:        "Peer " + id,
		Songs: []protocol.Song{
			{Name: "track", Hash: "hash-" + id, Size: 100},
		},
	}
}

func TestUpsertAndList(t *testing.T) {
	s := NewMemoryStorage()

	if err := s.UpsertPeer(testPeer("p1", "t1")); err != nil {
		t.Fatalf("UpsertPeer failed: %v", err)
	}
	if err := s.UpsertPeer(testPeer("p2", "t2")); err != nil {
		t.Fatalf("UpsertPeer failed: %v", err)
	}

	records := s.ListOnlinePeers()
	if len(records) != 2 {
		t.Fatalf("Expected 2 peers, got %d", len(records))
	}
}

func TestUpsertRefreshesTransportID(t *testing.T) {
	s := NewMemoryStorage()

	s.UpsertPeer(testPeer("p1", "old-transport"))
	s.UpsertPeer(testPeer("p1", "new-transport"))

	records := s.ListOnlinePeers()
	if len(records) != 1 {
		t.Fatalf("Expected 1 peer after re-announcement, got %d", len(records))
	}
	if records[0].TransportID != "new-transport" {
		t.Errorf("Expected refreshed transport id, got %s", records[0].TransportID)
	}
}

func TestRemovePeer(t *testing.T) {
	s := NewMemoryStorage()

	s.UpsertPeer(testPeer("p1", "t1"))
	if err := s.RemovePeer("p1"); err != nil {
		t.Fatalf("RemovePeer failed: %v", err)
	}

	if len(s.ListOnlinePeers()) != 0 {
		t.Error("Expected empty registry after removal")
	}
}

func TestCleanupOfflinePeers(t *testing.T) {
	s := NewMemoryStorage()

	s.UpsertPeer(testPeer("stale", "t1"))
	s.peers["stale"].LastSeen = time.Now().Add(-2 * time.Minute)
	s.UpsertPeer(testPeer("fresh", "t2"))

	swept := s.CleanupOfflinePeers(time.Minute)
	if swept != 1 {
		t.Errorf("Expected 1 peer swept, got %d", swept)
	}

	records := s.ListOnlinePeers()
	if len(records) != 1 || records[0].PeerID != "fresh" {
		t.Errorf("Expected only fresh peer online, got %v", records)
	}

	online, total := s.GetStats()
	if online != 1 || total != 2 {
		t.Errorf("Expected 1 online of 2 total, got %d/%d", online, total)
	}
}

func TestStaleAnnouncementRevives(t *testing.T) {
	s := NewMemoryStorage()

	s.UpsertPeer(testPeer("p1", "t1"))
	s.peers["p1"].LastSeen = time.Now().Add(-2 * time.Minute)
	s.CleanupOfflinePeers(time.Minute)

	// A new heartbeat brings the peer back online
	s.UpsertPeer(testPeer("p1", "t1-new"))

	records := s.ListOnlinePeers()
	if len(records) != 1 {
		t.Fatalf("Expected revived peer, got %d records", len(records))
	}
}
