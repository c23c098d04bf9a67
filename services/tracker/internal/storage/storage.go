package storage

import (
	"sync"
	"time"

	"github.com/p2p-songsharing/soundmesh/pkg/protocol"
	"github.com/p2p-songsharing/soundmesh/services/tracker/internal/models"
)

// MemoryStorage is an in-memory implementation of the storage
type MemoryStorage struct {
	mu    sync.RWMutex
	peers map[string]*models.Peer // peerID -> Peer
}

// NewMemoryStorage creates a new in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		peers: make(map[string]*models.Peer),
	}
}

// UpsertPeer adds or refreshes a peer from an announcement
func (s *MemoryStorage) UpsertPeer(peer *models.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.peers[peer.ID]; ok {
		peer.RegisteredAt = existing.RegisteredAt
	} else {
		peer.RegisteredAt = now
	}
	peer.LastSeen = now
	peer.IsOnline = true
	s.peers[peer.ID] = peer
	return nil
}

// RemovePeer removes a peer from the registry
func (s *MemoryStorage) RemovePeer(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.peers, peerID)
	return nil
}

// ListOnlinePeers returns the published records of all online peers
func (s *MemoryStorage) ListOnlinePeers() []protocol.PeerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]protocol.PeerRecord, 0, len(s.peers))
	for _, peer := range s.peers {
		if !peer.IsOnline {
			continue
		}
		records = append(records, peer.Record())
	}
	return records
}

// CleanupOfflinePeers marks peers offline if not seen within timeout
func (s *MemoryStorage) CleanupOfflinePeers(timeout time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	now := time.Now()
	for _, peer := range s.peers {
		if peer.IsOnline && now.Sub(peer.LastSeen) > timeout {
			peer.IsOnline = false
			swept++
		}
	}
	return swept
}

// GetStats returns online and total peer counts
func (s *MemoryStorage) GetStats() (online, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, peer := range s.peers {
		if peer.IsOnline {
			online++
		}
	}
	return online, len(s.peers)
}

// Close is a no-op for memory storage
func (s *MemoryStorage) Close() error {
	return nil
}
