package storage

import (
	"time"

	"github.com/p2p-songsharing/soundmesh/pkg/protocol"
	"github.com/p2p-songsharing/soundmesh/services/tracker/internal/models"
)

// Storage defines the interface for tracker storage backends.
// Register and heartbeat both carry the full announcement, so a single
// upsert covers both; the server's expiry sweep drops silent peers.
type Storage interface {
	UpsertPeer(peer *models.Peer) error
	RemovePeer(peerID string) error
	ListOnlinePeers() []protocol.PeerRecord
	CleanupOfflinePeers(timeout time.Duration) int
	GetStats() (online, total int)
	Close() error
}
