package models

import (
	"time"

	"github.com/p2p-songsharing/soundmesh/pkg/protocol"
)

// Peer is a registered peer in the rendezvous registry
type Peer struct {
	ID           string          `json:"id"`
	TransportID  string          `json:"transport_id"`
	Name         string          `json:"name"`
	Songs        []protocol.Song `json:"songs"`
	RegisteredAt time.Time       `json:"registered_at"`
	LastSeen     time.Time       `json:"last_seen"`
	IsOnline     bool            `json:"is_online"`
}

// Record flattens a peer into its published wire form
func (p *Peer) Record() protocol.PeerRecord {
	return protocol.PeerRecord{
		PeerID:      p.ID,
		TransportID: p.TransportID,
		Name:        p.Name,
		Songs:       p.Songs,
	}
}
