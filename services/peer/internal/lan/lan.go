// Package lan advertises and browses peers over mDNS, a local-network
// fallback for when the rendezvous service is unreachable.
package lan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/p2p-songsharing/soundmesh/pkg/logger"
)

// Service is the mDNS service type peers advertise under
const Service = "_soundmesh._tcp"

// presencePort is nominal; the advertisement carries identity in TXT
// records, actual transfer still goes through the transport endpoint.
const presencePort = 9464

// Peer is a nearby peer seen via mDNS
type Peer struct {
	PeerID string
	Name   string
}

// Advertiser is a running mDNS advertisement
type Advertiser struct {
	server *zeroconf.Server
	log    logger.Logger
}

// Advertise announces this peer on the local network
func Advertise(peerID, displayName string, log logger.Logger) (*Advertiser, error) {
	server, err := zeroconf.Register(
		fmt.Sprintf("soundmesh-%s", peerID),
		Service,
		"local.",
		presencePort,
		[]string{"peer_id=" + peerID, "name=" + displayName},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("mdns register failed: %w", err)
	}

	log.Info("advertising on local network")
	return &Advertiser{server: server, log: log}, nil
}

// Shutdown stops the advertisement
func (a *Advertiser) Shutdown() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Browse scans the local network for peers until the timeout elapses
func Browse(ctx context.Context, timeout time.Duration, log logger.Logger) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse failed: %w", err)
	}

	var peers []Peer
	for entry := range entries {
		peer := Peer{}
		for _, txt := range entry.Text {
			if v, ok := strings.CutPrefix(txt, "peer_id="); ok {
				peer.PeerID = v
			}
			if v, ok := strings.CutPrefix(txt, "name="); ok {
				peer.Name = v
			}
		}
		if peer.PeerID == "" {
			continue
		}
		log.WithStr("peer", peer.PeerID).Debug("found nearby peer")
		peers = append(peers, peer)
	}
	return peers, nil
}
