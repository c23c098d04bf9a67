// Package session owns one running instance of the sharing subsystem:
// identity, catalog provider, transport endpoint, discovery client and
// transfer manager, with explicit Start/Stop boundaries so independent
// sessions never collide on shared state.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/p2p-songsharing/soundmesh/pkg/logger"
	"github.com/p2p-songsharing/soundmesh/pkg/protocol"
	"github.com/p2p-songsharing/soundmesh/pkg/wav"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/discovery"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/identity"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/lan"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/library"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/notify"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/settings"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/transfer"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/transport"
)

// Config assembles a session's collaborators
type Config struct {
	Store   *settings.Store
	Catalog library.Catalog
	DestDir string
	Logger  logger.Logger

	// DiscoveryInterval overrides the 15 s cadence, used in tests
	DiscoveryInterval time.Duration
	// LANAdvertise also announces this peer over mDNS
	LANAdvertise bool
}

// Session is one running sharing subsystem instance
type Session struct {
	cfg     Config
	log     logger.Logger
	surface *notify.Surface

	id        string
	provider  *library.Provider
	endpoint  *transport.Endpoint
	discovery *discovery.Client
	transfers *transfer.Manager
	mdns      *lan.Advertiser

	started bool
}

// New assembles a session; nothing runs until Start
func New(cfg Config) *Session {
	return &Session{
		cfg:     cfg,
		log:     cfg.Logger,
		surface: notify.New(),
	}
}

// Surface exposes the observable state for the UI collaborator
func (s *Session) Surface() *notify.Surface {
	return s.surface
}

// Identity returns the stable client identity, empty before Start
func (s *Session) Identity() string {
	return s.id
}

// Start brings the subsystem up: identity, transport endpoint,
// registration, then the discovery loops.
func (s *Session) Start() error {
	if s.started {
		return errors.New("session already started")
	}

	conf := s.cfg.Store.Get()
	if conf.ServerURL == "" {
		return errors.New("discovery server URL not configured")
	}

	id, err := identity.GetOrCreate(s.cfg.Store)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	s.id = id
	s.log = s.log.WithStr("client", id)

	s.provider = library.NewProvider(s.cfg.Catalog, s.cfg.Store, s.log)

	s.endpoint = transport.New(conf.ServerURL, s.serveSong, s.log)
	s.endpoint.OnServed(func(songName, peerName string) {
		s.surface.RecordServed(notify.ServedEvent{
			SongName:  songName,
			PeerName:  peerName,
			Timestamp: time.Now(),
		})
	})
	s.endpoint.OnDown(func(err error) {
		s.surface.SetError(fmt.Sprintf("transport unavailable: %v", err))
	})

	if err := s.endpoint.Start(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	s.discovery = discovery.New(discovery.Config{
		BaseURL:       conf.ServerURL,
		Identity:      id,
		DisplayName:   conf.DisplayName,
		Songs:         s.provider.Shareable,
		TransportAddr: s.endpoint.Addr,
		Surface:       s.surface,
		Logger:        s.log,
		Interval:      s.cfg.DiscoveryInterval,
	})

	if err := s.discovery.Register(); err != nil {
		s.endpoint.Stop()
		return err
	}
	s.discovery.Start()

	s.transfers = transfer.New(s.endpoint, s.cfg.Catalog, s.surface, s.cfg.DestDir, conf.DisplayName, s.log)

	if s.cfg.LANAdvertise {
		mdns, err := lan.Advertise(id, conf.DisplayName, s.log)
		if err != nil {
			s.log.WithErr(err).Warn("mdns advertisement failed")
		} else {
			s.mdns = mdns
		}
	}

	s.started = true
	s.log.Info("session started")
	return nil
}

// Stop tears the session down: unregister, stop loops, close endpoint
func (s *Session) Stop() {
	if !s.started {
		return
	}
	s.started = false

	if s.mdns != nil {
		s.mdns.Shutdown()
		s.mdns = nil
	}
	s.discovery.Stop()
	s.endpoint.Stop()
	s.log.Info("session stopped")
}

// Catalog returns the current global catalog snapshot
func (s *Session) Catalog() []discovery.Entry {
	if s.discovery == nil {
		return nil
	}
	return s.discovery.Catalog()
}

// PeerCount returns the number of reachable remote peers
func (s *Session) PeerCount() int {
	if s.discovery == nil {
		return 0
	}
	return s.discovery.PeerCount()
}

// Download fetches one remote song. Blocking; run in a goroutine for
// fire-and-forget UI semantics.
func (s *Session) Download(entry discovery.Entry) error {
	if !s.started {
		return errors.New("session not started")
	}
	return s.transfers.Download(entry.TransportID, entry.Name, entry.Hash)
}

// serveSong answers inbound requests. Share policy is re-checked here
// so a revoked song stops being served without re-registration, and no
// bytes are read from disk for songs outside the policy.
func (s *Session) serveSong(songHash, peerName string) (*protocol.SongDataMessage, error) {
	if !s.cfg.Store.Get().SharingEnabled {
		return nil, errors.New("Sharing disabled")
	}

	track, ok := s.provider.Lookup(songHash)
	if !ok {
		return nil, errors.New("Song not shared")
	}

	data, err := os.ReadFile(track.Path)
	if err != nil {
		s.log.WithStr("path", track.Path).WithErr(err).Warn("shared song unreadable")
		return nil, errors.New("Song not found")
	}
	if len(data) > wav.MaxSongSize {
		return nil, errors.New("Song too large")
	}

	return &protocol.SongDataMessage{
		Type:     protocol.MsgSongData,
		Hash:     songHash,
		Name:     track.Name,
		Filename: wav.SanitizeFilename(filepath.Base(track.Path)),
		Data:     data,
	}, nil
}
