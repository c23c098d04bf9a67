package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/p2p-songsharing/soundmesh/pkg/logger"
	"github.com/p2p-songsharing/soundmesh/pkg/protocol"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/notify"
)

const (
	defaultInterval = 15 * time.Second
	httpTimeout     = 5 * time.Second
)

// Entry is one remote song flattened with its owning peer, the form the
// UI lists and downloads from.
type Entry struct {
	protocol.Song
	TransportID string
	PeerName    string
}

// Config wires a discovery client. Songs and TransportAddr are read on
// every heartbeat tick so policy and endpoint changes propagate without
// re-registration.
type Config struct {
	BaseURL       string
	Identity      string
	DisplayName   string
	Songs         func() []protocol.Song
	TransportAddr func() string
	Surface       *notify.Surface
	Logger        logger.Logger
	Interval      time.Duration
}

// Client talks to the rendezvous service: one registration, then
// independent heartbeat and fetch loops. All calls carry a hard 5 s
// timeout; failures degrade to stale data rather than erroring out.
type Client struct {
	cfg      Config
	http     *http.Client
	interval time.Duration
	log      logger.Logger

	mu        sync.RWMutex
	entries   []Entry
	peerCount int

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a discovery client
func New(cfg Config) *Client {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: httpTimeout},
		interval: interval,
		log:      cfg.Logger,
		stop:     make(chan struct{}),
	}
}

// Register announces this client once. Not retried on failure; the
// caller decides. Heartbeats must only start after this succeeds.
func (c *Client) Register() error {
	if err := c.post("/register"); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	c.log.Info("registered with discovery service")
	return nil
}

// Start launches the heartbeat and fetch loops
func (c *Client) Start() {
	c.wg.Add(2)
	go c.heartbeatLoop()
	go c.fetchLoop()
}

// Stop halts the loops and unregisters best-effort
func (c *Client) Stop() {
	close(c.stop)
	c.wg.Wait()

	if err := c.Unregister(); err != nil {
		c.log.WithErr(err).Warn("unregister failed")
	}
}

// Catalog returns the current global catalog snapshot
func (c *Client) Catalog() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Entry(nil), c.entries...)
}

// PeerCount returns the number of reachable remote peers in the last
// successful fetch.
func (c *Client) PeerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerCount
}

// heartbeatLoop re-announces on a fixed cadence. Each tick completes
// (or times out) before the next is considered, so at most one
// heartbeat is ever outstanding. Failures are logged and swallowed;
// the server's expiry policy handles peers that stay silent.
func (c *Client) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.post("/heartbeat"); err != nil {
				c.log.WithErr(err).Warn("heartbeat failed")
				c.setError(fmt.Sprintf("discovery unavailable: %v", err))
				continue
			}
			c.clearError()
		}
	}
}

// fetchLoop refreshes the global catalog, first immediately, then on
// the cadence. Same one-outstanding-call rule as the heartbeat loop.
func (c *Client) fetchLoop() {
	defer c.wg.Done()

	c.fetch()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.fetch()
		}
	}
}

// fetch replaces the catalog snapshot wholesale on success and leaves
// it untouched on failure: stale-but-present beats empty.
func (c *Client) fetch() {
	resp, err := c.http.Get(c.cfg.BaseURL + "/peers")
	if err != nil {
		c.log.WithErr(err).Warn("peer fetch failed, keeping last snapshot")
		c.setError(fmt.Sprintf("discovery unavailable: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.log.WithInt("status", resp.StatusCode).Warn("peer fetch failed, keeping last snapshot")
		c.setError(fmt.Sprintf("discovery unavailable: status %d", resp.StatusCode))
		return
	}

	var peers protocol.PeersResponse
	if err := json.NewDecoder(resp.Body).Decode(&peers); err != nil {
		c.log.WithErr(err).Warn("peer fetch returned garbage, keeping last snapshot")
		c.setError(fmt.Sprintf("discovery unavailable: %v", err))
		return
	}

	var entries []Entry
	count := 0
	for _, peer := range peers.Peers {
		// Never surface ourselves, and skip peers we cannot dial
		if peer.PeerID == c.cfg.Identity || peer.TransportID == "" {
			continue
		}
		count++
		for _, song := range peer.Songs {
			entries = append(entries, Entry{
				Song:        song,
				TransportID: peer.TransportID,
				PeerName:    peer.Name,
			})
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.peerCount = count
	c.mu.Unlock()

	c.clearError()
}

// Unregister is a best-effort delete; the body is the bare peer id
func (c *Client) Unregister() error {
	req, err := http.NewRequest(http.MethodDelete, c.cfg.BaseURL+"/unregister", strings.NewReader(c.cfg.Identity))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unregister failed with status %d", resp.StatusCode)
	}
	return nil
}

// post sends the announcement payload to a discovery endpoint
func (c *Client) post(path string) error {
	body, err := json.Marshal(protocol.Announcement{
		PeerID:      c.cfg.Identity,
		TransportID: c.cfg.TransportAddr(),
		Name:        c.cfg.DisplayName,
		Songs:       c.cfg.Songs(),
	})
	if err != nil {
		return err
	}

	resp, err := c.http.Post(c.cfg.BaseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setError(msg string) {
	if c.cfg.Surface != nil {
		c.cfg.Surface.SetError(msg)
	}
}

func (c *Client) clearError() {
	if c.cfg.Surface != nil {
		c.cfg.Surface.ClearError()
	}
}
