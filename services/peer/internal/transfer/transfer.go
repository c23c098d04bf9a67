package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/p2p-songsharing/soundmesh/pkg/hash"
	"github.com/p2p-songsharing/soundmesh/pkg/logger"
	"github.com/p2p-songsharing/soundmesh/pkg/protocol"
	"github.com/p2p-songsharing/soundmesh/pkg/wav"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/library"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/notify"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/transport"
)

// State is the lifecycle of a single outbound download
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRequesting
	StateAwaitingResponse
	StateValidating
	StatePersisting
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRequesting:
		return "requesting"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateValidating:
		return "validating"
	case StatePersisting:
		return "persisting"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reason classifies a failed transfer
type Reason string

const (
	ReasonTimeout         Reason = "timeout"
	ReasonTransport       Reason = "transport"
	ReasonPeerUnreachable Reason = "peer-unreachable"
	ReasonPeerRejected    Reason = "peer-reported"
	ReasonInvalidContent  Reason = "invalid-content"
	ReasonPersistence     Reason = "persistence"
)

// Error is a terminal transfer failure
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transfer failed (%s): %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Requester abstracts the transport endpoint for outbound requests
type Requester interface {
	IsConnected() bool
	Request(targetAddr, songHash, fromName string) (*protocol.SongDataMessage, error)
}

const defaultDisplayDelay = 3 * time.Second

// Manager drives download lifecycles. Progress reporting goes through
// the surface's single slot; concurrent downloads are permitted but only
// the most recently started one is visible there.
type Manager struct {
	requester    Requester
	catalog      library.Catalog
	surface      *notify.Surface
	destDir      string
	displayName  string
	log          logger.Logger
	displayDelay time.Duration
}

// New creates a transfer manager writing accepted songs into destDir
func New(requester Requester, catalog library.Catalog, surface *notify.Surface, destDir, displayName string, log logger.Logger) *Manager {
	return &Manager{
		requester:    requester,
		catalog:      catalog,
		surface:      surface,
		destDir:      destDir,
		displayName:  displayName,
		log:          log,
		displayDelay: defaultDisplayDelay,
	}
}

// SetDisplayDelay overrides how long a completed download stays visible
func (m *Manager) SetDisplayDelay(d time.Duration) {
	m.displayDelay = d
}

// Download requests one song from the peer at targetAddr and runs it to
// a terminal state. Blocking; callers wanting concurrency run it in a
// goroutine.
func (m *Manager) Download(targetAddr, songName, songHash string) error {
	log := m.log.WithStr("song", songName).WithStr("hash", hash.Short(songHash))

	m.advance(log, StateConnecting, songName, 10, "Connecting to peer...")
	if !m.requester.IsConnected() {
		return m.fail(log, songName, 10, ReasonTransport, transport.ErrNotConnected)
	}

	m.advance(log, StateRequesting, songName, 20, "Requesting song...")
	m.advance(log, StateAwaitingResponse, songName, 20, "Waiting for peer...")
	data, err := m.requester.Request(targetAddr, songHash, m.displayName)
	if err != nil {
		return m.fail(log, songName, 20, classify(err), err)
	}

	m.advance(log, StateValidating, songName, 50, "Validating...")
	if err := wav.Validate(data.Data); err != nil {
		return m.fail(log, songName, 50, ReasonInvalidContent, err)
	}
	// Catalogs may key songs by collaborator-supplied hashes, so a
	// mismatch against the content hash is not terminal.
	if !hash.Verify(data.Data, songHash) {
		log.Warn("received content does not match the requested content hash")
	}

	m.advance(log, StatePersisting, songName, 80, "Saving...")
	filename := wav.SanitizeFilename(data.Filename)
	if err := os.MkdirAll(m.destDir, 0755); err != nil {
		return m.fail(log, songName, 80, ReasonPersistence, err)
	}
	if err := os.WriteFile(filepath.Join(m.destDir, filename), data.Data, 0644); err != nil {
		return m.fail(log, songName, 80, ReasonPersistence, err)
	}

	if err := m.catalog.Rescan(); err != nil {
		log.WithErr(err).Warn("catalog rescan failed after download")
	}

	final := &notify.Progress{SongName: songName, Progress: 100, Status: "Complete"}
	m.surface.SetProgress(final)
	m.surface.ClearError()
	log.WithStr("state", StateComplete.String()).Info("download complete")

	// Leave the completed bar visible briefly, then clear the slot
	time.AfterFunc(m.displayDelay, func() {
		m.surface.ClearProgressIf(final)
	})
	return nil
}

// advance records a state transition in the progress slot. Progress
// values are monotonically non-decreasing within one download.
func (m *Manager) advance(log logger.Logger, state State, songName string, pct int, status string) {
	log.WithStr("state", state.String()).Debug("transfer state")
	m.surface.SetProgress(&notify.Progress{
		SongName: songName,
		Progress: pct,
		Status:   status,
	})
}

// fail surfaces the terminal status, clears the slot immediately and
// records the reason on the error channel. The snapshot keeps the last
// reached milestone so progress never moves backwards.
func (m *Manager) fail(log logger.Logger, songName string, pct int, reason Reason, err error) error {
	terr := &Error{Reason: reason, Err: err}
	log.WithStr("state", StateFailed.String()).WithStr("reason", string(reason)).WithErr(err).Error("download failed")

	// The terminal status is observable through the progress callback,
	// then the slot clears at once.
	m.surface.SetProgress(&notify.Progress{
		SongName: songName,
		Progress: pct,
		Status:   fmt.Sprintf("Failed: %s", reason),
	})
	m.surface.SetProgress(nil)
	m.surface.SetError(terr.Error())
	return terr
}

// classify maps transport errors onto the failure taxonomy
func classify(err error) Reason {
	var rejected *transport.PeerRejectedError
	switch {
	case errors.Is(err, transport.ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, transport.ErrNotConnected):
		return ReasonTransport
	case errors.Is(err, transport.ErrPeerUnreachable):
		return ReasonPeerUnreachable
	case errors.As(err, &rejected):
		return ReasonPeerRejected
	default:
		return ReasonTransport
	}
}
