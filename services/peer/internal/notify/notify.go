// Package notify is the observable surface consumed by the UI
// collaborator: download progress, served-song events and the most
// recent discovery/transport error.
package notify

import (
	"sync"
	"time"
)

// Progress is the single in-flight download slot. nil means no visible
// download.
type Progress struct {
	SongName string `json:"songName"`
	Progress int    `json:"progress"`
	Status   string `json:"status"`
}

// ServedEvent records that a peer downloaded a song from us
type ServedEvent struct {
	SongName  string    `json:"songName"`
	PeerName  string    `json:"peerName"`
	Timestamp time.Time `json:"timestamp"`
}

const servedHistory = 32

// Surface holds the observable state. The progress slot is a single
// shared cell with last-writer-wins semantics: when transfers overlap,
// only the most recently started one is visible. Kept deliberately, to
// match the one-download-at-a-time model the UI presents.
type Surface struct {
	mu       sync.RWMutex
	progress *Progress
	lastErr  string
	served   []ServedEvent

	onProgress func(*Progress)
	onServed   func(ServedEvent)
}

// New creates an empty surface
func New() *Surface {
	return &Surface{}
}

// OnProgress registers a callback fired on every slot change, including
// the clearing nil.
func (s *Surface) OnProgress(fn func(*Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onProgress = fn
}

// OnServed registers a callback fired when a peer downloads from us
func (s *Surface) OnServed(fn func(ServedEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onServed = fn
}

// SetProgress overwrites the progress slot; nil clears it
func (s *Surface) SetProgress(p *Progress) {
	s.mu.Lock()
	s.progress = p
	fn := s.onProgress
	s.mu.Unlock()

	if fn != nil {
		fn(p)
	}
}

// ClearProgressIf clears the slot only when it still holds p, so a
// delayed clear cannot stomp a newer transfer's progress.
func (s *Surface) ClearProgressIf(p *Progress) {
	s.mu.Lock()
	if s.progress != p {
		s.mu.Unlock()
		return
	}
	s.progress = nil
	fn := s.onProgress
	s.mu.Unlock()

	if fn != nil {
		fn(nil)
	}
}

// Progress returns the current slot content, nil when idle
func (s *Surface) Progress() *Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.progress == nil {
		return nil
	}
	out := *s.progress
	return &out
}

// RecordServed appends a served-song event, keeping bounded history
func (s *Surface) RecordServed(ev ServedEvent) {
	s.mu.Lock()
	s.served = append(s.served, ev)
	if len(s.served) > servedHistory {
		s.served = s.served[len(s.served)-servedHistory:]
	}
	fn := s.onServed
	s.mu.Unlock()

	if fn != nil {
		fn(ev)
	}
}

// Served returns a snapshot of recent served-song events
func (s *Surface) Served() []ServedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ServedEvent(nil), s.served...)
}

// SetError records the most recent discovery/transport error. It stays
// visible until superseded or cleared by a successful operation.
func (s *Surface) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = msg
}

// ClearError clears the persistent error field
func (s *Surface) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = ""
}

// LastError returns the persistent error field, empty when healthy
func (s *Surface) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
