package notify

import (
	"fmt"
	"testing"
	"time"
)

func TestProgressSlotLastWriterWins(t *testing.T) {
	s := New()

	first := &Progress{SongName: "first", Progress: 50, Status: "Validating"}
	second := &Progress{SongName: "second", Progress: 10, Status: "Connecting"}

	s.SetProgress(first)
	s.SetProgress(second)

	got := s.Progress()
	if got == nil || got.SongName != "second" {
		t.Errorf("Expected the later transfer to own the slot, got %+v", got)
	}
}

func TestClearProgressIfGuardsNewerWriter(t *testing.T) {
	s := New()

	old := &Progress{SongName: "old", Progress: 100, Status: "Complete"}
	s.SetProgress(old)

	newer := &Progress{SongName: "newer", Progress: 10, Status: "Connecting"}
	s.SetProgress(newer)

	// A delayed clear for the finished transfer must not blank the slot
	s.ClearProgressIf(old)

	got := s.Progress()
	if got == nil || got.SongName != "newer" {
		t.Errorf("Expected newer transfer to survive the stale clear, got %+v", got)
	}

	s.ClearProgressIf(newer)
	if s.Progress() != nil {
		t.Error("Expected slot cleared by its own writer")
	}
}

func TestProgressReturnsCopy(t *testing.T) {
	s := New()
	s.SetProgress(&Progress{SongName: "song", Progress: 20})

	snap := s.Progress()
	snap.Progress = 99

	if s.Progress().Progress != 20 {
		t.Error("Expected snapshot mutation to leave the slot untouched")
	}
}

func TestOnProgressFiresOnClear(t *testing.T) {
	s := New()

	var calls []*Progress
	s.OnProgress(func(p *Progress) {
		calls = append(calls, p)
	})

	p := &Progress{SongName: "song", Progress: 10}
	s.SetProgress(p)
	s.SetProgress(nil)

	if len(calls) != 2 {
		t.Fatalf("Expected 2 callbacks, got %d", len(calls))
	}
	if calls[1] != nil {
		t.Error("Expected the clearing callback to carry nil")
	}
}

func TestServedHistoryBounded(t *testing.T) {
	s := New()

	for i := 0; i < servedHistory+10; i++ {
		s.RecordServed(ServedEvent{
			SongName:  fmt.Sprintf("song-%d", i),
			PeerName:  "peer",
			Timestamp: time.Now(),
		})
	}

	served := s.Served()
	if len(served) != servedHistory {
		t.Fatalf("Expected history capped at %d, got %d", servedHistory, len(served))
	}
	if served[len(served)-1].SongName != fmt.Sprintf("song-%d", servedHistory+9) {
		t.Errorf("Expected newest event kept, got %s", served[len(served)-1].SongName)
	}
}

func TestLastError(t *testing.T) {
	s := New()

	if s.LastError() != "" {
		t.Error("Expected no error on a fresh surface")
	}

	s.SetError("discovery unavailable")
	if s.LastError() != "discovery unavailable" {
		t.Errorf("Expected stored error, got %q", s.LastError())
	}

	s.ClearError()
	if s.LastError() != "" {
		t.Error("Expected error cleared")
	}
}
