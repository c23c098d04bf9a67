package settings

import (
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	s := store.Get()
	if !s.ShareAll {
		t.Error("Expected ShareAll default true")
	}
	if s.SharingEnabled {
		t.Error("Expected SharingEnabled default false")
	}
	if s.ClientID != "" {
		t.Error("Expected empty ClientID before first identity creation")
	}
}

func TestUpdatePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	err = store.Update(func(s *Settings) {
		s.SharingEnabled = true
		s.ShareAll = false
		s.SharedPaths = []string{"/music/a.wav", "/music/b.wav"}
		s.DisplayName = "DJ Kit"
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// Simulated restart
	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	s := reloaded.Get()
	if !s.SharingEnabled {
		t.Error("SharingEnabled not persisted")
	}
	if s.ShareAll {
		t.Error("ShareAll not persisted")
	}
	if len(s.SharedPaths) != 2 {
		t.Errorf("Expected 2 shared paths, got %d", len(s.SharedPaths))
	}
	if s.DisplayName != "DJ Kit" {
		t.Errorf("Expected DisplayName DJ Kit, got %s", s.DisplayName)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if err := store.Update(func(s *Settings) {
		s.SharedPaths = []string{"/music/a.wav"}
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got := store.Get()
	got.SharedPaths[0] = "/mutated"

	if store.Get().SharedPaths[0] != "/music/a.wav" {
		t.Error("Get should return an independent copy of SharedPaths")
	}
}
