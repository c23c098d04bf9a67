package library

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/p2p-songsharing/soundmesh/pkg/hash"
	"github.com/p2p-songsharing/soundmesh/pkg/logger"
	"github.com/p2p-songsharing/soundmesh/pkg/protocol"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/settings"
)

// Track is one local item as reported by the catalog collaborator
type Track struct {
	Path     string
	Name     string
	Hash     string
	Duration float64
	BPM      float64
	Size     int64
}

// Catalog is the external collaborator that enumerates local content and
// ingests newly downloaded items.
type Catalog interface {
	Tracks() ([]Track, error)
	Rescan() error
}

// Provider applies the local share policy to the catalog and produces
// the shareable song list sent to the discovery service.
type Provider struct {
	catalog Catalog
	store   *settings.Store
	log     logger.Logger
}

// NewProvider creates a catalog provider
func NewProvider(catalog Catalog, store *settings.Store, log logger.Logger) *Provider {
	return &Provider{
		catalog: catalog,
		store:   store,
		log:     log,
	}
}

// Shareable returns the songs currently exposed to peers. A catalog
// failure yields an empty list, not an error: nothing shared beats a
// broken heartbeat.
func (p *Provider) Shareable() []protocol.Song {
	tracks := p.shareableTracks()

	songs := make([]protocol.Song, 0, len(tracks))
	for _, t := range tracks {
		songs = append(songs, protocol.Song{
			Name:     t.Name,
			Hash:     t.Hash,
			Duration: t.Duration,
			BPM:      t.BPM,
			Size:     t.Size,
		})
	}
	return songs
}

// Lookup finds a shareable track by hash. Only tracks within the current
// share policy are found, so a request for an unshared song misses here
// before any bytes are read from disk.
func (p *Provider) Lookup(songHash string) (Track, bool) {
	for _, t := range p.shareableTracks() {
		if t.Hash == songHash {
			return t, true
		}
	}
	return Track{}, false
}

func (p *Provider) shareableTracks() []Track {
	tracks, err := p.catalog.Tracks()
	if err != nil {
		p.log.WithErr(err).Warn("catalog query failed, sharing nothing")
		return nil
	}

	policy := p.store.Get()
	allowed := make(map[string]bool, len(policy.SharedPaths))
	for _, path := range policy.SharedPaths {
		allowed[path] = true
	}

	var out []Track
	for _, t := range tracks {
		if !policy.ShareAll && !allowed[t.Path] {
			continue
		}
		if t.Hash == "" {
			// Catalog supplied no hash; fall back to a content hash so
			// identical files agree on a key across machines.
			h, err := hash.File(t.Path)
			if err != nil {
				p.log.WithStr("path", t.Path).WithErr(err).Warn("skipping unhashable track")
				continue
			}
			t.Hash = h
		}
		out = append(out, t)
	}
	return out
}

// DirCatalog is a directory-backed catalog collaborator scanning for
// .wav files. It spans the music directory plus the download
// destination, so a completed download enters the catalog on the next
// Rescan. The scan is cached until Rescan is called.
type DirCatalog struct {
	mu     sync.Mutex
	dirs   []string
	cached []Track
	valid  bool
}

// NewDirCatalog creates a catalog over one or more directories
func NewDirCatalog(dirs ...string) *DirCatalog {
	return &DirCatalog{dirs: dirs}
}

// Tracks enumerates .wav files across the catalog directories. A
// directory that does not exist yet (an empty downloads dir) is skipped,
// not an error.
func (c *DirCatalog) Tracks() ([]Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid {
		return append([]Track(nil), c.cached...), nil
	}

	var tracks []Track
	for _, dir := range c.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			tracks = append(tracks, Track{
				Path: filepath.Join(dir, entry.Name()),
				Name: strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
				Size: info.Size(),
			})
		}
	}

	c.cached = tracks
	c.valid = true
	return append([]Track(nil), tracks...), nil
}

// Rescan invalidates the cache so the next Tracks call hits the disk
func (c *DirCatalog) Rescan() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
	return nil
}
