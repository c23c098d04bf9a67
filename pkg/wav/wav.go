// Package wav gates every byte buffer received from an untrusted peer
// before it is written to disk or handed to the catalog.
package wav

import (
	"encoding/binary"
	"errors"
	"strings"
)

// MaxSongSize is the ceiling for a single transferred file (50 MB)
const MaxSongSize = 50 * 1024 * 1024

var (
	ErrTooLarge     = errors.New("song exceeds maximum size")
	ErrBadSignature = errors.New("missing RIFF/WAVE signature")
	ErrNoSubChunk   = errors.New("no fmt or data sub-chunk found")
)

// riffHeaderSize is magic (4) + file size (4) + form type (4)
const riffHeaderSize = 12

// Validate accepts a buffer as legitimate WAV content or reports why not.
// Pure; performs no I/O.
func Validate(buf []byte) error {
	if len(buf) > MaxSongSize {
		return ErrTooLarge
	}
	if len(buf) < riffHeaderSize {
		return ErrBadSignature
	}
	if string(buf[0:4]) != "RIFF" || string(buf[8:12]) != "WAVE" {
		return ErrBadSignature
	}

	// Walk the chunk list; a real WAV carries at least a fmt or data chunk.
	off := riffHeaderSize
	for off+8 <= len(buf) {
		id := string(buf[off : off+4])
		if id == "fmt " || id == "data" {
			return nil
		}
		size := binary.LittleEndian.Uint32(buf[off+4 : off+8])
		// Chunks are word-aligned
		next := off + 8 + int(size)
		if size%2 == 1 {
			next++
		}
		if next <= off {
			break
		}
		off = next
	}

	return ErrNoSubChunk
}

// SanitizeFilename reduces a proposed filename to a bare name with no
// directory component. Empty or traversal-only names fall back to a
// safe default.
func SanitizeFilename(name string) string {
	// Normalize both separator conventions before taking the base
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.ReplaceAll(name, "..", "")
	name = strings.Trim(name, ". ")
	// Strip control characters and NUL
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)

	if name == "" {
		return "song.wav"
	}
	return name
}
