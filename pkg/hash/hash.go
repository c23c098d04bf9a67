package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Calculate computes the SHA-256 hash of data and returns a hex string
func Calculate(data []byte) string {
	h := sha256.New()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// File computes the SHA-256 hash of a file's content. Used as the song
// lookup key when the catalog does not supply one; content-derived so the
// same track hashes identically regardless of where it lives on disk.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks if data matches the expected hash
func Verify(data []byte, expected string) bool {
	return Calculate(data) == expected
}

// Short truncates a hash for log output
func Short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
