// Package identity manages the stable client identity. The identity is a
// locally generated UUID, created once and persisted; it is distinct from
// the transport address, which is re-issued on every endpoint connect.
package identity

import (
	"github.com/google/uuid"

	"github.com/p2p-songsharing/soundmesh/services/peer/internal/settings"
)

// GetOrCreate returns the persisted client identity, generating and
// persisting one on first call. Idempotent.
func GetOrCreate(store *settings.Store) (string, error) {
	if id := store.Get().ClientID; id != "" {
		return id, nil
	}

	id := uuid.New().String()
	if err := store.Update(func(s *settings.Settings) {
		s.ClientID = id
	}); err != nil {
		return "", err
	}
	return id, nil
}
