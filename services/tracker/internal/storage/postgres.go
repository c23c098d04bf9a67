package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/p2p-songsharing/soundmesh/pkg/protocol"
	"github.com/p2p-songsharing/soundmesh/services/tracker/internal/models"
)

// PostgresStorage implements the Storage interface with PostgreSQL
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage connects to postgres and ensures the schema
func NewPostgresStorage(connStr string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStorage{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

// initSchema creates the peers table
func (s *PostgresStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS peers (
		id VARCHAR(255) PRIMARY KEY,
		transport_id VARCHAR(255) NOT NULL,
		name VARCHAR(255),
		songs JSONB,
		registered_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		is_online BOOLEAN DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_peers_online ON peers(is_online);
	CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON peers(last_seen);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertPeer adds or refreshes a peer from an announcement
func (s *PostgresStorage) UpsertPeer(peer *models.Peer) error {
	songs, err := json.Marshal(peer.Songs)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO peers (id, transport_id, name, songs, last_seen, is_online)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			transport_id = EXCLUDED.transport_id,
			name = EXCLUDED.name,
			songs = EXCLUDED.songs,
			last_seen = CURRENT_TIMESTAMP,
			is_online = TRUE`,
		peer.ID, peer.TransportID, peer.Name, songs)
	return err
}

// RemovePeer removes a peer from the registry
func (s *PostgresStorage) RemovePeer(peerID string) error {
	_, err := s.db.Exec(`DELETE FROM peers WHERE id = $1`, peerID)
	return err
}

// ListOnlinePeers returns the published records of all online peers
func (s *PostgresStorage) ListOnlinePeers() []protocol.PeerRecord {
	rows, err := s.db.Query(`SELECT id, transport_id, name, songs FROM peers WHERE is_online = TRUE`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var records []protocol.PeerRecord
	for rows.Next() {
		var rec protocol.PeerRecord
		var songs []byte
		if err := rows.Scan(&rec.PeerID, &rec.TransportID, &rec.Name, &songs); err != nil {
			continue
		}
		if len(songs) > 0 {
			json.Unmarshal(songs, &rec.Songs)
		}
		records = append(records, rec)
	}
	return records
}

// CleanupOfflinePeers marks peers offline if not seen within timeout
func (s *PostgresStorage) CleanupOfflinePeers(timeout time.Duration) int {
	res, err := s.db.Exec(`
		UPDATE peers SET is_online = FALSE
		WHERE is_online = TRUE AND last_seen < $1`,
		time.Now().Add(-timeout))
	if err != nil {
		return 0
	}
	n, _ := res.RowsAffected()
	return int(n)
}

// GetStats returns online and total peer counts
func (s *PostgresStorage) GetStats() (online, total int) {
	row := s.db.QueryRow(`SELECT COUNT(*) FILTER (WHERE is_online), COUNT(*) FROM peers`)
	row.Scan(&online, &total)
	return online, total
}

// Close closes the database connection
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
