package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies a peer-to-peer message on the wire
type MessageType string

const (
	MsgRequestSong MessageType = "request_song"
	MsgSongData    MessageType = "song_data"
	MsgSongError   MessageType = "song_error"
)

// Song describes one shareable item in a peer's catalog
type Song struct {
	Name     string  `json:"name"`
	Hash     string  `json:"hash"`
	Duration float64 `json:"duration,omitempty"`
	BPM      float64 `json:"bpm,omitempty"`
	Size     int64   `json:"size"`
}

// === Discovery API ===

// Announcement is the body of both POST /register and POST /heartbeat
type Announcement struct {
	PeerID      string `json:"peer_id"`
	TransportID string `json:"webrtc_id"`
	Name        string `json:"name"`
	Songs       []Song `json:"songs"`
}

// AnnounceResponse is returned by the discovery service for register/heartbeat
type AnnounceResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// PeerRecord is one registered peer as published by GET /peers
type PeerRecord struct {
	PeerID      string `json:"peer_id"`
	TransportID string `json:"webrtc_id"`
	Name        string `json:"name"`
	Songs       []Song `json:"songs"`
}

// PeersResponse is the body of GET /peers
type PeersResponse struct {
	Peers []PeerRecord `json:"peers"`
}

// === Peer Messages ===

// Message is the closed set of peer-to-peer messages. Exactly
// RequestSongMessage, SongDataMessage and SongErrorMessage implement it.
type Message interface {
	Kind() MessageType
}

// RequestSongMessage asks a peer for the song identified by Hash
type RequestSongMessage struct {
	Type     MessageType `json:"type"`
	Hash     string      `json:"hash"`
	PeerName string      `json:"peerName"`
}

func (m RequestSongMessage) Kind() MessageType { return MsgRequestSong }

// SongDataMessage carries the whole file. Data is base64 text on the wire.
type SongDataMessage struct {
	Type     MessageType `json:"type"`
	Hash     string      `json:"hash"`
	Name     string      `json:"name"`
	Filename string      `json:"filename"`
	Data     []byte      `json:"data"`
}

func (m SongDataMessage) Kind() MessageType { return MsgSongData }

// SongErrorMessage reports why a request could not be served
type SongErrorMessage struct {
	Type  MessageType `json:"type"`
	Hash  string      `json:"hash"`
	Error string      `json:"error"`
}

func (m SongErrorMessage) Kind() MessageType { return MsgSongError }

// ParseMessage decodes a peer message, switching on its type tag. An
// unrecognized tag is a protocol error, never silently dropped.
func ParseMessage(data []byte) (Message, error) {
	var tag struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("malformed peer message: %w", err)
	}

	switch tag.Type {
	case MsgRequestSong:
		var m RequestSongMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", tag.Type, err)
		}
		return m, nil

	case MsgSongData:
		var m SongDataMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", tag.Type, err)
		}
		return m, nil

	case MsgSongError:
		var m SongErrorMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", tag.Type, err)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unknown peer message type %q", tag.Type)
	}
}

// === Relay Envelope ===

// Envelope types used between a transport endpoint and the relay hub
const (
	EnvPeerMessage = "peer_message"
	EnvRelayError  = "relay_error"
)

// Envelope wraps a peer message for routing through the relay. From is
// stamped by the hub; To is the target transport address.
type Envelope struct {
	Type      string          `json:"type"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// RelayError is the payload of an EnvRelayError envelope
type RelayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Relay error codes
const (
	ErrPeerNotConnected = 1001
	ErrInvalidEnvelope  = 1002
)
