package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseRequestSong(t *testing.T) {
	raw := []byte(`{"type":"request_song","hash":"abc123","peerName":"DJ Kit"}`)

	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}

	req, ok := msg.(RequestSongMessage)
	if !ok {
		t.Fatalf("Expected RequestSongMessage, got %T", msg)
	}
	if req.Hash != "abc123" {
		t.Errorf("Expected hash abc123, got %s", req.Hash)
	}
	if req.PeerName != "DJ Kit" {
		t.Errorf("Expected peerName DJ Kit, got %s", req.PeerName)
	}
}

func TestParseSongDataRoundTrip(t *testing.T) {
	orig := SongDataMessage{
		Type:     MsgSongData,
		Hash:     "abc123",
		Name:     "Track One",
		Filename: "track-one.wav",
		Data:     []byte{0x52, 0x49, 0x46, 0x46},
	}

	raw, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// []byte fields travel as base64 text
	if !strings.Contains(string(raw), `"data":"UklGRg=="`) {
		t.Errorf("Expected base64 data field, got %s", raw)
	}

	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}

	data, ok := msg.(SongDataMessage)
	if !ok {
		t.Fatalf("Expected SongDataMessage, got %T", msg)
	}
	if string(data.Data) != string(orig.Data) {
		t.Errorf("Payload mismatch: got %v", data.Data)
	}
}

func TestParseSongError(t *testing.T) {
	raw := []byte(`{"type":"song_error","hash":"abc123","error":"Song not shared"}`)

	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}

	se, ok := msg.(SongErrorMessage)
	if !ok {
		t.Fatalf("Expected SongErrorMessage, got %T", msg)
	}
	if se.Error != "Song not shared" {
		t.Errorf("Expected reason 'Song not shared', got %s", se.Error)
	}
}

func TestParseUnknownTypeRejected(t *testing.T) {
	raw := []byte(`{"type":"request_playlist","hash":"abc123"}`)

	if _, err := ParseMessage(raw); err == nil {
		t.Fatal("Expected error for unknown message type")
	}
}

func TestParseMalformedJSON(t *testing.T) {
	if _, err := ParseMessage([]byte(`{"type":`)); err == nil {
		t.Fatal("Expected error for malformed JSON")
	}
}
