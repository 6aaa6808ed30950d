package server

import (
	"encoding/json"
	"fmt"
)

// Wire message kinds. Mirrors the client protocol: every frame is a
// {"type": ..., "payload": ...} envelope with one payload shape per kind.
const (
	KindJoin         = "Join"
	KindLeave        = "Leave"
	KindChat         = "Chat"
	KindPlayerUpdate = "PlayerUpdate"
	KindWorldUpdate  = "WorldUpdate"
	KindError        = "Error"
	KindPing         = "Ping"
	KindPong         = "Pong"
)

// Envelope is the outer frame of every protocol message. Payload stays raw
// until the type tag selects a concrete payload struct; unknown extra fields
// inside a payload are ignored rather than rejected.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Position is a client-reported transform snapshot, forwarded verbatim.
type Position struct {
	X        float32  `json:"x"`
	Y        float32  `json:"y"`
	Z        float32  `json:"z"`
	Rotation *float32 `json:"rotation,omitempty"`
}

// Entity is a world-object snapshot carried in WorldUpdate frames. The server
// keeps no authoritative entity state; it only relays these.
type Entity struct {
	ID         string   `json:"id"`
	EntityType string   `json:"entity_type"`
	Position   Position `json:"position"`
	State      *string  `json:"state,omitempty"`
}

// JoinPayload doubles as request and reply. On requests every field is
// optional. The reply injects PlayersCount, which is not part of the request
// schema.
type JoinPayload struct {
	PlayerID     string `json:"player_id,omitempty"`
	RoomID       string `json:"room_id,omitempty"`
	CreateRoom   bool   `json:"create_room,omitempty"`
	PlayersCount int    `json:"players_count,omitempty"`
}

type LeavePayload struct {
	PlayerID string `json:"player_id"`
}

type ChatPayload struct {
	PlayerID string `json:"player_id"`
	Text     string `json:"text"`
}

type PlayerUpdatePayload struct {
	PlayerID string   `json:"player_id"`
	Position Position `json:"position"`
	Action   *string  `json:"action,omitempty"`
}

type WorldUpdatePayload struct {
	Entities []Entity `json:"entities"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type PingPayload struct {
	Time uint64 `json:"time"`
}

// DecodeEnvelope parses the outer frame only; payload decoding is deferred to
// the dispatcher so that one bad field never costs the whole connection.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid message format: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("invalid message format: missing type")
	}
	return env, nil
}

// Encode wraps a payload in the envelope and serializes the full frame.
func Encode(kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	return json.Marshal(Envelope{Type: kind, Payload: raw})
}

// MustEncode is Encode for payloads built by the server itself, where a
// marshal failure is a programming error.
func MustEncode(kind string, payload any) []byte {
	b, err := Encode(kind, payload)
	if err != nil {
		panic(err)
	}
	return b
}

// EncodeError builds an Error frame carrying a human-readable description.
func EncodeError(msg string) []byte {
	return MustEncode(KindError, ErrorPayload{Message: msg})
}
