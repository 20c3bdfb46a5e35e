// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeSetPrefs     = "set_prefs"
	TypeStartSearch  = "start_search"
	TypeCancelSearch = "cancel_search"
	TypeMessage      = "message"
	TypeTyping       = "typing"
	TypeSkip         = "skip"
	TypeBlock        = "block"
	TypeReport       = "report"
	TypeTogglePublic = "toggle_public"
	TypeJoinRoom     = "join_room"
	TypeListRooms    = "list_rooms"
	TypeSignal       = "signal"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated      = "session_created"
	TypeSearchStarted       = "search_started"
	TypeMatchFound          = "match_found"
	TypeParticipantsChanged = "participants_changed"
	TypeRoomEnded           = "room_ended"
	TypeVisibilityChanged   = "visibility_changed"
	TypeRoomList            = "room_list"
	TypeRateLimited         = "rate_limited"
	TypeBanned              = "banned"
	TypeError               = "error"
	TypePong                = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SetPrefsMsg is sent by the client to set its media mode preferences before
// searching. Modes are "text", "audio", and "video".
type SetPrefsMsg struct {
	Type  string   `json:"type"`
	Modes []string `json:"modes"`
}

// StartSearchMsg is sent by the client to enter the matching queue.
type StartSearchMsg struct {
	Type string `json:"type"`
}

// CancelSearchMsg is sent by the client to leave the matching queue.
type CancelSearchMsg struct {
	Type string `json:"type"`
}

// ChatMsg is a text message sent by the client within a room.
type ChatMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TypingMsg indicates whether the client is currently typing.
type TypingMsg struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// SkipMsg is sent by the client to leave the current room and accept the
// re-match cooldown.
type SkipMsg struct {
	Type string `json:"type"`
}

// BlockMsg is sent by the client to block the current peer from all future
// matches.
type BlockMsg struct {
	Type string `json:"type"`
}

// ReportMsg is sent by the client to report the current peer for abuse.
type ReportMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// TogglePublicMsg is sent by the client to flip the current room between
// private and publicly joinable.
type TogglePublicMsg struct {
	Type   string `json:"type"`
	Public bool   `json:"public"`
}

// JoinRoomMsg is sent by the client to join a publicly listed room.
type JoinRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// ListRoomsMsg asks the server for the publicly joinable room list.
type ListRoomsMsg struct {
	Type string `json:"type"`
}

// SignalMsg carries an opaque negotiation payload (offer, answer, or
// candidate) to be relayed to the peer.
type SignalMsg struct {
	Type    string          `json:"type"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// PingMsg is a client-initiated keepalive ping. It doubles as the session
// heartbeat.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new session is established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Alias     string `json:"alias"`
}

// SearchStartedMsg is sent by the server to confirm the client has entered
// the matching queue.
type SearchStartedMsg struct {
	Type string `json:"type"`
}

// MatchFoundMsg is sent by the server when a compatible partner has been
// found. Offerer reports which side initiates negotiation.
type MatchFoundMsg struct {
	Type         string `json:"type"`
	RoomID       string `json:"room_id"`
	PartnerAlias string `json:"partner_alias"`
	Offerer      bool   `json:"offerer"`
}

// ParticipantsChangedMsg is sent when a participant joins or leaves the room.
type ParticipantsChangedMsg struct {
	Type    string   `json:"type"`
	RoomID  string   `json:"room_id"`
	Aliases []string `json:"aliases"`
	Count   int      `json:"count"`
}

// ServerChatMsg is a text message relayed from a participant by the server.
type ServerChatMsg struct {
	Type  string `json:"type"`
	From  string `json:"from"`
	Alias string `json:"alias"`
	Text  string `json:"text"`
	Ts    int64  `json:"ts"`
}

// ServerTypingMsg relays a participant's typing indicator to the client.
type ServerTypingMsg struct {
	Type     string `json:"type"`
	Alias    string `json:"alias"`
	IsTyping bool   `json:"is_typing"`
}

// ServerSignalMsg relays a negotiation payload from the peer.
type ServerSignalMsg struct {
	Type    string          `json:"type"`
	Kind    string          `json:"kind"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// RoomEndedMsg is sent by the server when the client's room has ended.
type RoomEndedMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// VisibilityChangedMsg is sent when the room's visibility flips.
type VisibilityChangedMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	Public bool   `json:"public"`
}

// RoomListMsg carries the publicly joinable room list.
type RoomListMsg struct {
	Type  string   `json:"type"`
	Rooms []string `json:"rooms"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// BannedMsg is sent by the server when the client has been banned.
type BannedMsg struct {
	Type   string `json:"type"`
	Until  int64  `json:"until"`
	Reason string `json:"reason"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeSetPrefs:
		var m SetPrefsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStartSearch:
		var m StartSearchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCancelSearch:
		var m CancelSearchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSkip:
		var m SkipMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeBlock:
		var m BlockMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReport:
		var m ReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTogglePublic:
		var m TogglePublicMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeListRooms:
		var m ListRoomsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSignal:
		var m SignalMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
