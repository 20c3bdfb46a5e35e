package room

// ParticipantEvent is published on a room's participant feed whenever the
// participant set changes. Every client in the room reacts to the count —
// the close-grace watcher is driven by these events.
type ParticipantEvent struct {
	RoomID       string   `json:"room_id"`
	Participants []string `json:"participants"`
	Aliases      []string `json:"aliases,omitempty"`
	Ended        bool     `json:"ended,omitempty"`
}

// ChatEvent is the payload carried on a room's message channel.
type ChatEvent struct {
	Type      string `json:"type"` // "message", "typing"
	From      string `json:"from"` // sender's session ID
	FromAlias string `json:"from_alias,omitempty"`
	Text      string `json:"text,omitempty"`
	IsTyping  bool   `json:"is_typing,omitempty"`
	Ts        int64  `json:"ts,omitempty"`
}

// Chat event types.
const (
	EventMessage = "message"
	EventTyping  = "typing"
)
