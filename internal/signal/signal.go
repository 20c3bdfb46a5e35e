// Package signal relays the connection-negotiation messages (offer, answer,
// candidate) exchanged while two matched clients establish a direct peer
// link. The payloads are opaque to this layer — codec and transport details
// belong to the peer-link implementation — the relay only guarantees
// in-order delivery per sender, at-most-once processing of offers and
// answers, and buffering of messages that arrive before the local peer link
// is ready to accept them.
package signal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types carried on a room's signaling channel.
const (
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
)

// Envelope is one negotiation message on a room's signaling channel.
// Attempt numbers a connection-negotiation cycle; a restart bumps it so
// stale messages from an abandoned cycle can be recognized and dropped.
type Envelope struct {
	Type    string          `json:"type"` // offer | answer | candidate
	From    string          `json:"from"` // sender's session ID
	Attempt int             `json:"attempt"`
	Payload json.RawMessage `json:"payload"`
	Ts      int64           `json:"ts"`
}

// Encode marshals the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("signal: marshal %s: %w", e.Type, err)
	}
	return data, nil
}

// Decode parses a wire envelope.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("signal: unmarshal: %w", err)
	}
	if e.Type != TypeOffer && e.Type != TypeAnswer && e.Type != TypeCandidate {
		return nil, fmt.Errorf("signal: unknown message type %q", e.Type)
	}
	return &e, nil
}

// NewEnvelope builds an envelope stamped with the current time.
func NewEnvelope(msgType, from string, attempt int, payload json.RawMessage) *Envelope {
	return &Envelope{
		Type:    msgType,
		From:    from,
		Attempt: attempt,
		Payload: payload,
		Ts:      time.Now().UnixMilli(),
	}
}
