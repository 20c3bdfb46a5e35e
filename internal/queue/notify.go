package queue

import (
	"encoding/json"
	"fmt"
)

// MatchNotice is delivered to the non-initiating party of a match on its
// queue.matched.<session_id> subject. The recipient takes the answerer role;
// the initiator already assumed the offerer role inside the match
// transaction. The role asymmetry must hold exactly once per match —
// duplicate offer creation causes renegotiation storms.
type MatchNotice struct {
	RoomID       string `json:"room_id"`
	PartnerID    string `json:"partner_id"`
	PartnerAlias string `json:"partner_alias"`
	Role         string `json:"role"` // offerer | answerer
}

// Encode marshals the notice for the wire.
func (n *MatchNotice) Encode() ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal match notice: %w", err)
	}
	return data, nil
}

// DecodeNotice parses a wire match notice.
func DecodeNotice(data []byte) (*MatchNotice, error) {
	var n MatchNotice
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("queue: unmarshal match notice: %w", err)
	}
	return &n, nil
}
